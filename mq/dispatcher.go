package mq

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"survey-management-backend/models"
)

// Dispatcher persists notification rows and hands them to the queue. When no
// queue transport is available it delivers synchronously through the Mailer,
// so lifecycle workflows behave the same either way. Enqueue and delivery
// failures are recorded on the row and never propagated to the caller's
// transaction.
type Dispatcher struct {
	db      *gorm.DB
	adapter *MQAdapter
	mailer  Mailer
}

var defaultDispatcher *Dispatcher

// InitDispatcher builds the process-wide dispatcher. A nil adapter (or an
// uninitialized one) switches the dispatcher to synchronous delivery.
func InitDispatcher(db *gorm.DB, adapter *MQAdapter, mailer Mailer) *Dispatcher {
	if mailer == nil {
		mailer = LogMailer{}
	}
	d := &Dispatcher{db: db, adapter: adapter, mailer: mailer}
	defaultDispatcher = d

	if adapter != nil && adapter.IsInitialized() {
		if err := adapter.RegisterHandler(d.deliver); err != nil {
			log.Printf("notification consumer registration failed, using synchronous delivery: %v", err)
			d.adapter = nil
		}
	}
	return d
}

// GetDispatcher returns the process-wide dispatcher, or nil before init.
func GetDispatcher() *Dispatcher {
	return defaultDispatcher
}

// Dispatch records the notification and queues it for delivery. The returned
// row always exists in the database by the time this returns; its status
// reflects how far delivery got.
func (d *Dispatcher) Dispatch(surveyID uint, typ models.NotificationType, recipient, subject, body string) (*models.Notification, error) {
	row := &models.Notification{
		SurveyID:  surveyID,
		Type:      typ,
		Recipient: recipient,
		Status:    models.NotificationQueued,
	}
	if err := d.db.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to record notification: %w", err)
	}

	msg := NotificationMessage{
		NotificationID: row.ID,
		SurveyID:       surveyID,
		Type:           string(typ),
		Recipient:      recipient,
		Subject:        subject,
		Body:           body,
		Timestamp:      time.Now().Unix(),
		MessageID:      newMessageID(row.ID),
	}

	if d.adapter != nil && d.adapter.IsInitialized() {
		if err := d.adapter.SendNotification(msg); err == nil {
			return row, nil
		} else {
			log.Printf("enqueue failed for notification %d, delivering synchronously: %v", row.ID, err)
		}
	}

	// Synchronous fallback. Delivery outcome lands on the row; the caller's
	// workflow proceeds regardless.
	if err := d.deliver(msg); err != nil {
		log.Printf("synchronous delivery failed for notification %d: %v", row.ID, err)
	}
	d.db.First(row, row.ID)
	return row, nil
}

// deliver is the queue consumer callback: send the mail, mark the row.
func (d *Dispatcher) deliver(msg NotificationMessage) error {
	sendErr := d.mailer.Send(msg.Recipient, msg.Subject, msg.Body)

	updates := map[string]interface{}{}
	if sendErr != nil {
		updates["status"] = models.NotificationFailed
		updates["error"] = sendErr.Error()
	} else {
		now := time.Now()
		updates["status"] = models.NotificationSent
		updates["sent_at"] = &now
		updates["error"] = ""
	}

	if err := d.db.Model(&models.Notification{}).
		Where("id = ?", msg.NotificationID).
		Updates(updates).Error; err != nil {
		log.Printf("failed to update notification %d: %v", msg.NotificationID, err)
	}
	return sendErr
}

// RetryFailed re-sends every failed notification for a survey through the
// Mailer and returns how many were retried.
func (d *Dispatcher) RetryFailed(surveyID uint) (int, error) {
	var rows []models.Notification
	if err := d.db.Where("survey_id = ? AND status = ?", surveyID, models.NotificationFailed).
		Find(&rows).Error; err != nil {
		return 0, err
	}

	for _, row := range rows {
		msg := NotificationMessage{
			NotificationID: row.ID,
			SurveyID:       row.SurveyID,
			Type:           string(row.Type),
			Recipient:      row.Recipient,
			Subject:        subjectFor(row.Type),
			Timestamp:      time.Now().Unix(),
			MessageID:      newMessageID(row.ID),
		}
		if err := d.deliver(msg); err != nil {
			log.Printf("retry failed for notification %d: %v", row.ID, err)
		}
	}
	return len(rows), nil
}

func subjectFor(typ models.NotificationType) string {
	switch typ {
	case models.NotifyConsentRequest:
		return "Survey consent request"
	case models.NotifySurveyAvailable:
		return "A survey is now available"
	case models.NotifySurveyInvite:
		return "You are invited to a survey"
	case models.NotifyManagerSummary:
		return "Survey results summary"
	default:
		return "Survey notification"
	}
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// NotificationType of an outbound message.
type NotificationType string

const (
	NotifyConsentRequest  NotificationType = "consent_request"
	NotifySurveyAvailable NotificationType = "survey_available"
	NotifySurveyInvite    NotificationType = "survey_invite"
	NotifyManagerSummary  NotificationType = "manager_summary"
)

// NotificationStatus tracks delivery progress.
type NotificationStatus string

const (
	NotificationQueued NotificationStatus = "queued"
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// Notification records one lifecycle-triggered message. Delivery failures
// never roll back the state change that produced the notification; the row
// simply ends up failed for later inspection or retry.
type Notification struct {
	gorm.Model
	SurveyID  uint               `gorm:"not null;index" json:"survey_id"`
	Type      NotificationType   `gorm:"not null" json:"type"`
	Recipient string             `gorm:"not null" json:"recipient"`
	Status    NotificationStatus `gorm:"not null;default:queued;index" json:"status"`
	Error     string             `json:"error,omitempty"`
	SentAt    *time.Time         `json:"sent_at,omitempty"`
}

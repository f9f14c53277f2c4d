package mq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"survey-management-backend/models"
)

type recordingMailer struct {
	sent []string
	fail bool
}

func (m *recordingMailer) Send(to, subject, body string) error {
	if m.fail {
		return errors.New("smtp unreachable")
	}
	m.sent = append(m.sent, to)
	return nil
}

func newDispatcherTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestDispatch_SynchronousDelivery(t *testing.T) {
	db := newDispatcherTestDB(t)
	mailer := &recordingMailer{}
	d := InitDispatcher(db, nil, mailer)

	row, err := d.Dispatch(1, models.NotifyConsentRequest, "alice@example.com", "subject", "body")
	assert.NoError(t, err)
	assert.Equal(t, models.NotificationSent, row.Status)
	assert.NotNil(t, row.SentAt)
	assert.Equal(t, []string{"alice@example.com"}, mailer.sent)
}

func TestDispatch_FailureLandsOnRow(t *testing.T) {
	db := newDispatcherTestDB(t)
	mailer := &recordingMailer{fail: true}
	d := InitDispatcher(db, nil, mailer)

	// The send fails but Dispatch does not error; the row records it.
	row, err := d.Dispatch(1, models.NotifySurveyInvite, "bob@example.com", "subject", "body")
	assert.NoError(t, err)
	assert.Equal(t, models.NotificationFailed, row.Status)
	assert.Contains(t, row.Error, "smtp unreachable")
}

func TestRetryFailed(t *testing.T) {
	db := newDispatcherTestDB(t)
	mailer := &recordingMailer{fail: true}
	d := InitDispatcher(db, nil, mailer)

	d.Dispatch(7, models.NotifySurveyInvite, "bob@example.com", "subject", "body")
	d.Dispatch(7, models.NotifySurveyInvite, "carol@example.com", "subject", "body")

	// The mailer recovers; both failed rows are retried and flip to sent.
	mailer.fail = false
	retried, err := d.RetryFailed(7)
	assert.NoError(t, err)
	assert.Equal(t, 2, retried)

	var failed int64
	db.Model(&models.Notification{}).Where("status = ?", models.NotificationFailed).Count(&failed)
	assert.Zero(t, failed)

	var sent int64
	db.Model(&models.Notification{}).Where("status = ?", models.NotificationSent).Count(&sent)
	assert.EqualValues(t, 2, sent)
}

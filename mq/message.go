package mq

import (
	"fmt"

	"github.com/google/uuid"
)

// NotificationMessage is the wire format for queued notifications. The
// NotificationID points back at the persisted row so the consumer can mark
// delivery outcome.
type NotificationMessage struct {
	NotificationID uint   `json:"notification_id"`
	SurveyID       uint   `json:"survey_id"`
	Type           string `json:"type"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"timestamp"`
	MessageID      string `json:"message_id"` // idempotency handle
}

// newMessageID mints a unique queue message ID.
func newMessageID(notificationID uint) string {
	return fmt.Sprintf("notify_%d_%s", notificationID, uuid.NewString())
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// ConsentRecord tracks one user's data-linkage decision for one survey.
// The decision is write-once: once ConsentGiven is non-nil it can never be
// changed, and decisions are only accepted while the survey has not been
// published yet (the consent window).
type ConsentRecord struct {
	gorm.Model
	UserID       uint       `gorm:"not null;uniqueIndex:idx_consent_user_survey" json:"user_id"`
	SurveyID     uint       `gorm:"not null;uniqueIndex:idx_consent_user_survey" json:"survey_id"`
	ConsentGiven *bool      `json:"consent_given"` // nil = pending
	ConsentToken string     `gorm:"not null;uniqueIndex" json:"-"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	EmailSentAt  *time.Time `json:"email_sent_at,omitempty"`
}

// Decided reports whether the record already carries a decision.
func (c *ConsentRecord) Decided() bool {
	return c.ConsentGiven != nil
}

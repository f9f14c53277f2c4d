package models

import (
	"time"

	"gorm.io/gorm"
)

// SurveyAttempt is one participation session. Exactly one of UserID,
// AccessTokenID or AnonymousID identifies the participant. An attempt that
// never completes simply stays open; there is no abandoned state.
type SurveyAttempt struct {
	gorm.Model
	SurveyID      uint       `gorm:"not null;index" json:"survey_id"`
	UserID        *uint      `gorm:"index" json:"user_id,omitempty"`
	AccessTokenID *uint      `gorm:"index" json:"access_token_id,omitempty"`
	AnonymousID   *string    `gorm:"index" json:"anonymous_id,omitempty"`
	Anonymous     bool       `gorm:"default:false" json:"anonymous"`
	StartedAt     time.Time  `gorm:"not null" json:"started_at"`
	Completed     bool       `gorm:"default:false;index" json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

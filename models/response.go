package models

import (
	"time"

	"gorm.io/gorm"
)

// SurveyResponse is one answered question. Authenticated rows are unique per
// (survey, question, user); a resubmission updates in place. Anonymous and
// token rows carry no such constraint; de-duplication for those paths is
// best-effort at the application layer to preserve anonymity.
type SurveyResponse struct {
	gorm.Model
	SurveyID       uint      `gorm:"not null;uniqueIndex:idx_resp_survey_question_user" json:"survey_id"`
	QuestionID     uint      `gorm:"not null;uniqueIndex:idx_resp_survey_question_user" json:"question_id"`
	UserID         *uint     `gorm:"uniqueIndex:idx_resp_survey_question_user" json:"user_id,omitempty"`
	AttemptID      *uint     `gorm:"index" json:"attempt_id,omitempty"`
	AccessTokenID  *uint     `gorm:"index" json:"access_token_id,omitempty"`
	AnonymousID    *string   `gorm:"index" json:"anonymous_id,omitempty"`
	SelectedOption string    `gorm:"not null" json:"selected_option"`
	HasConsent     bool      `gorm:"default:false" json:"has_consent"`
	SubmittedAt    time.Time `gorm:"not null" json:"submitted_at"`
}

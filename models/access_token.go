package models

import (
	"time"

	"gorm.io/gorm"
)

// TokenStatus of a survey access token. active -> used is irreversible and
// happens exactly once, on the first completed submission. active -> expired
// happens lazily when validation sees the expiry has passed.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenUsed    TokenStatus = "used"
	TokenExpired TokenStatus = "expired"
)

// SurveyAccessToken is a single-use credential letting one employee take one
// survey without logging in. At most one token exists per (survey, employee).
type SurveyAccessToken struct {
	gorm.Model
	SurveyID      uint        `gorm:"not null;uniqueIndex:idx_token_survey_employee" json:"survey_id"`
	EmployeeEmail string      `gorm:"not null;uniqueIndex:idx_token_survey_employee" json:"employee_email"`
	EmployeeName  string      `json:"employee_name"`
	Token         string      `gorm:"not null;uniqueIndex" json:"token"`
	Status        TokenStatus `gorm:"not null;default:active;index" json:"status"`
	ExpiresAt     time.Time   `gorm:"not null" json:"expires_at"`

	// Usage metadata, updated on each validation.
	AccessCount   int        `gorm:"default:0" json:"access_count"`
	FirstAccessAt *time.Time `json:"first_access_at,omitempty"`
	LastAccessAt  *time.Time `json:"last_access_at,omitempty"`
	RequestIP     string     `json:"request_ip,omitempty"`
	RequestUA     string     `json:"request_ua,omitempty"`

	UsedAt          *time.Time `json:"used_at,omitempty"`
	ResponseBatchID *uint      `json:"response_batch_id,omitempty"` // attempt that consumed the token
}

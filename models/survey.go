package models

import (
	"time"

	"gorm.io/gorm"
)

// SurveyStatus is the persisted workflow stage of a survey. It advances
// through admin action or the reconciliation sweep and never regresses.
type SurveyStatus string

const (
	StatusDraft          SurveyStatus = "draft"
	StatusPendingConsent SurveyStatus = "pending_consent"
	StatusActive         SurveyStatus = "active"
	StatusCompleted      SurveyStatus = "completed"
	StatusClosed         SurveyStatus = "closed"
)

// statusRank orders the workflow stages; transitions may only move forward.
var statusRank = map[SurveyStatus]int{
	StatusDraft:          0,
	StatusPendingConsent: 1,
	StatusActive:         2,
	StatusCompleted:      3,
	StatusClosed:         4,
}

// CanTransitionTo reports whether moving from s to next is a forward step.
func (s SurveyStatus) CanTransitionTo(next SurveyStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// CurrentStatus is the time-derived availability of a survey, independent of
// the persisted workflow status. The two can disagree for the short window
// between a date boundary and the next reconciliation sweep.
type CurrentStatus string

const (
	CurrentUpcoming CurrentStatus = "upcoming"
	CurrentActive   CurrentStatus = "active"
	CurrentClosed   CurrentStatus = "closed"
)

// Survey represents one survey targeted at a department or an explicit set
// of employees.
type Survey struct {
	gorm.Model
	Name         string       `gorm:"not null" json:"name"`
	Description  string       `gorm:"type:text" json:"description"`
	PublishDate  time.Time    `gorm:"not null" json:"publish_date"`
	DurationDays int          `gorm:"not null" json:"duration_days"`
	Department   string       `gorm:"index" json:"department"`
	Status       SurveyStatus `gorm:"not null;default:draft;index" json:"status"`
	CreatorID    uint         `gorm:"not null;index" json:"creator_id"`
	Questions    []Question   `gorm:"foreignKey:SurveyID" json:"questions,omitempty"`
}

// EndDate is always PublishDate + DurationDays; it is derived, never stored.
func (s *Survey) EndDate() time.Time {
	return s.PublishDate.AddDate(0, 0, s.DurationDays)
}

// CurrentStatus computes the live window state from the clock alone.
func (s *Survey) CurrentStatus(now time.Time) CurrentStatus {
	if now.Before(s.PublishDate) {
		return CurrentUpcoming
	}
	if now.After(s.EndDate()) {
		return CurrentClosed
	}
	return CurrentActive
}

// InLiveWindow reports whether participation is open at the given instant.
// Callers must use this rather than the persisted Status so participation
// timing does not depend on how recently the sweep ran.
func (s *Survey) InLiveWindow(now time.Time) bool {
	return !now.Before(s.PublishDate) && !now.After(s.EndDate())
}

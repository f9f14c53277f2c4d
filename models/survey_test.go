package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransitionTo(StatusPendingConsent))
	assert.True(t, StatusDraft.CanTransitionTo(StatusActive))
	assert.True(t, StatusPendingConsent.CanTransitionTo(StatusActive))
	assert.True(t, StatusActive.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusCompleted.CanTransitionTo(StatusClosed))

	// No regressions, no self-transitions.
	assert.False(t, StatusActive.CanTransitionTo(StatusActive))
	assert.False(t, StatusActive.CanTransitionTo(StatusPendingConsent))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusActive))
	assert.False(t, StatusClosed.CanTransitionTo(StatusDraft))

	assert.False(t, SurveyStatus("bogus").CanTransitionTo(StatusActive))
	assert.False(t, StatusDraft.CanTransitionTo(SurveyStatus("bogus")))
}

func TestSurveyDerivedWindow(t *testing.T) {
	publish := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := Survey{PublishDate: publish, DurationDays: 7}

	assert.True(t, s.EndDate().Equal(publish.AddDate(0, 0, 7)))

	assert.Equal(t, CurrentUpcoming, s.CurrentStatus(publish.Add(-time.Second)))
	assert.Equal(t, CurrentActive, s.CurrentStatus(publish))
	assert.Equal(t, CurrentActive, s.CurrentStatus(s.EndDate()))
	assert.Equal(t, CurrentClosed, s.CurrentStatus(s.EndDate().Add(time.Second)))

	assert.False(t, s.InLiveWindow(publish.Add(-time.Second)))
	assert.True(t, s.InLiveWindow(publish))
	assert.True(t, s.InLiveWindow(s.EndDate()))
	assert.False(t, s.InLiveWindow(s.EndDate().Add(time.Second)))
}

func TestQuestionHasOption(t *testing.T) {
	q := Question{Options: []QuestionOption{{Text: "Good"}, {Text: "Bad"}}}
	assert.True(t, q.HasOption("Good"))
	assert.False(t, q.HasOption("good"))
	assert.False(t, q.HasOption("Unknown"))
}

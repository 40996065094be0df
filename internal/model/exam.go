package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamDefinition is the static configuration an attempt is drawn from.
// It is treated as immutable while attempts reference it.
type ExamDefinition struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	DurationMinutes    int       `json:"duration_minutes"`
	QuestionsToDisplay int       `json:"questions_to_display"`
	RandomizeOrder     bool      `json:"randomize_order"`
	TotalMarks         int       `json:"total_marks"`
	Active             bool      `json:"active"`
	// AvailableFrom and AvailableUntil bound when new attempts may start.
	AvailableFrom          *time.Time `json:"available_from,omitempty"`
	AvailableUntil         *time.Time `json:"available_until,omitempty"`
	ShowResultsImmediately bool       `json:"show_results_immediately"`
	CreatedAt              time.Time  `json:"created_at"`
}

// Duration returns the time allowed for one attempt.
func (e *ExamDefinition) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// OpenAt reports whether a new attempt may be started at t.
func (e *ExamDefinition) OpenAt(t time.Time) bool {
	if !e.Active {
		return false
	}
	if e.AvailableFrom != nil && t.Before(*e.AvailableFrom) {
		return false
	}
	if e.AvailableUntil != nil && t.After(*e.AvailableUntil) {
		return false
	}
	return true
}

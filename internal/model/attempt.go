package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusTimeout    AttemptStatus = "TIMEOUT"
	AttemptStatusCancelled  AttemptStatus = "CANCELLED"
)

// Terminal reports whether no further answers or transitions are accepted.
func (s AttemptStatus) Terminal() bool {
	return s != AttemptStatusInProgress
}

// Attempt is one student's single session against one exam.
type Attempt struct {
	ID                  uuid.UUID     `json:"id"`
	StudentID           int           `json:"student_id"`
	ExamID              uuid.UUID     `json:"exam_id"`
	SelectedQuestionIDs []uuid.UUID   `json:"selected_question_ids"`
	StartTime           time.Time     `json:"start_time"`
	Status              AttemptStatus `json:"status"`
	EndTime             *time.Time    `json:"end_time,omitempty"`
	Score               int           `json:"score"`
	CorrectCount        int           `json:"correct_count"`
	TotalQuestions      int           `json:"total_questions"`
	TimeTakenMinutes    int           `json:"time_taken_minutes"`
}

// Deadline is the instant after which the attempt counts as expired.
func (a *Attempt) Deadline(d time.Duration) time.Time {
	return a.StartTime.Add(d)
}

// ExpiredAt reports whether more than d has elapsed since the start at t.
func (a *Attempt) ExpiredAt(t time.Time, d time.Duration) bool {
	return t.Sub(a.StartTime) > d
}

// HasQuestion reports whether id is part of the attempt's sample.
func (a *Attempt) HasQuestion(id uuid.UUID) bool {
	for _, qid := range a.SelectedQuestionIDs {
		if qid == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers may mutate it freely.
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.SelectedQuestionIDs = append([]uuid.UUID(nil), a.SelectedQuestionIDs...)
	if a.EndTime != nil {
		end := *a.EndTime
		c.EndTime = &end
	}
	return &c
}

// AttemptView is what an in-progress student sees when (re)loading the exam.
type AttemptView struct {
	AttemptID        uuid.UUID            `json:"attempt_id"`
	ExamID           uuid.UUID            `json:"exam_id"`
	Title            string               `json:"title"`
	Status           AttemptStatus        `json:"status"`
	Questions        []QuestionForStudent `json:"questions"`
	SavedAnswers     map[uuid.UUID]Option `json:"saved_answers"`
	StartTime        time.Time            `json:"start_time"`
	Deadline         time.Time            `json:"deadline"`
	RemainingSeconds float64              `json:"remaining_seconds"`
}

// AnswerReview is one line of a graded attempt.
type AnswerReview struct {
	QuestionID     uuid.UUID `json:"question_id"`
	QuestionText   string    `json:"question_text"`
	SelectedOption *Option   `json:"selected_option,omitempty"`
	CorrectOption  Option    `json:"correct_option"`
	IsCorrect      bool      `json:"is_correct"`
	Marks          int       `json:"marks"`
	Explanation    string    `json:"explanation,omitempty"`
}

// AttemptResult is the graded outcome of a terminal attempt.
type AttemptResult struct {
	AttemptID        uuid.UUID      `json:"attempt_id"`
	StudentID        int            `json:"student_id"`
	ExamID           uuid.UUID      `json:"exam_id"`
	ExamTitle        string         `json:"exam_title"`
	Status           AttemptStatus  `json:"status"`
	Score            int            `json:"score"`
	CorrectCount     int            `json:"correct_count"`
	TotalQuestions   int            `json:"total_questions"`
	TotalMarks       int            `json:"total_marks"`
	Percentage       float64        `json:"percentage"`
	DurationMinutes  int            `json:"duration_minutes"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          *time.Time     `json:"end_time,omitempty"`
	TimeTakenMinutes int            `json:"time_taken_minutes"`
	Review           []AnswerReview `json:"review,omitempty"`
}

// AttemptSummary is the admin listing row for one attempt.
type AttemptSummary struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	StudentID        int           `json:"student_id"`
	Status           AttemptStatus `json:"status"`
	Score            int           `json:"score"`
	CorrectCount     int           `json:"correct_count"`
	TotalQuestions   int           `json:"total_questions"`
	AnsweredCount    int           `json:"answered_count"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	TimeTakenMinutes int           `json:"time_taken_minutes"`
}

// AttemptEventType names a lifecycle event published to the exam monitor.
type AttemptEventType string

const (
	AttemptEventStarted   AttemptEventType = "attempt_started"
	AttemptEventCompleted AttemptEventType = "attempt_completed"
	AttemptEventTimeout   AttemptEventType = "attempt_timeout"
	AttemptEventCancelled AttemptEventType = "attempt_cancelled"
)

// AttemptEvent is the monitor payload for a lifecycle change.
type AttemptEvent struct {
	Type      AttemptEventType `json:"type"`
	AttemptID uuid.UUID        `json:"attempt_id"`
	ExamID    uuid.UUID        `json:"exam_id"`
	StudentID int              `json:"student_id"`
	Status    AttemptStatus    `json:"status"`
	Score     int              `json:"score"`
	At        time.Time        `json:"at"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the single recorded choice for one (attempt, question) pair.
// IsCorrect is always derived server-side from the question's answer key.
type Answer struct {
	AttemptID      uuid.UUID `json:"attempt_id"`
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedOption Option    `json:"selected_option"`
	IsCorrect      bool      `json:"-"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// RecordAnswerRequest is the payload for saving one answer.
// Any client-side correctness flag is accepted by the decoder and ignored.
type RecordAnswerRequest struct {
	QuestionID     string `json:"question_id" binding:"required,uuid"`
	SelectedOption string `json:"selected_option" binding:"required,option"`
	IsCorrect      *bool  `json:"is_correct,omitempty"`
}

// SubmitAttemptRequest is the payload for the final submission.
// Keys are question ids, values option tags.
type SubmitAttemptRequest struct {
	Answers map[string]string `json:"answers"`
}

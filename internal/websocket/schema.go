package websocket

import "github.com/stemsi/exstem-cbt/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionSubmit Action = "submit"
	ActionState  Action = "state"
	ActionPing   Action = "ping"
)

// Request is every client message. Fields beyond Action depend on the action.
type Request struct {
	Action Action `json:"action"`

	// answer
	QuestionID     string `json:"question_id,omitempty"`
	SelectedOption string `json:"selected_option,omitempty"`

	// submit: question id → option
	Answers map[string]string `json:"answers,omitempty"`
}

// AnswerRequest is the validated form of an answer action.
type AnswerRequest struct {
	QuestionID     string `json:"question_id" binding:"required,uuid"`
	SelectedOption string `json:"selected_option" binding:"required,option"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError       Event = "error"
	EventAnswerSaved Event = "answer_saved"
	EventGraded      Event = "graded"
	EventState       Event = "state"
	EventExpired     Event = "expired"
	EventPong        Event = "pong"
)

type AnswerSavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type GradedResponse struct {
	Event  Event                `json:"event"`
	Result *model.AttemptResult `json:"result"`
}

type StateResponse struct {
	Event Event              `json:"event"`
	View  *model.AttemptView `json:"view"`
}

type ExpiredResponse struct {
	Event     Event  `json:"event"`
	AttemptID string `json:"attempt_id"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

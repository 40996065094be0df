package service

import "errors"

// Attempt engine errors. Stores return these too, so callers can match with
// errors.Is regardless of the storage driver.
var (
	// ErrDuplicateAttempt: the student already has an attempt for the exam.
	ErrDuplicateAttempt = errors.New("attempt already exists for this student and exam")
	// ErrNotAuthorized: the student is not enrolled for the exam.
	ErrNotAuthorized = errors.New("student is not enrolled for this exam")
	// ErrInsufficientPool is a configuration error: the exam has no questions.
	ErrInsufficientPool = errors.New("exam question pool is empty")
	// ErrExpired: the attempt ran out of time. Clients should redirect to results.
	ErrExpired = errors.New("attempt time has expired")
	// ErrNotInProgress: the attempt is already completed or cancelled.
	ErrNotInProgress = errors.New("attempt is not in progress")
	// ErrQuestionNotInAttempt: the question is not part of the attempt's sample.
	ErrQuestionNotInAttempt = errors.New("question is not part of this attempt")

	ErrAttemptNotFound = errors.New("attempt not found")
	ErrWrongOwner      = errors.New("attempt belongs to another student")
	ErrExamNotFound    = errors.New("exam not found")
	ErrExamNotActive   = errors.New("exam is not available")
	ErrQuestionMissing = errors.New("question not found")
	ErrInvalidOption   = errors.New("selected option must be one of A, B, C, D")
	ErrResultNotReady  = errors.New("attempt is still in progress")
)

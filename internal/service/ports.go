package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ExamStore is read-only access to exam definitions and their question pools.
type ExamStore interface {
	// GetExam returns ErrExamNotFound for unknown ids.
	GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	// ListPool returns the ids of the exam's current question pool.
	ListPool(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error)
	// GetQuestions returns the requested questions in the order asked.
	// A missing id yields ErrQuestionMissing.
	GetQuestions(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
}

// FreshExamReader is implemented by ExamStores that serve cached definitions.
// GetExamFresh skips the cache so activation changes apply immediately.
type FreshExamReader interface {
	GetExamFresh(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// AttemptStore persists attempts and their answer ledger.
type AttemptStore interface {
	// Create inserts a new attempt. A second attempt for the same
	// (student, exam) pair fails with ErrDuplicateAttempt and leaves the
	// stored one untouched.
	Create(ctx context.Context, a *model.Attempt) error
	// Get returns ErrAttemptNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AttemptSummary, error)
	// Lock runs fn with exclusive access to the attempt. Everything fn writes
	// through the AttemptTx commits atomically when fn returns nil and is
	// discarded otherwise.
	Lock(ctx context.Context, id uuid.UUID, fn func(tx AttemptTx) error) error
}

// AttemptTx is the write side of a locked attempt.
type AttemptTx interface {
	// Attempt is the row as read under the lock.
	Attempt() *model.Attempt
	// UpsertAnswer creates or overwrites the answer. It fails with
	// ErrNotInProgress unless the stored status is still IN_PROGRESS.
	UpsertAnswer(ctx context.Context, ans model.Answer) error
	// Answers lists the ledger including writes staged in this transaction.
	Answers(ctx context.Context) ([]model.Answer, error)
	// Finish writes the terminal fields of a. It is a compare-and-set on
	// IN_PROGRESS and fails with ErrNotInProgress if the status moved.
	Finish(ctx context.Context, a *model.Attempt) error
}

// EnrollmentChecker is the course-management collaborator.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, studentID int, examID uuid.UUID) (bool, error)
}

// ResultNotifier receives each graded attempt exactly once.
type ResultNotifier interface {
	Notify(ctx context.Context, result *model.AttemptResult) error
}

// EventPublisher fans attempt lifecycle changes out to live monitors.
type EventPublisher interface {
	Publish(ctx context.Context, event model.AttemptEvent) error
}

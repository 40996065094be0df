package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const attemptColumns = `id, student_id, exam_id, selected_question_ids, start_time, status,
	end_time, score, correct_count, total_questions, time_taken_minutes`

// AttemptRepository stores attempts and their answers in PostgreSQL.
// Every mutation goes through Lock, which holds the attempt row with
// SELECT ... FOR UPDATE for the duration of the callback.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt. The (student_id, exam_id) unique constraint
// makes a concurrent second start fail instead of creating a twin.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, student_id, exam_id, selected_question_ids, start_time, status, total_questions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (student_id, exam_id) DO NOTHING
		 RETURNING id`,
		a.ID, a.StudentID, a.ExamID, a.SelectedQuestionIDs, a.StartTime, a.Status, a.TotalQuestions,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.ErrDuplicateAttempt
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrDuplicateAttempt
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Get retrieves an attempt by id.
func (r *AttemptRepository) Get(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// ListAnswers returns the recorded answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	return queryAnswers(ctx, r.pool, attemptID)
}

// ListByExam returns one summary row per attempt of the exam, newest first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AttemptSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, a.status, a.score, a.correct_count, a.total_questions,
		        COUNT(aa.question_id), a.start_time, a.end_time, a.time_taken_minutes
		 FROM attempts a
		 LEFT JOIN attempt_answers aa ON aa.attempt_id = a.id
		 WHERE a.exam_id = $1
		 GROUP BY a.id
		 ORDER BY a.start_time DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []model.AttemptSummary{}
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.AttemptID, &s.StudentID, &s.Status, &s.Score, &s.CorrectCount,
			&s.TotalQuestions, &s.AnsweredCount, &s.StartTime, &s.EndTime, &s.TimeTakenMinutes); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Lock runs fn inside a transaction holding the attempt row lock.
// The transaction commits only when fn returns nil.
func (r *AttemptRepository) Lock(ctx context.Context, id uuid.UUID, fn func(tx service.AttemptTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := scanAttempt(tx.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return service.ErrAttemptNotFound
			}
			return fmt.Errorf("lock attempt: %w", err)
		}
		return fn(&attemptTx{tx: tx, attempt: a})
	})
}

type attemptTx struct {
	tx      pgx.Tx
	attempt *model.Attempt
}

func (t *attemptTx) Attempt() *model.Attempt {
	return t.attempt.Clone()
}

// UpsertAnswer only writes while the attempt is still IN_PROGRESS.
func (t *attemptTx) UpsertAnswer(ctx context.Context, ans model.Answer) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option, is_correct, answered_at)
		 SELECT $1::uuid, $2::uuid, $3::text, $4::boolean, $5::timestamptz
		 WHERE EXISTS (SELECT 1 FROM attempts WHERE id = $1::uuid AND status = 'IN_PROGRESS')
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option = EXCLUDED.selected_option,
		     is_correct      = EXCLUDED.is_correct,
		     answered_at     = EXCLUDED.answered_at`,
		ans.AttemptID, ans.QuestionID, string(ans.SelectedOption), ans.IsCorrect, ans.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotInProgress
	}
	return nil
}

func (t *attemptTx) Answers(ctx context.Context) ([]model.Answer, error) {
	return queryAnswers(ctx, t.tx, t.attempt.ID)
}

// Finish is a compare-and-set on IN_PROGRESS.
func (t *attemptTx) Finish(ctx context.Context, a *model.Attempt) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, end_time = $3, score = $4, correct_count = $5,
		     total_questions = $6, time_taken_minutes = $7
		 WHERE id = $1 AND status = 'IN_PROGRESS'`,
		a.ID, a.Status, a.EndTime, a.Score, a.CorrectCount, a.TotalQuestions, a.TimeTakenMinutes,
	)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotInProgress
	}
	t.attempt = a.Clone()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryAnswers(ctx context.Context, q querier, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := q.Query(ctx,
		`SELECT attempt_id, question_id, selected_option, is_correct, answered_at
		 FROM attempt_answers
		 WHERE attempt_id = $1
		 ORDER BY answered_at, question_id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.SelectedOption, &a.IsCorrect, &a.AnsweredAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.StudentID, &a.ExamID, &a.SelectedQuestionIDs, &a.StartTime, &a.Status,
		&a.EndTime, &a.Score, &a.CorrectCount, &a.TotalQuestions, &a.TimeTakenMinutes)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Package memory holds an in-process implementation of the attempt engine's
// storage ports. It backs STORAGE_DRIVER=memory and the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

type studentExam struct {
	studentID int
	examID    uuid.UUID
}

// Store keeps exams, enrollments, attempts and answers in maps.
// Writes to one attempt are serialized by a per-attempt mutex held for the
// whole Lock callback, mirroring a row lock.
type Store struct {
	mu         sync.RWMutex
	exams      map[uuid.UUID]*model.ExamDefinition
	pools      map[uuid.UUID][]uuid.UUID
	questions  map[uuid.UUID]model.Question
	enrolled   map[studentExam]bool
	attempts   map[uuid.UUID]*model.Attempt
	byPair     map[studentExam]uuid.UUID
	answers    map[uuid.UUID]map[uuid.UUID]model.Answer
	rowLocks   map[uuid.UUID]*sync.Mutex
	rowLocksMu sync.Mutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		exams:     make(map[uuid.UUID]*model.ExamDefinition),
		pools:     make(map[uuid.UUID][]uuid.UUID),
		questions: make(map[uuid.UUID]model.Question),
		enrolled:  make(map[studentExam]bool),
		attempts:  make(map[uuid.UUID]*model.Attempt),
		byPair:    make(map[studentExam]uuid.UUID),
		answers:   make(map[uuid.UUID]map[uuid.UUID]model.Answer),
		rowLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// PutExam stores an exam and replaces its question pool with questions.
func (s *Store) PutExam(exam model.ExamDefinition, questions ...model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := exam
	s.exams[exam.ID] = &e
	pool := make([]uuid.UUID, 0, len(questions))
	for _, q := range questions {
		s.questions[q.ID] = q
		pool = append(pool, q.ID)
	}
	s.pools[exam.ID] = pool
}

// RemoveFromPool drops a question from an exam's pool. The question itself
// stays readable for attempts that already sampled it.
func (s *Store) RemoveFromPool(examID, questionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := s.pools[examID][:0:0]
	for _, id := range s.pools[examID] {
		if id != questionID {
			pool = append(pool, id)
		}
	}
	s.pools[examID] = pool
}

// Enroll allows studentID to start examID.
func (s *Store) Enroll(studentID int, examID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrolled[studentExam{studentID, examID}] = true
}

func (s *Store) IsEnrolled(_ context.Context, studentID int, examID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enrolled[studentExam{studentID, examID}], nil
}

func (s *Store) GetExam(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.exams[examID]
	if !ok {
		return nil, service.ErrExamNotFound
	}
	c := *e
	return &c, nil
}

func (s *Store) ListPool(_ context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID{}, s.pools[examID]...), nil
}

func (s *Store) GetQuestions(_ context.Context, ids []uuid.UUID) ([]model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := s.questions[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", service.ErrQuestionMissing, id)
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := studentExam{a.StudentID, a.ExamID}
	if _, exists := s.byPair[pair]; exists {
		return service.ErrDuplicateAttempt
	}
	if _, exists := s.attempts[a.ID]; exists {
		return service.ErrDuplicateAttempt
	}
	s.attempts[a.ID] = a.Clone()
	s.byPair[pair] = a.ID
	s.answers[a.ID] = make(map[uuid.UUID]model.Answer)
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, service.ErrAttemptNotFound
	}
	return a.Clone(), nil
}

func (s *Store) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedAnswers(s.answers[attemptID]), nil
}

func (s *Store) ListByExam(_ context.Context, examID uuid.UUID) ([]model.AttemptSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.AttemptSummary{}
	for _, a := range s.attempts {
		if a.ExamID != examID {
			continue
		}
		var end = a.EndTime
		if end != nil {
			t := *end
			end = &t
		}
		out = append(out, model.AttemptSummary{
			AttemptID:        a.ID,
			StudentID:        a.StudentID,
			Status:           a.Status,
			Score:            a.Score,
			CorrectCount:     a.CorrectCount,
			TotalQuestions:   a.TotalQuestions,
			AnsweredCount:    len(s.answers[a.ID]),
			StartTime:        a.StartTime,
			EndTime:          end,
			TimeTakenMinutes: a.TimeTakenMinutes,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// Lock serializes fn against every other Lock on the same attempt. Staged
// writes become visible only when fn returns nil.
func (s *Store) Lock(ctx context.Context, id uuid.UUID, fn func(tx service.AttemptTx) error) error {
	row := s.rowLock(id)
	row.Lock()
	defer row.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	base, _ := s.ListAnswers(ctx, id)

	tx := &attemptTx{attempt: current, staged: make(map[uuid.UUID]model.Answer)}
	for _, a := range base {
		tx.staged[a.QuestionID] = a
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id] = tx.attempt.Clone()
	s.answers[id] = tx.staged
	return nil
}

func (s *Store) rowLock(id uuid.UUID) *sync.Mutex {
	s.rowLocksMu.Lock()
	defer s.rowLocksMu.Unlock()
	m, ok := s.rowLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[id] = m
	}
	return m
}

type attemptTx struct {
	attempt *model.Attempt
	staged  map[uuid.UUID]model.Answer
}

func (t *attemptTx) Attempt() *model.Attempt { return t.attempt.Clone() }

func (t *attemptTx) UpsertAnswer(_ context.Context, ans model.Answer) error {
	if t.attempt.Status != model.AttemptStatusInProgress {
		return service.ErrNotInProgress
	}
	t.staged[ans.QuestionID] = ans
	return nil
}

func (t *attemptTx) Answers(_ context.Context) ([]model.Answer, error) {
	return sortedAnswers(t.staged), nil
}

func (t *attemptTx) Finish(_ context.Context, a *model.Attempt) error {
	if t.attempt.Status != model.AttemptStatusInProgress {
		return service.ErrNotInProgress
	}
	t.attempt = a.Clone()
	return nil
}

func sortedAnswers(m map[uuid.UUID]model.Answer) []model.Answer {
	out := make([]model.Answer, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AnsweredAt.Equal(out[j].AnsweredAt) {
			return out[i].AnsweredAt.Before(out[j].AnsweredAt)
		}
		return out[i].QuestionID.String() < out[j].QuestionID.String()
	})
	return out
}

package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const defaultNotifyTimeout = 5 * time.Second

// AttemptService is the attempt state machine. It is the only writer of
// attempt and answer state.
type AttemptService struct {
	exams      ExamStore
	attempts   AttemptStore
	enrollment EnrollmentChecker
	notifier   ResultNotifier
	events     EventPublisher
	sampler    *Sampler
	metrics    *metrics.Metrics

	now           func() time.Time
	notifyTimeout time.Duration
	log           zerolog.Logger
}

// AttemptServiceOption customizes an AttemptService.
type AttemptServiceOption func(*AttemptService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AttemptServiceOption {
	return func(s *AttemptService) { s.now = now }
}

// WithEvents publishes lifecycle events to live monitors.
func WithEvents(p EventPublisher) AttemptServiceOption {
	return func(s *AttemptService) { s.events = p }
}

// WithMetrics counts attempt lifecycle events and rejections.
func WithMetrics(m *metrics.Metrics) AttemptServiceOption {
	return func(s *AttemptService) { s.metrics = m }
}

// WithNotifyTimeout bounds each hand-off to the ResultNotifier.
func WithNotifyTimeout(d time.Duration) AttemptServiceOption {
	return func(s *AttemptService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamStore,
	attempts AttemptStore,
	enrollment EnrollmentChecker,
	notifier ResultNotifier,
	sampler *Sampler,
	log zerolog.Logger,
	opts ...AttemptServiceOption,
) *AttemptService {
	if sampler == nil {
		sampler = NewSampler(nil)
	}
	s := &AttemptService{
		exams:         exams,
		attempts:      attempts,
		enrollment:    enrollment,
		notifier:      notifier,
		sampler:       sampler,
		now:           time.Now,
		notifyTimeout: defaultNotifyTimeout,
		log:           log.With().Str("component", "attempt_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current instant at the precision PostgreSQL stores.
func (s *AttemptService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// StartAttempt opens the one and only attempt a student gets for an exam.
func (s *AttemptService) StartAttempt(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	exam, err := s.startableExam(ctx, examID)
	if err != nil {
		return nil, s.fail(err)
	}

	now := s.clock()
	if !exam.OpenAt(now) {
		return nil, s.fail(ErrExamNotActive)
	}

	ok, err := s.enrollment.IsEnrolled(ctx, studentID, examID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !ok {
		return nil, s.fail(ErrNotAuthorized)
	}

	pool, err := s.exams.ListPool(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list question pool: %w", err)
	}
	selected, err := s.sampler.Sample(pool, exam.QuestionsToDisplay)
	if err != nil {
		s.log.Error().Str("exam_id", examID.String()).Msg("Exam has an empty question pool")
		return nil, s.fail(err)
	}

	attempt := &model.Attempt{
		ID:                  uuid.New(),
		StudentID:           studentID,
		ExamID:              examID,
		SelectedQuestionIDs: selected,
		StartTime:           now,
		Status:              model.AttemptStatusInProgress,
		TotalQuestions:      len(selected),
	}
	// The unique (student_id, exam_id) constraint is the only duplicate check.
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, s.fail(err)
	}

	s.metrics.AttemptStarted()
	s.publish(ctx, model.AttemptEventStarted, attempt)
	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Int("questions", len(selected)).
		Msg("Attempt started")
	return attempt, nil
}

// startableExam reads the exam past any cache; a deactivated exam must stop
// admitting new attempts at once.
func (s *AttemptService) startableExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	if fresh, ok := s.exams.(FreshExamReader); ok {
		return fresh.GetExamFresh(ctx, examID)
	}
	return s.exams.GetExam(ctx, examID)
}

// GetActiveView returns what the student needs to (re)render an in-progress attempt.
// The first observation past the deadline performs the timeout transition.
func (s *AttemptService) GetActiveView(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.AttemptView, error) {
	attempt, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	now := s.clock()
	if attempt.Status == model.AttemptStatusInProgress && attempt.ExpiredAt(now, exam.Duration()) {
		attempt, err = s.expire(ctx, exam, attemptID, now)
		if err != nil {
			return nil, err
		}
	}
	if err := statusError(attempt.Status); err != nil {
		return nil, s.fail(err)
	}

	ids := attempt.SelectedQuestionIDs
	if exam.RandomizeOrder {
		ids = s.sampler.Shuffle(ids)
	}
	questions, err := s.exams.GetQuestions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	answers, err := s.attempts.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	view := &model.AttemptView{
		AttemptID:    attempt.ID,
		ExamID:       exam.ID,
		Title:        exam.Title,
		Status:       attempt.Status,
		Questions:    make([]model.QuestionForStudent, 0, len(questions)),
		SavedAnswers: make(map[uuid.UUID]model.Option, len(answers)),
		StartTime:    attempt.StartTime.UTC(),
		Deadline:     attempt.Deadline(exam.Duration()).UTC(),
	}
	for i := range questions {
		view.Questions = append(view.Questions, questions[i].ForStudent())
	}
	for _, a := range answers {
		view.SavedAnswers[a.QuestionID] = a.SelectedOption
	}
	if remaining := exam.Duration() - now.Sub(attempt.StartTime); remaining > 0 {
		view.RemainingSeconds = remaining.Seconds()
	}
	return view, nil
}

// RecordAnswer upserts the student's choice for one question. Correctness is
// always derived from the answer key here; nothing the client says about it is used.
func (s *AttemptService) RecordAnswer(ctx context.Context, studentID int, attemptID, questionID uuid.UUID, selected model.Option) error {
	if !selected.Valid() {
		return s.fail(ErrInvalidOption)
	}
	attempt, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return err
	}
	exam, err := s.exams.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	var (
		now      = s.clock()
		outcome  error
		finished *model.AttemptResult
	)
	err = s.attempts.Lock(ctx, attemptID, func(tx AttemptTx) error {
		a := tx.Attempt()
		if a.Status == model.AttemptStatusInProgress && a.ExpiredAt(now, exam.Duration()) {
			res, err := s.timeoutLocked(ctx, tx, exam, now)
			if err != nil {
				return err
			}
			finished, outcome = res, ErrExpired
			return nil
		}
		if err := statusError(a.Status); err != nil {
			return err
		}
		if !a.HasQuestion(questionID) {
			return ErrQuestionNotInAttempt
		}

		qs, err := s.exams.GetQuestions(ctx, []uuid.UUID{questionID})
		if err != nil {
			return fmt.Errorf("get question: %w", err)
		}
		return tx.UpsertAnswer(ctx, model.Answer{
			AttemptID:      attemptID,
			QuestionID:     questionID,
			SelectedOption: selected,
			IsCorrect:      IsCorrect(&qs[0], selected),
			AnsweredAt:     now,
		})
	})
	if err == nil && finished != nil {
		s.afterFinish(ctx, finished)
	}
	if err != nil {
		if errors.Is(err, ErrQuestionNotInAttempt) {
			s.log.Warn().
				Str("attempt_id", attemptID.String()).
				Str("question_id", questionID.String()).
				Int("student_id", studentID).
				Msg("Answer for question outside the attempt rejected")
		}
		return s.fail(err)
	}
	if outcome != nil {
		return s.fail(outcome)
	}

	s.metrics.AnswerRecorded()
	return nil
}

// SubmitAttempt applies the final answers, grades the attempt and hands the
// result to the notifier. Of several racing submits exactly one grades; the
// rest, and any later call, get the stored result back. Only the call that
// itself observes the deadline passing gets ErrExpired; once the timeout is
// stored, submit returns the graded timeout result like any finished attempt.
func (s *AttemptService) SubmitAttempt(ctx context.Context, studentID int, attemptID uuid.UUID, finalAnswers map[uuid.UUID]model.Option) (*model.AttemptResult, error) {
	attempt, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	var (
		now      = s.clock()
		outcome  error
		result   *model.AttemptResult
		finished *model.AttemptResult
	)
	err = s.attempts.Lock(ctx, attemptID, func(tx AttemptTx) error {
		a := tx.Attempt()
		switch a.Status {
		case model.AttemptStatusCompleted, model.AttemptStatusTimeout:
			answers, err := tx.Answers(ctx)
			if err != nil {
				return fmt.Errorf("list answers: %w", err)
			}
			result, err = s.buildResult(ctx, exam, a, answers)
			return err
		case model.AttemptStatusCancelled:
			return ErrNotInProgress
		}

		if a.ExpiredAt(now, exam.Duration()) {
			res, err := s.timeoutLocked(ctx, tx, exam, now)
			if err != nil {
				return err
			}
			finished, outcome = res, ErrExpired
			return nil
		}

		questions, err := s.exams.GetQuestions(ctx, a.SelectedQuestionIDs)
		if err != nil {
			return fmt.Errorf("get questions: %w", err)
		}
		byID := make(map[uuid.UUID]*model.Question, len(questions))
		for i := range questions {
			byID[questions[i].ID] = &questions[i]
		}

		// Deterministic write order keeps lock acquisition on answer rows stable.
		ids := make([]uuid.UUID, 0, len(finalAnswers))
		for id := range finalAnswers {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		for _, qid := range ids {
			opt := finalAnswers[qid]
			q, ok := byID[qid]
			if !ok || !opt.Valid() {
				s.log.Warn().
					Str("attempt_id", attemptID.String()).
					Str("question_id", qid.String()).
					Str("selected_option", string(opt)).
					Msg("Skipping submitted answer")
				continue
			}
			if err := tx.UpsertAnswer(ctx, model.Answer{
				AttemptID:      attemptID,
				QuestionID:     qid,
				SelectedOption: opt,
				IsCorrect:      IsCorrect(q, opt),
				AnsweredAt:     now,
			}); err != nil {
				return fmt.Errorf("upsert answer: %w", err)
			}
		}

		answers, err := tx.Answers(ctx)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}
		grade := ScoreAttempt(questions, answers)

		done := a.Clone()
		done.Status = model.AttemptStatusCompleted
		done.EndTime = &now
		done.TimeTakenMinutes = int(math.Round(now.Sub(a.StartTime).Minutes()))
		done.Score = grade.Score
		done.CorrectCount = grade.CorrectCount
		done.TotalQuestions = grade.TotalQuestions
		if err := tx.Finish(ctx, done); err != nil {
			return fmt.Errorf("finish attempt: %w", err)
		}

		finished = s.resultFrom(exam, done, grade)
		result = finished
		return nil
	})
	if err == nil && finished != nil {
		s.afterFinish(ctx, finished)
	}
	if err != nil {
		return nil, s.fail(err)
	}
	if outcome != nil {
		return nil, s.fail(outcome)
	}
	return result, nil
}

// GetResult returns the graded outcome of a terminal attempt.
func (s *AttemptService) GetResult(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.AttemptResult, error) {
	attempt, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if attempt.Status == model.AttemptStatusInProgress {
		now := s.clock()
		if !attempt.ExpiredAt(now, exam.Duration()) {
			return nil, s.fail(ErrResultNotReady)
		}
		if attempt, err = s.expire(ctx, exam, attemptID, now); err != nil {
			return nil, err
		}
	}

	answers, err := s.attempts.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return s.buildResult(ctx, exam, attempt, answers)
}

// CancelAttempt is the administrative exit from InProgress. It never notifies.
func (s *AttemptService) CancelAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	var cancelled *model.Attempt
	now := s.clock()
	err := s.attempts.Lock(ctx, attemptID, func(tx AttemptTx) error {
		a := tx.Attempt()
		if a.Status.Terminal() {
			return ErrNotInProgress
		}
		done := a.Clone()
		done.Status = model.AttemptStatusCancelled
		done.EndTime = &now
		done.TimeTakenMinutes = int(math.Round(now.Sub(a.StartTime).Minutes()))
		if err := tx.Finish(ctx, done); err != nil {
			return fmt.Errorf("finish attempt: %w", err)
		}
		cancelled = done
		return nil
	})
	if err != nil {
		return nil, s.fail(err)
	}

	s.metrics.AttemptFinished(string(cancelled.Status))
	s.publish(ctx, model.AttemptEventCancelled, cancelled)
	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("student_id", cancelled.StudentID).
		Msg("Attempt cancelled")
	return cancelled, nil
}

// ListExamAttempts returns every attempt of an exam for the admin console.
func (s *AttemptService) ListExamAttempts(ctx context.Context, examID uuid.UUID) ([]model.AttemptSummary, error) {
	if _, err := s.exams.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.attempts.ListByExam(ctx, examID)
}

func (s *AttemptService) loadOwned(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("student_id", studentID).
			Msg("Access to another student's attempt denied")
		return nil, s.fail(ErrWrongOwner)
	}
	return a, nil
}

// expire performs the lazy timeout under the attempt lock and returns the
// attempt as it stands afterwards. A concurrent submit may have won the race,
// in which case the returned attempt is Completed.
func (s *AttemptService) expire(ctx context.Context, exam *model.ExamDefinition, attemptID uuid.UUID, now time.Time) (*model.Attempt, error) {
	var (
		current  *model.Attempt
		finished *model.AttemptResult
	)
	err := s.attempts.Lock(ctx, attemptID, func(tx AttemptTx) error {
		a := tx.Attempt()
		current = a.Clone()
		if a.Status != model.AttemptStatusInProgress || !a.ExpiredAt(now, exam.Duration()) {
			return nil
		}
		res, err := s.timeoutLocked(ctx, tx, exam, now)
		if err != nil {
			return err
		}
		finished = res
		current.Status = res.Status
		current.EndTime = res.EndTime
		current.Score = res.Score
		current.CorrectCount = res.CorrectCount
		current.TotalQuestions = res.TotalQuestions
		current.TimeTakenMinutes = res.TimeTakenMinutes
		return nil
	})
	if err != nil {
		return nil, err
	}
	if finished != nil {
		s.afterFinish(ctx, finished)
	}
	return current, nil
}

// timeoutLocked grades what was recorded and moves the attempt to Timeout.
// The attempt ends exactly at its deadline, however late it is observed.
func (s *AttemptService) timeoutLocked(ctx context.Context, tx AttemptTx, exam *model.ExamDefinition, now time.Time) (*model.AttemptResult, error) {
	a := tx.Attempt()
	questions, err := s.exams.GetQuestions(ctx, a.SelectedQuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	answers, err := tx.Answers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	grade := ScoreAttempt(questions, answers)

	end := a.Deadline(exam.Duration())
	done := a.Clone()
	done.Status = model.AttemptStatusTimeout
	done.EndTime = &end
	done.TimeTakenMinutes = exam.DurationMinutes
	done.Score = grade.Score
	done.CorrectCount = grade.CorrectCount
	done.TotalQuestions = grade.TotalQuestions
	if err := tx.Finish(ctx, done); err != nil {
		return nil, fmt.Errorf("finish attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("student_id", a.StudentID).
		Dur("overdue", now.Sub(end)).
		Msg("Attempt timed out")
	return s.resultFrom(exam, done, grade), nil
}

// afterFinish runs once per terminal transition, after the transaction committed.
// Notification is best effort and never fails the caller.
func (s *AttemptService) afterFinish(ctx context.Context, res *model.AttemptResult) {
	s.metrics.AttemptFinished(string(res.Status))

	evType := model.AttemptEventCompleted
	if res.Status == model.AttemptStatusTimeout {
		evType = model.AttemptEventTimeout
	}
	s.publishEvent(ctx, model.AttemptEvent{
		Type:      evType,
		AttemptID: res.AttemptID,
		ExamID:    res.ExamID,
		StudentID: res.StudentID,
		Status:    res.Status,
		Score:     res.Score,
		At:        s.clock(),
	})

	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, res); err != nil {
		s.metrics.NotificationFailed()
		s.log.Warn().Err(err).
			Str("attempt_id", res.AttemptID.String()).
			Int("student_id", res.StudentID).
			Msg("Result notification failed")
	}
}

// buildResult reassembles the result of a terminal attempt from stored data.
func (s *AttemptService) buildResult(ctx context.Context, exam *model.ExamDefinition, a *model.Attempt, answers []model.Answer) (*model.AttemptResult, error) {
	questions, err := s.exams.GetQuestions(ctx, a.SelectedQuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	grade := ScoreAttempt(questions, answers)
	// Stored figures win over a regrade.
	grade.Score = a.Score
	grade.CorrectCount = a.CorrectCount
	grade.TotalQuestions = a.TotalQuestions
	return s.resultFrom(exam, a, grade), nil
}

func (s *AttemptService) resultFrom(exam *model.ExamDefinition, a *model.Attempt, g Grade) *model.AttemptResult {
	res := &model.AttemptResult{
		AttemptID:        a.ID,
		StudentID:        a.StudentID,
		ExamID:           a.ExamID,
		ExamTitle:        exam.Title,
		Status:           a.Status,
		Score:            g.Score,
		CorrectCount:     g.CorrectCount,
		TotalQuestions:   g.TotalQuestions,
		TotalMarks:       exam.TotalMarks,
		Percentage:       Percentage(g.Score, exam.TotalMarks),
		DurationMinutes:  exam.DurationMinutes,
		StartTime:        a.StartTime.UTC(),
		TimeTakenMinutes: a.TimeTakenMinutes,
	}
	if a.EndTime != nil {
		end := a.EndTime.UTC()
		res.EndTime = &end
	}
	if exam.ShowResultsImmediately {
		res.Review = g.Review
	}
	return res
}

func (s *AttemptService) publish(ctx context.Context, t model.AttemptEventType, a *model.Attempt) {
	s.publishEvent(ctx, model.AttemptEvent{
		Type:      t,
		AttemptID: a.ID,
		ExamID:    a.ExamID,
		StudentID: a.StudentID,
		Status:    a.Status,
		Score:     a.Score,
		At:        s.clock(),
	})
}

func (s *AttemptService) publishEvent(ctx context.Context, ev model.AttemptEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Failed to publish attempt event")
	}
}

// fail counts domain errors by kind before handing them back.
func (s *AttemptService) fail(err error) error {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			s.metrics.AttemptError(k.kind)
			break
		}
	}
	return err
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrDuplicateAttempt, "duplicate"},
	{ErrNotAuthorized, "not_authorized"},
	{ErrInsufficientPool, "insufficient_pool"},
	{ErrExpired, "expired"},
	{ErrNotInProgress, "not_in_progress"},
	{ErrQuestionNotInAttempt, "question_not_in_attempt"},
	{ErrWrongOwner, "wrong_owner"},
	{ErrExamNotActive, "exam_not_active"},
	{ErrInvalidOption, "invalid_option"},
	{ErrResultNotReady, "result_not_ready"},
}

// statusError maps a non-active status to the error students see.
func statusError(st model.AttemptStatus) error {
	switch st {
	case model.AttemptStatusInProgress:
		return nil
	case model.AttemptStatusTimeout:
		return ErrExpired
	default:
		return ErrNotInProgress
	}
}

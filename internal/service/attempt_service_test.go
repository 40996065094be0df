package service_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository/memory"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockNotifier is a mock implementation of service.ResultNotifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, result *model.AttemptResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

// MockPublisher is a mock implementation of service.EventPublisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event model.AttemptEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

const studentID = 42

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	notifier  *MockNotifier
	metrics   *metrics.Metrics
	svc       *service.AttemptService
	exam      model.ExamDefinition
	questions []model.Question

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// newFixture builds an engine over an in-memory store with one active
// 30 minute exam whose pool holds poolSize one-mark questions, all keyed A.
func newFixture(t *testing.T, poolSize int, tweak ...func(*model.ExamDefinition)) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.NewStore(),
		notifier: &MockNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		now:      t0,
	}
	f.exam = model.ExamDefinition{
		ID:                     uuid.New(),
		Title:                  "Physics Midterm",
		DurationMinutes:        30,
		QuestionsToDisplay:     poolSize,
		TotalMarks:             poolSize,
		Active:                 true,
		ShowResultsImmediately: true,
	}
	for _, fn := range tweak {
		fn(&f.exam)
	}
	for i := 0; i < poolSize; i++ {
		f.questions = append(f.questions, model.Question{
			ID:            uuid.New(),
			QuestionText:  "What is the answer?",
			OptionA:       "right",
			OptionB:       "wrong",
			OptionC:       "wrong",
			OptionD:       "wrong",
			CorrectOption: model.OptionA,
			Marks:         1,
		})
	}
	f.store.PutExam(f.exam, f.questions...)
	f.store.Enroll(studentID, f.exam.ID)

	f.svc = service.NewAttemptService(
		f.store, f.store, f.store, f.notifier,
		service.NewSampler(nil),
		zerolog.New(io.Discard),
		service.WithClock(f.clock),
		service.WithMetrics(f.metrics),
	)
	return f
}

func (f *fixture) start(t *testing.T) *model.Attempt {
	t.Helper()
	a, err := f.svc.StartAttempt(context.Background(), studentID, f.exam.ID)
	require.NoError(t, err)
	return a
}

func poolIDs(qs []model.Question) []uuid.UUID {
	out := make([]uuid.UUID, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func TestStartAttempt_SmallPoolSelectsEverything(t *testing.T) {
	for _, display := range []int{3, 5, 0} {
		f := newFixture(t, 3, func(e *model.ExamDefinition) { e.QuestionsToDisplay = display })

		a := f.start(t)

		assert.ElementsMatch(t, poolIDs(f.questions), a.SelectedQuestionIDs, "display=%d", display)
		assert.Equal(t, model.AttemptStatusInProgress, a.Status)
		assert.Equal(t, t0, a.StartTime)
		assert.Equal(t, 3, a.TotalQuestions)
	}
}

func TestStartAttempt_LargePoolSamplesDistinctSubset(t *testing.T) {
	f := newFixture(t, 10, func(e *model.ExamDefinition) { e.QuestionsToDisplay = 4 })
	pool := poolIDs(f.questions)

	for sid := 1; sid <= 20; sid++ {
		f.store.Enroll(sid, f.exam.ID)
		a, err := f.svc.StartAttempt(context.Background(), sid, f.exam.ID)
		require.NoError(t, err)

		require.Len(t, a.SelectedQuestionIDs, 4)
		seen := map[uuid.UUID]bool{}
		for _, id := range a.SelectedQuestionIDs {
			assert.False(t, seen[id])
			seen[id] = true
			assert.Contains(t, pool, id)
		}
	}
}

func TestStartAttempt_DuplicateLeavesStoredAttemptUnchanged(t *testing.T) {
	f := newFixture(t, 5, func(e *model.ExamDefinition) { e.QuestionsToDisplay = 2 })
	ctx := context.Background()

	first := f.start(t)
	f.advance(time.Minute)

	_, err := f.svc.StartAttempt(ctx, studentID, f.exam.ID)
	assert.ErrorIs(t, err, service.ErrDuplicateAttempt)

	stored, err := f.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttemptErrors.WithLabelValues("duplicate")))
}

func TestStartAttempt_DuplicateEvenAfterCompletion(t *testing.T) {
	f := newFixture(t, 2)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	_, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.StartAttempt(ctx, studentID, f.exam.ID)
	assert.ErrorIs(t, err, service.ErrDuplicateAttempt)
}

func TestStartAttempt_Rejections(t *testing.T) {
	past := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)

	tests := []struct {
		name    string
		tweak   func(*model.ExamDefinition)
		student int
		exam    func(f *fixture) uuid.UUID
		wantErr error
	}{
		{
			name:    "not enrolled",
			student: 7,
			wantErr: service.ErrNotAuthorized,
		},
		{
			name:    "inactive exam",
			tweak:   func(e *model.ExamDefinition) { e.Active = false },
			wantErr: service.ErrExamNotActive,
		},
		{
			name:    "before window",
			tweak:   func(e *model.ExamDefinition) { e.AvailableFrom = &future },
			wantErr: service.ErrExamNotActive,
		},
		{
			name:    "after window",
			tweak:   func(e *model.ExamDefinition) { e.AvailableUntil = &past },
			wantErr: service.ErrExamNotActive,
		},
		{
			name:    "unknown exam",
			exam:    func(*fixture) uuid.UUID { return uuid.New() },
			wantErr: service.ErrExamNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tweaks []func(*model.ExamDefinition)
			if tt.tweak != nil {
				tweaks = append(tweaks, tt.tweak)
			}
			f := newFixture(t, 3, tweaks...)

			sid := studentID
			if tt.student != 0 {
				sid = tt.student
			}
			examID := f.exam.ID
			if tt.exam != nil {
				examID = tt.exam(f)
			}

			_, err := f.svc.StartAttempt(context.Background(), sid, examID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// staleExams serves the definition the store had when it was built, the way a
// cache holds an exam until its TTL runs out.
type staleExams struct {
	*memory.Store
	cached model.ExamDefinition
}

func (s *staleExams) GetExam(context.Context, uuid.UUID) (*model.ExamDefinition, error) {
	e := s.cached
	return &e, nil
}

func (s *staleExams) GetExamFresh(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	return s.Store.GetExam(ctx, examID)
}

func TestStartAttempt_DeactivationBypassesCachedExam(t *testing.T) {
	f := newFixture(t, 2)
	exams := &staleExams{Store: f.store, cached: f.exam}
	svc := service.NewAttemptService(
		exams, f.store, f.store, f.notifier,
		service.NewSampler(nil),
		zerolog.New(io.Discard),
		service.WithClock(f.clock),
	)

	closed := f.exam
	closed.Active = false
	f.store.PutExam(closed, f.questions...)

	_, err := svc.StartAttempt(context.Background(), studentID, f.exam.ID)
	assert.ErrorIs(t, err, service.ErrExamNotActive)

	f.store.PutExam(f.exam, f.questions...)
	a, err := svc.StartAttempt(context.Background(), studentID, f.exam.ID)
	require.NoError(t, err)
	assert.Len(t, a.SelectedQuestionIDs, 2)
}

func TestStartAttempt_EmptyPool(t *testing.T) {
	f := newFixture(t, 0, func(e *model.ExamDefinition) { e.QuestionsToDisplay = 5 })

	_, err := f.svc.StartAttempt(context.Background(), studentID, f.exam.ID)
	assert.ErrorIs(t, err, service.ErrInsufficientPool)
}

func TestSubmitAttempt_ScoresScenario(t *testing.T) {
	f := newFixture(t, 3)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	q1, q2 := f.questions[0].ID, f.questions[1].ID

	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, q1, model.OptionA))
	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, q2, model.OptionB))
	f.advance(10*time.Minute + 31*time.Second)

	res, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, model.AttemptStatusCompleted, res.Status)
	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 1, res.CorrectCount)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.Equal(t, 33.33, res.Percentage)
	assert.Equal(t, 11, res.TimeTakenMinutes)
	require.NotNil(t, res.EndTime)
	assert.Equal(t, t0.Add(10*time.Minute+31*time.Second), *res.EndTime)
	assert.Len(t, res.Review, 3)
}

func TestSubmitAttempt_TwiceIsIdempotentAndNotifiesOnce(t *testing.T) {
	f := newFixture(t, 3)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	answers := map[uuid.UUID]model.Option{
		f.questions[0].ID: model.OptionA,
		f.questions[1].ID: model.OptionC,
	}

	first, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, answers)
	require.NoError(t, err)
	f.advance(time.Minute)
	second, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, answers)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttemptsFinished.WithLabelValues("COMPLETED")))

	got, err := f.svc.GetResult(ctx, studentID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestSubmitAttempt_ConcurrentSubmitsCommitOneAnswerSet(t *testing.T) {
	f := newFixture(t, 4)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	allA := map[uuid.UUID]model.Option{}
	allB := map[uuid.UUID]model.Option{}
	for _, q := range f.questions {
		allA[q.ID] = model.OptionA
		allB[q.ID] = model.OptionB
	}

	const racers = 8
	results := make([]*model.AttemptResult, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			final := allA
			if i%2 == 1 {
				final = allB
			}
			results[i], errs[i] = f.svc.SubmitAttempt(ctx, studentID, a.ID, final)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)

	// Either every answer is A (full marks) or every answer is B (zero), never a mix.
	assert.Contains(t, []int{0, 4}, results[0].Score)
	stored, err := f.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for _, ans := range stored {
		assert.Equal(t, stored[0].SelectedOption, ans.SelectedOption)
	}

	again, err := f.svc.GetResult(ctx, studentID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, results[0], again)
}

func TestSubmitAttempt_SkipsUnknownQuestionsAndBadOptions(t *testing.T) {
	f := newFixture(t, 3)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	res, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, map[uuid.UUID]model.Option{
		uuid.New():        model.OptionA,
		f.questions[0].ID: model.Option("E"),
		f.questions[1].ID: model.OptionA,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Score)
	stored, err := f.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, f.questions[1].ID, stored[0].QuestionID)
}

func TestSubmitAttempt_NotifierFailureDoesNotFailSubmit(t *testing.T) {
	f := newFixture(t, 2)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	ctx := context.Background()

	a := f.start(t)
	res, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCompleted, res.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationsFailed))

	stored, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCompleted, stored.Status)
}

func TestRecordAnswer_AfterDeadlineTimesOut(t *testing.T) {
	f := newFixture(t, 3)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionA))

	f.advance(30*time.Minute + time.Second)
	err := f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[1].ID, model.OptionA)
	assert.ErrorIs(t, err, service.ErrExpired)

	stored, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, stored.Status)
	require.NotNil(t, stored.EndTime)
	assert.Equal(t, t0.Add(30*time.Minute), *stored.EndTime)
	assert.Equal(t, 30, stored.TimeTakenMinutes)
	assert.Equal(t, 1, stored.Score, "answers recorded in time are graded")

	answers, err := f.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 1, "late answer must not be stored")

	// The timeout is graded and notified once. Later answers are rejected,
	// a later submit hands back the stored timeout result.
	err = f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[1].ID, model.OptionA)
	assert.ErrorIs(t, err, service.ErrExpired)
	res, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, map[uuid.UUID]model.Option{f.questions[1].ID: model.OptionA})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, res.Status)
	assert.Equal(t, 1, res.Score)
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)

	stored, err = f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, stored.Status)
	answers, err = f.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 1, "submit after timeout must not write answers")

	got, err := f.svc.GetResult(ctx, studentID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, got, res)
}

func TestSubmitAttempt_RacingLazyTimeoutSettlesOnce(t *testing.T) {
	for iter := 0; iter < 20; iter++ {
		f := newFixture(t, 3)
		f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
		ctx := context.Background()

		a := f.start(t)
		require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionA))
		f.advance(30*time.Minute + time.Second)

		const racers = 4
		var (
			wg         sync.WaitGroup
			viewErrs   = make([]error, racers)
			answerErrs = make([]error, racers)
			submitErrs = make([]error, racers)
			results    = make([]*model.AttemptResult, racers)
		)
		for i := 0; i < racers; i++ {
			wg.Add(3)
			go func(i int) {
				defer wg.Done()
				_, viewErrs[i] = f.svc.GetActiveView(ctx, studentID, a.ID)
			}(i)
			go func(i int) {
				defer wg.Done()
				answerErrs[i] = f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[1].ID, model.OptionA)
			}(i)
			go func(i int) {
				defer wg.Done()
				results[i], submitErrs[i] = f.svc.SubmitAttempt(ctx, studentID, a.ID, map[uuid.UUID]model.Option{
					f.questions[2].ID: model.OptionA,
				})
			}(i)
		}
		wg.Wait()

		f.notifier.AssertNumberOfCalls(t, "Notify", 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttemptsFinished.WithLabelValues("TIMEOUT")))

		stored, err := f.svc.GetResult(ctx, studentID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AttemptStatusTimeout, stored.Status)
		assert.Equal(t, 1, stored.Score, "only the answer recorded in time counts")

		for i := 0; i < racers; i++ {
			assert.ErrorIs(t, viewErrs[i], service.ErrExpired)
			assert.ErrorIs(t, answerErrs[i], service.ErrExpired)
			if submitErrs[i] != nil {
				assert.ErrorIs(t, submitErrs[i], service.ErrExpired)
				continue
			}
			assert.Equal(t, stored, results[i])
		}

		answers, err := f.store.ListAnswers(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, answers, 1)
	}
}

func TestRecordAnswer_ExactlyAtDeadlineIsAccepted(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a := f.start(t)
	f.advance(30 * time.Minute)

	assert.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionB))
}

func TestRecordAnswer_CorrectnessIsDerivedFromKey(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a := f.start(t)
	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionD))
	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[1].ID, model.OptionA))

	answers, err := f.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	byQ := map[uuid.UUID]model.Answer{}
	for _, ans := range answers {
		byQ[ans.QuestionID] = ans
	}
	assert.False(t, byQ[f.questions[0].ID].IsCorrect)
	assert.True(t, byQ[f.questions[1].ID].IsCorrect)

	// Overwrite flips the derived flag.
	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionA))
	answers, err = f.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 2)
	for _, ans := range answers {
		assert.True(t, ans.IsCorrect)
	}
}

func TestRecordAnswer_Rejections(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	a := f.start(t)

	err := f.svc.RecordAnswer(ctx, studentID, a.ID, uuid.New(), model.OptionA)
	assert.ErrorIs(t, err, service.ErrQuestionNotInAttempt)

	err = f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.Option("Z"))
	assert.ErrorIs(t, err, service.ErrInvalidOption)

	err = f.svc.RecordAnswer(ctx, studentID+1, a.ID, f.questions[0].ID, model.OptionA)
	assert.ErrorIs(t, err, service.ErrWrongOwner)

	err = f.svc.RecordAnswer(ctx, studentID, uuid.New(), f.questions[0].ID, model.OptionA)
	assert.ErrorIs(t, err, service.ErrAttemptNotFound)

	stored, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, stored.Status)
}

func TestGetActiveView(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a := f.start(t)

	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[2].ID, model.OptionC))
	f.advance(10 * time.Minute)

	view, err := f.svc.GetActiveView(ctx, studentID, a.ID)
	require.NoError(t, err)

	assert.Equal(t, a.ID, view.AttemptID)
	assert.Equal(t, "Physics Midterm", view.Title)
	assert.Equal(t, float64(20*60), view.RemainingSeconds)
	assert.Equal(t, t0.Add(30*time.Minute), view.Deadline)
	assert.Equal(t, map[uuid.UUID]model.Option{f.questions[2].ID: model.OptionC}, view.SavedAnswers)

	got := make([]uuid.UUID, 0, len(view.Questions))
	for _, q := range view.Questions {
		got = append(got, q.ID)
		assert.Len(t, q.Options, 4)
	}
	assert.ElementsMatch(t, a.SelectedQuestionIDs, got)
}

func TestGetActiveView_SampleSurvivesPoolChanges(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a := f.start(t)

	f.store.RemoveFromPool(f.exam.ID, f.questions[0].ID)

	view, err := f.svc.GetActiveView(ctx, studentID, a.ID)
	require.NoError(t, err)
	assert.Len(t, view.Questions, 3)
}

func TestGetActiveView_ExpiredPerformsTimeout(t *testing.T) {
	f := newFixture(t, 2)
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(r *model.AttemptResult) bool {
		return r.Status == model.AttemptStatusTimeout
	})).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	f.advance(45 * time.Minute)

	_, err := f.svc.GetActiveView(ctx, studentID, a.ID)
	assert.ErrorIs(t, err, service.ErrExpired)
	_, err = f.svc.GetActiveView(ctx, studentID, a.ID)
	assert.ErrorIs(t, err, service.ErrExpired)

	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttemptsFinished.WithLabelValues("TIMEOUT")))
}

func TestGetActiveView_CompletedAttempt(t *testing.T) {
	f := newFixture(t, 2)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	_, err := f.svc.SubmitAttempt(ctx, studentID, a.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.GetActiveView(ctx, studentID, a.ID)
	assert.ErrorIs(t, err, service.ErrNotInProgress)
}

func TestGetResult(t *testing.T) {
	f := newFixture(t, 2, func(e *model.ExamDefinition) { e.ShowResultsImmediately = false })
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	a := f.start(t)
	_, err := f.svc.GetResult(ctx, studentID, a.ID)
	assert.ErrorIs(t, err, service.ErrResultNotReady)

	_, err = f.svc.GetResult(ctx, studentID+1, a.ID)
	assert.ErrorIs(t, err, service.ErrWrongOwner)

	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionA))
	f.advance(31 * time.Minute)

	// An overdue attempt is timed out on first read of its result.
	res, err := f.svc.GetResult(ctx, studentID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, res.Status)
	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 50.0, res.Percentage)
	assert.Equal(t, 30, res.TimeTakenMinutes)
	assert.Nil(t, res.Review)
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestCancelAttempt(t *testing.T) {
	f := newFixture(t, 2)
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.svc = service.NewAttemptService(f.store, f.store, f.store, f.notifier, nil,
		zerolog.New(io.Discard), service.WithClock(f.clock), service.WithEvents(pub))
	ctx := context.Background()

	a := f.start(t)
	f.advance(5 * time.Minute)

	cancelled, err := f.svc.CancelAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCancelled, cancelled.Status)
	assert.Equal(t, t0.Add(5*time.Minute), *cancelled.EndTime)

	_, err = f.svc.CancelAttempt(ctx, a.ID)
	assert.ErrorIs(t, err, service.ErrNotInProgress)
	err = f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionA)
	assert.ErrorIs(t, err, service.ErrNotInProgress)
	_, err = f.svc.SubmitAttempt(ctx, studentID, a.ID, nil)
	assert.ErrorIs(t, err, service.ErrNotInProgress)

	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	pub.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(ev model.AttemptEvent) bool {
		return ev.Type == model.AttemptEventCancelled && ev.AttemptID == a.ID
	}))
}

func TestListExamAttempts(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a := f.start(t)
	require.NoError(t, f.svc.RecordAnswer(ctx, studentID, a.ID, f.questions[0].ID, model.OptionA))

	list, err := f.svc.ListExamAttempts(ctx, f.exam.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].AttemptID)
	assert.Equal(t, 1, list[0].AnsweredCount)

	_, err = f.svc.ListExamAttempts(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrExamNotFound)
}

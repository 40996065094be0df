package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/notifier"
	"github.com/stemsi/exstem-cbt/internal/repository/memory"
	"github.com/stemsi/exstem-cbt/internal/router"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	studentID = 7
	otherID   = 8
	adminID   = 1
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

type testServer struct {
	engine    *gin.Engine
	store     *memory.Store
	auth      *service.AuthService
	exam      model.ExamDefinition
	questions []model.Question

	mu  sync.Mutex
	now time.Time
}

func (s *testServer) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testServer) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// newTestServer wires the full router over an in-memory store holding one
// active two-question exam (both keyed A) that studentID is enrolled in.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	s := &testServer{
		store: memory.NewStore(),
		auth:  service.NewAuthService("test-secret", time.Hour),
		now:   time.Now().UTC(),
	}
	s.exam = model.ExamDefinition{
		ID:                     uuid.New(),
		Title:                  "Biology Quiz",
		DurationMinutes:        20,
		QuestionsToDisplay:     2,
		TotalMarks:             2,
		Active:                 true,
		ShowResultsImmediately: true,
	}
	for i := 0; i < 2; i++ {
		s.questions = append(s.questions, model.Question{
			ID:            uuid.New(),
			QuestionText:  "Which organelle?",
			OptionA:       "mitochondria",
			OptionB:       "ribosome",
			OptionC:       "nucleus",
			OptionD:       "vacuole",
			CorrectOption: model.OptionA,
			Marks:         1,
		})
	}
	s.store.PutExam(s.exam, s.questions...)
	s.store.Enroll(studentID, s.exam.ID)
	s.store.Enroll(otherID, s.exam.ID)

	log := zerolog.New(io.Discard)
	svc := service.NewAttemptService(
		s.store, s.store, s.store,
		notifier.NewLogNotifier(log),
		service.NewSampler(nil),
		log,
		service.WithClock(s.clock),
	)
	handlers := &router.Handlers{
		Attempt:      handler.NewAttemptHandler(svc),
		AdminAttempt: handler.NewAdminAttemptHandler(svc),
		WS:           handler.NewWSHandler(svc, nil, log, nil),
		Monitor:      handler.NewMonitorHandler(nil, s.store, svc, log),
	}
	s.engine = router.SetupRouter(s.auth, handlers, &config.Config{GinMode: gin.TestMode}, nil, nil)
	return s
}

func (s *testServer) studentToken(t *testing.T, id int) string {
	t.Helper()
	tok, err := s.auth.GenerateStudentToken(id, 3)
	require.NoError(t, err)
	return tok
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	tok, err := s.auth.GenerateAdminToken(adminID)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (s *testServer) start(t *testing.T, token string) model.Attempt {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/student/exams/"+s.exam.ID.String()+"/attempts", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		Attempt model.Attempt `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Attempt
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestAttemptFlow(t *testing.T) {
	s := newTestServer(t)
	tok := s.studentToken(t, studentID)

	attempt := s.start(t, tok)
	assert.Equal(t, model.AttemptStatusInProgress, attempt.Status)
	require.Len(t, attempt.SelectedQuestionIDs, 2)
	q1, q2 := attempt.SelectedQuestionIDs[0], attempt.SelectedQuestionIDs[1]
	base := "/api/v1/student/attempts/" + attempt.ID.String()

	// The paper never carries the answer key.
	w, _ := s.do(t, http.MethodGet, base, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "correct_option")
	assert.Contains(t, w.Body.String(), "mitochondria")

	// A client-supplied correctness flag is ignored.
	w, _ = s.do(t, http.MethodPut, base+"/answers", tok, map[string]any{
		"question_id":     q1.String(),
		"selected_option": "b",
		"is_correct":      true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := s.do(t, http.MethodPost, base+"/submit", tok, map[string]any{
		"answers": map[string]string{q2.String(): "A"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Result model.AttemptResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	res := data.Result
	assert.Equal(t, model.AttemptStatusCompleted, res.Status)
	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 1, res.CorrectCount)
	assert.Equal(t, 2, res.TotalQuestions)
	assert.Equal(t, 50.0, res.Percentage)
	require.Len(t, res.Review, 2)
	for _, line := range res.Review {
		if line.QuestionID == q1 {
			assert.False(t, line.IsCorrect)
			require.NotNil(t, line.SelectedOption)
			assert.Equal(t, model.OptionB, *line.SelectedOption)
		}
	}

	// Submitting again returns the stored result.
	w, env = s.do(t, http.MethodPost, base+"/submit", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again struct {
		Result model.AttemptResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, res.Score, again.Result.Score)
	assert.Equal(t, res.EndTime, again.Result.EndTime)

	w, _ = s.do(t, http.MethodGet, base+"/result", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Answers after completion are refused.
	w, env = s.do(t, http.MethodPut, base+"/answers", tok, map[string]any{
		"question_id":     q1.String(),
		"selected_option": "A",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ATTEMPT_NOT_IN_PROGRESS", errCode(env))
}

func TestStartAttempt_Errors(t *testing.T) {
	s := newTestServer(t)
	tok := s.studentToken(t, studentID)
	s.start(t, tok)

	path := "/api/v1/student/exams/" + s.exam.ID.String() + "/attempts"

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		code   string
	}{
		{"duplicate", path, tok, http.StatusConflict, "ATTEMPT_ALREADY_EXISTS"},
		{"not enrolled", path, s.studentToken(t, 99), http.StatusForbidden, "NOT_ENROLLED"},
		{"unknown exam", "/api/v1/student/exams/" + uuid.NewString() + "/attempts", tok, http.StatusNotFound, "NOT_FOUND"},
		{"bad id", "/api/v1/student/exams/nope/attempts", tok, http.StatusBadRequest, "INVALID_ID"},
		{"no token", path, "", http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"garbage token", path, "abc.def.ghi", http.StatusUnauthorized, "TOKEN_INVALID"},
		{"admin token", path, s.adminToken(t), http.StatusForbidden, "STUDENT_ACCESS_ONLY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, http.MethodPost, tt.path, tt.token, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errCode(env))
		})
	}
}

func TestRecordAnswer_Errors(t *testing.T) {
	s := newTestServer(t)
	tok := s.studentToken(t, studentID)
	attempt := s.start(t, tok)
	path := "/api/v1/student/attempts/" + attempt.ID.String() + "/answers"
	q := attempt.SelectedQuestionIDs[0].String()

	t.Run("invalid option", func(t *testing.T) {
		w, env := s.do(t, http.MethodPut, path, tok, map[string]any{"question_id": q, "selected_option": "E"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", errCode(env))
		assert.Contains(t, env.Error.Fields, "selected_option")
	})

	t.Run("question outside the attempt", func(t *testing.T) {
		w, env := s.do(t, http.MethodPut, path, tok, map[string]any{"question_id": uuid.NewString(), "selected_option": "A"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "QUESTION_NOT_IN_ATTEMPT", errCode(env))
	})

	t.Run("another student's attempt", func(t *testing.T) {
		w, env := s.do(t, http.MethodPut, path, s.studentToken(t, otherID), map[string]any{"question_id": q, "selected_option": "A"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", errCode(env))
	})

	t.Run("after the deadline", func(t *testing.T) {
		s.advance(21 * time.Minute)
		w, env := s.do(t, http.MethodPut, path, tok, map[string]any{"question_id": q, "selected_option": "A"})
		assert.Equal(t, http.StatusGone, w.Code)
		assert.Equal(t, "ATTEMPT_EXPIRED", errCode(env))

		// The timeout was graded and the result is readable.
		w, env = s.do(t, http.MethodGet, "/api/v1/student/attempts/"+attempt.ID.String()+"/result", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var data struct {
			Result model.AttemptResult `json:"result"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, model.AttemptStatusTimeout, data.Result.Status)
		assert.Equal(t, 20, data.Result.TimeTakenMinutes)
	})
}

func TestGetResult_NotReady(t *testing.T) {
	s := newTestServer(t)
	tok := s.studentToken(t, studentID)
	attempt := s.start(t, tok)

	w, env := s.do(t, http.MethodGet, "/api/v1/student/attempts/"+attempt.ID.String()+"/result", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RESULT_NOT_READY", errCode(env))
}

func TestAdminAttempts(t *testing.T) {
	s := newTestServer(t)
	attempt := s.start(t, s.studentToken(t, studentID))
	admin := s.adminToken(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/admin/exams/"+s.exam.ID.String()+"/attempts", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Attempts []model.AttemptSummary `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Attempts, 1)
	assert.Equal(t, studentID, list.Attempts[0].StudentID)

	cancelPath := "/api/v1/admin/attempts/" + attempt.ID.String() + "/cancel"
	w, _ = s.do(t, http.MethodPost, cancelPath, admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(t, http.MethodPost, cancelPath, admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ATTEMPT_NOT_IN_PROGRESS", errCode(env))

	w, env = s.do(t, http.MethodPost, cancelPath, s.studentToken(t, studentID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ADMIN_ACCESS_ONLY", errCode(env))

	w, env = s.do(t, http.MethodPost, "/api/v1/admin/attempts/"+uuid.NewString()+"/cancel", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(env))
}

package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorExamSSE_Snapshot(t *testing.T) {
	s := newTestServer(t)
	s.start(t, s.studentToken(t, studentID))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/exams/"+s.exam.ID.String()+"/monitor", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+s.adminToken(t))
	w := httptest.NewRecorder()

	s.engine.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	frame, ok := strings.CutPrefix(strings.SplitN(w.Body.String(), "\n\n", 2)[0], "data: ")
	require.True(t, ok, w.Body.String())

	var snap struct {
		Type       string `json:"type"`
		InProgress int    `json:"in_progress"`
		Attempts   []any  `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal([]byte(frame), &snap))
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, 1, snap.InProgress)
	assert.Len(t, snap.Attempts, 1)
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// monitorSnapshot is the full state frame sent on attach and on every refresh.
type monitorSnapshot struct {
	Type       string                 `json:"type"`
	ExamID     uuid.UUID              `json:"exam_id"`
	Title      string                 `json:"title"`
	InProgress int                    `json:"in_progress"`
	Completed  int                    `json:"completed"`
	TimedOut   int                    `json:"timed_out"`
	Cancelled  int                    `json:"cancelled"`
	Attempts   []model.AttemptSummary `json:"attempts"`
}

// MonitorHandler streams an exam's attempt activity to admins over SSE.
type MonitorHandler struct {
	rdb            *redis.Client
	exams          service.ExamStore
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewMonitorHandler creates a MonitorHandler. Without Redis only snapshots
// and keep-alives are streamed.
func NewMonitorHandler(rdb *redis.Client, exams service.ExamStore, attemptService *service.AttemptService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		exams:          exams,
		attemptService: attemptService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()
	exam, err := h.exams.GetExam(reqCtx, examID)
	if err != nil {
		failAttempt(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, exam)

	// A nil channel never fires, which leaves the memory driver with snapshots only.
	var events <-chan *redis.Message
	if h.rdb != nil {
		pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
		defer pubsub.Close()
		events = pubsub.Channel()
	}

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})
	dirty := false

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-events:
			if !ok {
				return
			}
			writeSSE(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			// With Pub/Sub the snapshot only needs refreshing after activity.
			if h.rdb != nil && !dirty {
				continue
			}
			h.sendSnapshot(c, reqCtx, exam)
			dirty = false

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, ctx context.Context, exam *model.ExamDefinition) {
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	attempts, err := h.attemptService.ListExamAttempts(fetchCtx, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Monitor snapshot failed")
		return
	}

	payload, err := json.Marshal(buildSnapshot(exam, attempts))
	if err != nil {
		return
	}
	writeSSE(c, payload)
}

func buildSnapshot(exam *model.ExamDefinition, attempts []model.AttemptSummary) monitorSnapshot {
	snap := monitorSnapshot{
		Type:     "snapshot",
		ExamID:   exam.ID,
		Title:    exam.Title,
		Attempts: attempts,
	}
	if snap.Attempts == nil {
		snap.Attempts = []model.AttemptSummary{}
	}
	for _, a := range attempts {
		switch a.Status {
		case model.AttemptStatusInProgress:
			snap.InProgress++
		case model.AttemptStatusCompleted:
			snap.Completed++
		case model.AttemptStatusTimeout:
			snap.TimedOut++
		case model.AttemptStatusCancelled:
			snap.Cancelled++
		}
	}
	return snap
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

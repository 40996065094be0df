package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	ws "github.com/stemsi/exstem-cbt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt over a WebSocket: answers, state reloads and
// the final submit all go through the same AttemptService as the REST API.
type WSHandler struct {
	attemptService *service.AttemptService
	limiter        *middleware.RateLimiter
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter may be nil.
func NewWSHandler(attemptService *service.AttemptService, limiter *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		limiter:        limiter,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	// The first frame is always the current state, which also proves ownership.
	if !h.sendState(c.Request.Context(), conn, studentID, attemptID) {
		return
	}

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		ctx := c.Request.Context()
		switch msg.Action {
		case ws.ActionAnswer:
			if !h.handleAnswer(ctx, conn, wsLog, studentID, attemptID, &msg) {
				return
			}
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, studentID, attemptID, &msg)
			return
		case ws.ActionState:
			if !h.sendState(ctx, conn, studentID, attemptID) {
				return
			}
		case ws.ActionPing:
			_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

// sendState writes the attempt view. It reports false when the stream should end.
func (h *WSHandler) sendState(ctx context.Context, conn *websocket.Conn, studentID int, attemptID uuid.UUID) bool {
	view, err := h.attemptService.GetActiveView(ctx, studentID, attemptID)
	if err != nil {
		h.writeServiceError(conn, attemptID, err)
		return false
	}
	return ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, View: view}) == nil
}

// handleAnswer saves one answer. It reports false once the attempt is over.
func (h *WSHandler) handleAnswer(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, studentID int, attemptID uuid.UUID, msg *ws.Request) bool {
	req := ws.AnswerRequest{QuestionID: msg.QuestionID, SelectedOption: msg.SelectedOption}
	if fields := validator.Struct(&req); fields != nil {
		_ = ws.WriteError(conn, string(response.ErrValidation), firstField(fields))
		return true
	}

	if !h.limiter.Allow(ctx, studentID) {
		_ = ws.WriteError(conn, string(response.ErrRateLimitExceeded), response.GetMessage(response.ErrRateLimitExceeded))
		return true
	}

	questionID := uuid.MustParse(req.QuestionID)
	opt, _ := model.ParseOption(req.SelectedOption)
	if err := h.attemptService.RecordAnswer(ctx, studentID, attemptID, questionID, opt); err != nil {
		h.writeServiceError(conn, attemptID, err)
		if errors.Is(err, service.ErrExpired) || errors.Is(err, service.ErrNotInProgress) {
			return false
		}
		wsLog.Debug().Err(err).Str("question_id", req.QuestionID).Msg("Answer rejected")
		return true
	}

	_ = ws.WriteTyped(conn, ws.AnswerSavedResponse{Event: ws.EventAnswerSaved, QuestionID: req.QuestionID})
	return true
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, studentID int, attemptID uuid.UUID, msg *ws.Request) {
	result, err := h.attemptService.SubmitAttempt(ctx, studentID, attemptID, parseAnswers(msg.Answers))
	if err != nil {
		h.writeServiceError(conn, attemptID, err)
		return
	}

	wsLog.Info().
		Int("score", result.Score).
		Int("correct", result.CorrectCount).
		Int("total", result.TotalQuestions).
		Msg("Attempt submitted over WebSocket")

	_ = ws.WriteTyped(conn, ws.GradedResponse{Event: ws.EventGraded, Result: result})
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, attemptID uuid.UUID, err error) {
	if errors.Is(err, service.ErrExpired) {
		_ = ws.WriteTyped(conn, ws.ExpiredResponse{Event: ws.EventExpired, AttemptID: attemptID.String()})
		return
	}
	_, code := classify(err)
	if code == response.ErrInternal {
		h.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Attempt stream error")
	}
	_ = ws.WriteError(conn, string(code), response.GetMessage(code))
}

func firstField(fields map[string]string) string {
	for _, msg := range fields {
		return msg
	}
	return response.GetMessage(response.ErrValidation)
}

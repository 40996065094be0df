package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// AdminAttemptHandler handles attempt administration for proctors.
type AdminAttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAdminAttemptHandler creates a new AdminAttemptHandler.
func NewAdminAttemptHandler(attemptService *service.AttemptService) *AdminAttemptHandler {
	return &AdminAttemptHandler{attemptService: attemptService}
}

// ListAttempts godoc
// GET /api/v1/admin/exams/:exam_id/attempts
func (h *AdminAttemptHandler) ListAttempts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.attemptService.ListExamAttempts(c.Request.Context(), examID)
	if err != nil {
		failAttempt(c, err)
		return
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// CancelAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/cancel
// Ends an in-progress attempt without grading or notifying.
func (h *AdminAttemptHandler) CancelAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.CancelAttempt(c.Request.Context(), attemptID)
	if err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

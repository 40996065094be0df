package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// attemptErrors maps service errors onto HTTP status and API error code.
var attemptErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrDuplicateAttempt, http.StatusConflict, response.ErrAttemptExists},
	{service.ErrNotAuthorized, http.StatusForbidden, response.ErrNotEnrolled},
	{service.ErrInsufficientPool, http.StatusUnprocessableEntity, response.ErrInsufficientPool},
	{service.ErrExpired, http.StatusGone, response.ErrAttemptExpired},
	{service.ErrNotInProgress, http.StatusConflict, response.ErrAttemptNotInProgress},
	{service.ErrQuestionNotInAttempt, http.StatusBadRequest, response.ErrQuestionNotInAttempt},
	{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrWrongOwner, http.StatusForbidden, response.ErrForbidden},
	{service.ErrExamNotActive, http.StatusBadRequest, response.ErrExamNotAvailable},
	{service.ErrInvalidOption, http.StatusBadRequest, response.ErrValidation},
	{service.ErrResultNotReady, http.StatusConflict, response.ErrResultNotReady},
}

// classify returns the HTTP status and error code for err.
func classify(err error) (int, response.ErrCode) {
	for _, m := range attemptErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

func failAttempt(c *gin.Context, err error) {
	status, code := classify(err)
	response.Fail(c, status, code)
}

// parseAnswers converts a wire answer map into service input. Keys that are
// not UUIDs are dropped; options are normalized and left for the service to vet.
func parseAnswers(raw map[string]string) map[uuid.UUID]model.Option {
	out := make(map[uuid.UUID]model.Option, len(raw))
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		opt, _ := model.ParseOption(v)
		out[id] = opt
	}
	return out
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/response"
	"github.com/stemsi/classroom-exam/internal/service"
)

// errorStatus maps a service error to its HTTP status and error code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, exam.ErrInvalidInput):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, exam.ErrStudentNotFound):
		return http.StatusNotFound, response.ErrStudentNotJoined
	case errors.Is(err, exam.ErrNotFound):
		return http.StatusNotFound, response.ErrClassroomNotFound
	case errors.Is(err, exam.ErrSessionEnded):
		return http.StatusConflict, response.ErrClassroomEnded
	case errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden, response.ErrNotClassroomOwner
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case errors.Is(err, service.ErrUserExists):
		return http.StatusConflict, response.ErrEmailTaken
	case errors.Is(err, service.ErrSessionInvalidated):
		return http.StatusUnauthorized, response.ErrSessionInvalidated
	case errors.Is(err, exam.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable, response.ErrServiceUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failFromError writes the error response for err. Unexpected errors are logged.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := errorStatus(err)

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}

	if code == response.ErrValidation {
		response.FailWithFields(c, status, code, map[string]string{"detail": err.Error()})
		return
	}
	response.Fail(c, status, code)
}

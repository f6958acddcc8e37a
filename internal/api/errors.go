package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cardmint/internal/logging"
	"cardmint/internal/queue"
	"cardmint/internal/services"
)

// statusForError maps store error markers to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, services.ErrWriteVerification):
		return http.StatusInternalServerError
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusForError(err)
	body := gin.H{"error": err.Error()}
	if code := services.ErrorCode(err); code != "" {
		body["code"] = code
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.Request.Context(), s.logger), "api request failed", "api_error",
			logging.String("path", c.FullPath()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job store access"),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message, "code": "VALIDATION"})
}

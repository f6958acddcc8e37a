package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cardmint/internal/logging"
	"cardmint/internal/services"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags the request context so store history records an
// operator actor and logs carry a correlation id.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// loggerMiddleware logs each request once it completes.
func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []logging.Attr{
			logging.Int("status", c.Writer.Status()),
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.String("ip", c.ClientIP()),
			logging.Duration("latency", time.Since(start)),
		}
		reqLogger := logging.WithContext(c.Request.Context(), logger)
		if len(c.Errors) > 0 {
			attrs = append(attrs, logging.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= 500 {
			reqLogger.Warn("http request failed", logging.Args(attrs...)...)
			return
		}
		reqLogger.Debug("http request", logging.Args(attrs...)...)
	}
}

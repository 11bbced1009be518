package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/moveit/internal/logger"
)

// LoggerKey is the context key of the request-scoped logger.
const LoggerKey = "logger"

// Logger stores a request-scoped child logger in the context and logs each
// completed request at a level chosen by its status code.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Set(LoggerKey, log.WithRequestID(GetRequestID(c)))

		c.Next()

		fields := logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}
		if fields["path"] == "" {
			fields["path"] = c.Request.URL.Path
		}
		if len(c.Request.URL.RawQuery) > 0 {
			fields["query"] = c.Request.URL.RawQuery
		}
		if actor, ok := GetActor(c); ok {
			fields["actor_id"] = actor.ID
			fields["actor_role"] = actor.Role
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		// Authentication may have replaced the logger with an enriched child.
		requestLogger := GetLogger(c)
		status := c.Writer.Status()
		switch {
		case status >= 500:
			requestLogger.Error("Request completed with server error", nil, fields)
		case status >= 400:
			requestLogger.Warn("Request completed with client error", fields)
		default:
			requestLogger.Info("Request completed", fields)
		}
	}
}

// GetLogger retrieves the logger from the Gin context.
// Returns nil if not found.
func GetLogger(c *gin.Context) *logger.Logger {
	if v, exists := c.Get(LoggerKey); exists {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return nil
}

package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/moveit/internal/logger"
)

// Recovery turns a panic in a handler into a logged 500 response.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			requestID := GetRequestID(c)
			requestLogger := GetLogger(c)
			if requestLogger == nil {
				requestLogger = log
			}

			fields := logger.Fields{
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
				"stack":  string(debug.Stack()),
			}
			if actor, ok := GetActor(c); ok {
				fields["actor_id"] = actor.ID
			}
			requestLogger.Error("Panic recovered", fmt.Errorf("panic: %v", rec), fields)

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":       "INTERNAL_SERVER_ERROR",
					"message":    "An unexpected error occurred",
					"request_id": requestID,
				},
			})
		}()

		c.Next()
	}
}

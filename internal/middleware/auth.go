package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/moveit/internal/auth"
	"github.com/stwalsh4118/moveit/internal/logger"
)

// ActorKey is the context key of the authenticated auth.Actor.
const ActorKey = "actor"

// Authenticate requires a valid "Authorization: Bearer <token>" header and
// stores the resolved actor in the context.
func Authenticate(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "Missing bearer token")
			return
		}

		actor, err := verifier.Verify(token)
		if err != nil {
			if log := GetLogger(c); log != nil {
				log.Warn("Rejected bearer token", logger.Fields{"reason": err.Error()})
			}
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ActorKey, actor)
		if log := GetLogger(c); log != nil {
			c.Set(LoggerKey, log.With(logger.Fields{"actor_id": actor.ID}))
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// abortUnauthorized writes the error envelope inline; the errors package
// depends on this one.
func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="moveit"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":       "UNAUTHORIZED",
			"message":    message,
			"request_id": GetRequestID(c),
		},
	})
}

// GetActor returns the authenticated actor, if any.
func GetActor(c *gin.Context) (auth.Actor, bool) {
	if v, exists := c.Get(ActorKey); exists {
		if actor, ok := v.(auth.Actor); ok {
			return actor, true
		}
	}
	return auth.Actor{}, false
}

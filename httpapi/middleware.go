package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/lifecycle"
)

const actorKey = "httpapi.actor"

// actorMiddleware extracts the upstream-verified identity headers. Identity
// verification happens at the gateway in front of this service; here the
// headers are trusted as-is.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(actorKey, lifecycle.Actor{
			UserID:  c.GetHeader("X-User-Id"),
			IsAdmin: c.GetHeader("X-User-Role") == "admin",
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) lifecycle.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(lifecycle.Actor); ok {
			return actor
		}
	}
	return lifecycle.Actor{}
}

// requestLogger emits one structured line per request.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

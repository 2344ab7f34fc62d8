package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/service"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry service.AuditEntry)
}

// Audit records an entry after every successful request on the decorated route.
// The :id route parameter, when present, becomes the resource id.
func Audit(recorder AuditRecorder, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if recorder == nil || c.Writer.Status() >= 400 {
			return
		}

		recorder.Record(c.Request.Context(), service.AuditEntry{
			Actor:      ActorFromContext(c),
			Action:     action,
			Resource:   resource,
			ResourceID: c.Param("id"),
			NewValues: map[string]interface{}{
				"path":       c.FullPath(),
				"method":     c.Request.Method,
				"status":     c.Writer.Status(),
				"latency_ms": time.Since(start).Milliseconds(),
			},
		})
	}
}

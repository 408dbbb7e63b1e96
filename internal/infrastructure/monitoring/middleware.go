package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}

// Timer measures one plugin execution
type Timer struct {
	start      time.Time
	metrics    *Metrics
	language   string
	capability string
}

// NewTimer creates a new timer and marks the execution active
func NewTimer(metrics *Metrics, language, capability string) *Timer {
	metrics.ExecutionStarted()
	return &Timer{
		start:      time.Now(),
		metrics:    metrics,
		language:   language,
		capability: capability,
	}
}

// Stop records the duration under the terminal state and returns it
func (t *Timer) Stop(state string) time.Duration {
	duration := time.Since(t.start)
	t.metrics.ExecutionFinished()
	t.metrics.RecordExecution(t.language, t.capability, state, duration)
	return duration
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader carries the caller-visible trace identifier.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key the trace ID is stored under.
	TraceIDKey = "trace_id"
)

// EnrichContext ensures every request carries a trace ID, honoring one the
// caller supplied and echoing it back in the response.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Next()
	}
}

// GetTraceID returns the request's trace ID, or empty when the enrichment
// middleware did not run.
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nowrise/authgate/internal/infra/logger"
)

const (
	requestIDHeader = "X-Request-ID"

	// Inbound IDs are caller-supplied; anything oversized or containing
	// control characters is replaced rather than echoed into logs.
	maxRequestIDLength = 128
)

// RequestID propagates the caller's correlation identifier, minting a fresh
// one when the header is missing or unusable. The ID is echoed back in the
// response and stored on the request context for the access log.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if !usableRequestID(reqID) {
			reqID = uuid.NewString()
		}

		c.Writer.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return r < 0x20 || r == 0x7f
	})
}

package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
// RetryAfter (seconds) accompanies throttled sends; AttemptsLeft accompanies
// wrong-code rejections.
type ErrorResponse struct {
	Error        string `json:"error"`
	RetryAfter   *int   `json:"retryAfter,omitempty"`
	AttemptsLeft *int   `json:"attemptsLeft,omitempty"`
	TraceID      string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// OTPRequest is the single request body for POST /otp; Action selects the operation.
type OTPRequest struct {
	Action string `json:"action" binding:"required"`
	Email  string `json:"email"`
	OTP    string `json:"otp"`
}

// OTPSendResponse acknowledges a send without revealing the code.
type OTPSendResponse struct {
	Success bool `json:"success"`
}

// OTPVerifyResponse reports a successful verification.
type OTPVerifyResponse struct {
	Success  bool `json:"success"`
	Verified bool `json:"verified"`
}

// OTPCheckUserResponse reports whether the directory knows the email.
type OTPCheckUserResponse struct {
	Exists bool `json:"exists"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

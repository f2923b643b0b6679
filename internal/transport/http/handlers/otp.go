package handlers

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/infra/logger"
	"github.com/nowrise/authgate/internal/usecase"
)

const (
	actionSend      = "send"
	actionVerify    = "verify"
	actionCheckUser = "check-user"
)

// Wire messages are fixed strings; internal diagnostic detail stays in the
// server logs and never reaches the response body.
const (
	msgInvalidRequest  = "Invalid request"
	msgRateLimited     = "Too many OTP requests. Please try again later."
	msgSendFailed      = "Failed to send OTP. Please try again later."
	msgNotFound        = "No active code found for this email. Request a new code."
	msgExpired         = "Code expired. Request a new code."
	msgTooManyAttempts = "Too many incorrect attempts. Request a new code."
	msgInvalidCode     = "Invalid code."
	msgInternal        = "Something went wrong. Please try again later."
)

// OTPHandler serves POST /otp with the action discriminator.
type OTPHandler struct {
	otp *usecase.OTPService
	log *zap.Logger
}

// NewOTPHandler constructs the handler.
func NewOTPHandler(otp *usecase.OTPService, log *zap.Logger) *OTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OTPHandler{otp: otp, log: log}
}

// Handle godoc
// @Summary OTP operations
// @Description Issues, verifies, or checks account existence for one-time codes, selected by the action field.
// @Tags OTP
// @Accept json
// @Produce json
// @Param request body OTPRequest true "action: send | verify | check-user"
// @Success 200 {object} OTPVerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /otp [post]
func (h *OTPHandler) Handle(c *gin.Context) {
	var req OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidRequest))
		return
	}

	switch req.Action {
	case actionSend:
		h.send(c, req)
	case actionVerify:
		h.verify(c, req)
	case actionCheckUser:
		h.checkUser(c, req)
	default:
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidRequest))
	}
}

func (h *OTPHandler) send(c *gin.Context, req OTPRequest) {
	err := h.otp.Send(c.Request.Context(), req.Email)
	if err == nil {
		c.JSON(http.StatusOK, OTPSendResponse{Success: true})
		return
	}

	var rateLimited *usecase.RateLimitExceededError
	if errors.As(err, &rateLimited) {
		resp := NewErrorResponse(c, msgRateLimited)
		if seconds := int(math.Ceil(rateLimited.RetryAfter.Seconds())); seconds > 0 {
			resp.RetryAfter = &seconds
		}
		c.JSON(http.StatusTooManyRequests, resp)
		return
	}

	if errors.Is(err, usecase.ErrEmailRequired) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidRequest))
		return
	}

	// DeliveryFailed and anything unexpected share the same wire shape.
	if !errors.Is(err, usecase.ErrDeliveryFailed) {
		h.logInternal(c, "otp send failed", err)
	}
	c.JSON(http.StatusInternalServerError, NewErrorResponse(c, msgSendFailed))
}

func (h *OTPHandler) verify(c *gin.Context, req OTPRequest) {
	result, err := h.otp.Verify(c.Request.Context(), req.Email, req.OTP)
	if err == nil && result != nil {
		c.JSON(http.StatusOK, OTPVerifyResponse{Success: true, Verified: result.Verified})
		return
	}

	var invalidCode *usecase.InvalidCodeError
	if errors.As(err, &invalidCode) {
		resp := NewErrorResponse(c, msgInvalidCode)
		left := invalidCode.AttemptsLeft
		resp.AttemptsLeft = &left
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	matched := false
	for _, cs := range verifyErrorCases {
		if errors.Is(err, cs.Err) {
			matched = true
			break
		}
	}
	if !matched {
		h.logInternal(c, "otp verify failed", err)
	}

	RespondWithMappedError(c, err, verifyErrorCases, http.StatusInternalServerError, msgInternal)
}

// Post-credential-proof rejections are safe to distinguish; the caller has
// already demonstrated password knowledge.
var verifyErrorCases = []ErrorCase{
	{Err: usecase.ErrEmailRequired, Status: http.StatusBadRequest, Message: msgInvalidRequest},
	{Err: usecase.ErrCodeRequired, Status: http.StatusBadRequest, Message: msgInvalidRequest},
	{Err: usecase.ErrOTPNotFound, Status: http.StatusBadRequest, Message: msgNotFound},
	{Err: usecase.ErrOTPExpired, Status: http.StatusBadRequest, Message: msgExpired},
	{Err: usecase.ErrTooManyAttempts, Status: http.StatusBadRequest, Message: msgTooManyAttempts},
}

func (h *OTPHandler) checkUser(c *gin.Context, req OTPRequest) {
	exists, err := h.otp.CheckUser(c.Request.Context(), req.Email)
	if err == nil {
		c.JSON(http.StatusOK, OTPCheckUserResponse{Exists: exists})
		return
	}

	if errors.Is(err, usecase.ErrEmailRequired) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidRequest))
		return
	}

	h.logInternal(c, "otp check-user failed", err)
	c.JSON(http.StatusInternalServerError, NewErrorResponse(c, msgInternal))
}

func (h *OTPHandler) logInternal(c *gin.Context, msg string, err error) {
	h.log.Error(msg,
		zap.String("request_id", c.Writer.Header().Get("X-Request-ID")),
		zap.String("client_ip", logger.MaskIP(c.ClientIP())),
		zap.Error(err),
	)
}

package loginflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RateLimitedError reports a throttled send; RetryAfter is zero when the
// server gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "too many requests"
}

// CodeRejectedError carries the server's specific verify rejection.
// AttemptsLeft is -1 when the response did not include a budget.
type CodeRejectedError struct {
	Message      string
	AttemptsLeft int
}

// Error implements the error interface.
func (e *CodeRejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "code rejected"
}

// OTPClient talks to the OTP service's single POST /otp endpoint.
type OTPClient struct {
	baseURL string
	httpc   *http.Client
	log     *zap.Logger
}

var _ OTPGateway = (*OTPClient)(nil)

// OTPClientOption customizes an OTPClient.
type OTPClientOption func(*OTPClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) OTPClientOption {
	return func(c *OTPClient) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithOTPClientLogger installs a logger.
func WithOTPClientLogger(log *zap.Logger) OTPClientOption {
	return func(c *OTPClient) {
		if log != nil {
			c.log = log
		}
	}
}

// NewOTPClient constructs a client for the service at baseURL.
func NewOTPClient(baseURL string, opts ...OTPClientOption) *OTPClient {
	c := &OTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type otpWireRequest struct {
	Action string `json:"action"`
	Email  string `json:"email"`
	OTP    string `json:"otp,omitempty"`
}

type otpWireResponse struct {
	Success      bool   `json:"success"`
	Verified     bool   `json:"verified"`
	Exists       bool   `json:"exists"`
	Error        string `json:"error"`
	RetryAfter   *int   `json:"retryAfter"`
	AttemptsLeft *int   `json:"attemptsLeft"`
}

// Send requests a fresh code for the email.
func (c *OTPClient) Send(ctx context.Context, email string) error {
	resp, status, err := c.post(ctx, otpWireRequest{Action: "send", Email: email})
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK && resp.Success:
		return nil
	case status == http.StatusTooManyRequests:
		return rateLimitedFromWire(resp)
	default:
		return wireError(status, resp)
	}
}

// Verify submits the entered code.
func (c *OTPClient) Verify(ctx context.Context, email, code string) error {
	resp, status, err := c.post(ctx, otpWireRequest{Action: "verify", Email: email, OTP: code})
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK && resp.Verified:
		return nil
	case status == http.StatusBadRequest:
		rejected := &CodeRejectedError{Message: resp.Error, AttemptsLeft: -1}
		if resp.AttemptsLeft != nil {
			rejected.AttemptsLeft = *resp.AttemptsLeft
		}
		return rejected
	case status == http.StatusTooManyRequests:
		return rateLimitedFromWire(resp)
	default:
		return wireError(status, resp)
	}
}

// CheckUser asks whether an account exists for the email.
func (c *OTPClient) CheckUser(ctx context.Context, email string) (bool, error) {
	resp, status, err := c.post(ctx, otpWireRequest{Action: "check-user", Email: email})
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, wireError(status, resp)
	}
	return resp.Exists, nil
}

func (c *OTPClient) post(ctx context.Context, body otpWireRequest) (*otpWireResponse, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/otp", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call otp service: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	var resp otpWireResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.Debug("undecodable otp response body", zap.Int("status", httpResp.StatusCode))
			return nil, httpResp.StatusCode, fmt.Errorf("otp service returned status %d", httpResp.StatusCode)
		}
	}

	return &resp, httpResp.StatusCode, nil
}

func rateLimitedFromWire(resp *otpWireResponse) *RateLimitedError {
	limited := &RateLimitedError{Message: resp.Error}
	if resp.RetryAfter != nil && *resp.RetryAfter > 0 {
		limited.RetryAfter = time.Duration(*resp.RetryAfter) * time.Second
	}
	return limited
}

func wireError(status int, resp *otpWireResponse) error {
	if resp != nil && resp.Error != "" {
		return fmt.Errorf("otp service: %s (status %d)", resp.Error, status)
	}
	return fmt.Errorf("otp service returned status %d", status)
}

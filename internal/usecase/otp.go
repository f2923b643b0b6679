package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/core/port"
	"github.com/nowrise/authgate/internal/infra/config"
	"github.com/nowrise/authgate/internal/infra/logger"
	"github.com/nowrise/authgate/internal/infra/security"
	"github.com/nowrise/authgate/internal/repository"
)

const otpSendRateLimitScope = "otp_send"

var (
	// ErrOTPUnavailable indicates the service is not properly configured.
	ErrOTPUnavailable = errors.New("otp service unavailable")
	// ErrEmailRequired indicates the request carried no email address.
	ErrEmailRequired = errors.New("email is required")
	// ErrCodeRequired indicates the request carried no code.
	ErrCodeRequired = errors.New("code is required")
	// ErrOTPNotFound indicates no active challenge exists for the email.
	// Covers both "never requested" and "already consumed" uniformly.
	ErrOTPNotFound = errors.New("no active code for this email")
	// ErrOTPExpired indicates the challenge outlived its validity window.
	ErrOTPExpired = errors.New("code expired")
	// ErrTooManyAttempts indicates the wrong-code cap was reached.
	ErrTooManyAttempts = errors.New("too many incorrect attempts")
	// ErrDeliveryFailed indicates the code email could not be sent.
	ErrDeliveryFailed = errors.New("code delivery failed")
)

// RateLimitExceededError reports that a sliding-window limit rejected the request.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

// InvalidCodeError reports a wrong code together with the remaining attempt budget.
type InvalidCodeError struct {
	AttemptsLeft int
}

// Error implements the error interface.
func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid code, %d attempts left", e.AttemptsLeft)
}

// VerifyResult describes a successful verification.
type VerifyResult struct {
	Verified bool
	// Attempts is how many wrong submissions preceded the successful one.
	Attempts int
}

// OTPService issues, delivers, and verifies one-time codes. Handlers invoke
// it per request; PostgreSQL and Redis carry all state between calls.
type OTPService struct {
	cfg          *config.AppConfig
	challenges   port.ChallengeStore
	rateLimits   port.RateLimitStore
	sender       port.CodeSender
	directory    port.UserDirectory
	events       port.EventPublisher
	logger       *zap.Logger
	now          func() time.Time
	challengeTTL time.Duration
	maxAttempts  int
	sendLimit    int
	sendWindow   time.Duration
}

// NewOTPService constructs an OTPService.
func NewOTPService(cfg *config.AppConfig, challenges port.ChallengeStore, rateLimits port.RateLimitStore, sender port.CodeSender, directory port.UserDirectory, events port.EventPublisher, log *zap.Logger) *OTPService {
	if log == nil {
		log = zap.NewNop()
	}

	svc := &OTPService{
		cfg:          cfg,
		challenges:   challenges,
		rateLimits:   rateLimits,
		sender:       sender,
		directory:    directory,
		events:       events,
		logger:       log,
		now:          time.Now,
		challengeTTL: domain.ChallengeTTL,
		maxAttempts:  domain.MaxVerifyAttempts,
		sendLimit:    3,
		sendWindow:   5 * time.Minute,
	}

	if cfg != nil {
		if cfg.OTP.ChallengeTTL > 0 {
			svc.challengeTTL = cfg.OTP.ChallengeTTL
		}
		if cfg.OTP.MaxVerifyAttempts > 0 {
			svc.maxAttempts = cfg.OTP.MaxVerifyAttempts
		}
		if cfg.OTP.SendLimit > 0 {
			svc.sendLimit = cfg.OTP.SendLimit
		}
		if cfg.OTP.SendWindow > 0 {
			svc.sendWindow = cfg.OTP.SendWindow
		}
	}

	return svc
}

// WithClock overrides the time source (primarily for tests).
func (s *OTPService) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTTL overrides the challenge validity window (primarily for tests).
func (s *OTPService) WithTTL(ttl time.Duration) {
	if ttl > 0 {
		s.challengeTTL = ttl
	}
}

// Send issues a fresh challenge for the email and dispatches the code. Any
// prior challenge for the email is superseded. The code never travels back
// to the caller and never reaches the logs.
func (s *OTPService) Send(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	if s.challenges == nil || s.sender == nil {
		return ErrOTPUnavailable
	}

	now := s.now().UTC()

	if err := s.enforceSendRateLimit(ctx, email, now); err != nil {
		return err
	}

	removed, err := s.challenges.DeleteByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("supersede prior challenges: %w", err)
	}

	code, err := security.GenerateOTPCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	challenge := domain.Challenge{
		ID:        uuid.NewString(),
		Email:     email,
		OTPHash:   security.HashCode(code),
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	if err := s.challenges.Create(ctx, challenge); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}

	if !s.sender.Enabled() {
		s.logger.Info("code delivery disabled, challenge issued without dispatch",
			zap.String("email", logger.MaskEmail(email)),
		)
		s.publishIssued(ctx, challenge, removed > 0)
		return nil
	}

	if err := s.sender.SendCode(ctx, email, code, s.challengeTTL); err != nil {
		s.logger.Error("code delivery failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		if delErr := s.challenges.Delete(ctx, challenge.ID); delErr != nil && !errors.Is(delErr, repository.ErrNotFound) {
			s.logger.Error("rollback challenge after delivery failure failed",
				zap.String("challenge_id", challenge.ID),
				zap.Error(delErr),
			)
		}
		s.publishDeliveryFailed(ctx, email, now, err)
		return ErrDeliveryFailed
	}

	s.publishIssued(ctx, challenge, removed > 0)
	return nil
}

// Verify checks the supplied code against the email's active challenge. The
// challenge is consumed on success and invalidated on expiry or attempt-cap
// breach; a wrong code burns one attempt.
func (s *OTPService) Verify(ctx context.Context, email, code string) (*VerifyResult, error) {
	email = domain.NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if code == "" {
		return nil, ErrCodeRequired
	}
	if s.challenges == nil {
		return nil, ErrOTPUnavailable
	}

	now := s.now().UTC()

	challenge, err := s.challenges.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}

	if challenge.ExpiredAt(now) {
		s.discardChallenge(ctx, challenge.ID, "expired")
		return nil, ErrOTPExpired
	}

	if challenge.Attempts >= s.maxAttempts {
		s.discardChallenge(ctx, challenge.ID, "attempt cap")
		return nil, ErrTooManyAttempts
	}

	suppliedHash := security.HashCode(code)
	if !security.HashEquals(suppliedHash, challenge.OTPHash) {
		attempts, err := s.challenges.IncrementAttempts(ctx, challenge.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrOTPNotFound
			}
			return nil, fmt.Errorf("record failed attempt: %w", err)
		}

		left := s.maxAttempts - attempts
		if left < 0 {
			left = 0
		}
		return nil, &InvalidCodeError{AttemptsLeft: left}
	}

	consumed, err := s.challenges.Consume(ctx, challenge.ID, suppliedHash)
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if !consumed {
		// A racing verify or superseding send took the row first.
		return nil, ErrOTPNotFound
	}

	s.publishVerified(ctx, *challenge, now)
	return &VerifyResult{Verified: true, Attempts: challenge.Attempts}, nil
}

// CheckUser reports whether the provider directory knows the email. Used by
// the forgot-password path; absence is a normal false.
func (s *OTPService) CheckUser(ctx context.Context, email string) (bool, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return false, ErrEmailRequired
	}
	if s.directory == nil {
		return false, ErrOTPUnavailable
	}

	exists, err := s.directory.EmailExists(ctx, email)
	if err != nil {
		return false, fmt.Errorf("directory lookup: %w", err)
	}

	return exists, nil
}

// SweepExpired deletes challenges whose validity window closed. Invoked
// periodically by the application; per-request expiry detection still
// deletes eagerly.
func (s *OTPService) SweepExpired(ctx context.Context) (int, error) {
	if s.challenges == nil {
		return 0, ErrOTPUnavailable
	}

	removed, err := s.challenges.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired challenges: %w", err)
	}

	return removed, nil
}

// enforceSendRateLimit records the attempt and rejects once the trailing
// window held the limit already. Record and count run atomically in the
// store; limiter outages fail open with a warning.
func (s *OTPService) enforceSendRateLimit(ctx context.Context, email string, now time.Time) error {
	if s.rateLimits == nil {
		return nil
	}
	if s.sendLimit <= 0 {
		return nil
	}

	window := s.sendWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	storageKey := fmt.Sprintf("%s:%s", otpSendRateLimitScope, email)

	if err := s.rateLimits.TrimWindow(ctx, storageKey, window, now); err != nil {
		s.logger.Warn("send rate limit trim failed", zap.String("scope", otpSendRateLimitScope), zap.Error(err))
		return nil
	}

	count, err := s.rateLimits.RecordAttempt(ctx, storageKey, window, now)
	if err != nil {
		s.logger.Warn("send rate limit record failed", zap.String("scope", otpSendRateLimitScope), zap.Error(err))
		return nil
	}

	if count > s.sendLimit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := s.rateLimits.OldestAttempt(ctx, storageKey, window, now); err == nil && ok {
			reset := oldest.Add(window)
			if reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			s.logger.Warn("send rate limit oldest lookup failed", zap.Error(err))
		}

		s.publishThrottled(ctx, email, now, retryAfter)
		return &RateLimitExceededError{Scope: otpSendRateLimitScope, RetryAfter: retryAfter}
	}

	return nil
}

// discardChallenge deletes a spent challenge; absence is fine since deletion
// is also how concurrent paths consume it.
func (s *OTPService) discardChallenge(ctx context.Context, id, reason string) {
	if err := s.challenges.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("discard challenge failed",
			zap.String("challenge_id", id),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func (s *OTPService) publishIssued(ctx context.Context, challenge domain.Challenge, resend bool) {
	if s.events == nil {
		return
	}

	event := domain.OTPIssuedEvent{
		EventID:     uuid.NewString(),
		ChallengeID: challenge.ID,
		MaskedEmail: logger.MaskEmail(challenge.Email),
		IssuedAt:    challenge.CreatedAt,
		ExpiresAt:   challenge.ExpiresAt,
		Resend:      resend,
	}
	if err := s.events.PublishOTPIssued(ctx, event); err != nil {
		s.logger.Warn("publish otp issued event failed", zap.Error(err))
	}
}

func (s *OTPService) publishVerified(ctx context.Context, challenge domain.Challenge, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.OTPVerifiedEvent{
		EventID:     uuid.NewString(),
		ChallengeID: challenge.ID,
		MaskedEmail: logger.MaskEmail(challenge.Email),
		VerifiedAt:  at,
		Attempts:    challenge.Attempts,
	}
	if err := s.events.PublishOTPVerified(ctx, event); err != nil {
		s.logger.Warn("publish otp verified event failed", zap.Error(err))
	}
}

func (s *OTPService) publishThrottled(ctx context.Context, email string, at time.Time, retryAfter time.Duration) {
	if s.events == nil {
		return
	}

	event := domain.OTPThrottledEvent{
		EventID:     uuid.NewString(),
		MaskedEmail: logger.MaskEmail(email),
		ThrottledAt: at,
		RetryAfter:  retryAfter,
	}
	if err := s.events.PublishOTPThrottled(ctx, event); err != nil {
		s.logger.Warn("publish otp throttled event failed", zap.Error(err))
	}
}

func (s *OTPService) publishDeliveryFailed(ctx context.Context, email string, at time.Time, cause error) {
	if s.events == nil {
		return
	}

	event := domain.OTPDeliveryFailedEvent{
		EventID:     uuid.NewString(),
		MaskedEmail: logger.MaskEmail(email),
		FailedAt:    at,
		Reason:      cause.Error(),
	}
	if err := s.events.PublishOTPDeliveryFailed(ctx, event); err != nil {
		s.logger.Warn("publish otp delivery failed event failed", zap.Error(err))
	}
}

package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// environments without brokers.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishOTPIssued logs authgate.otp.issued events.
func (p *StubPublisher) PublishOTPIssued(_ context.Context, event domain.OTPIssuedEvent) error {
	payload := map[string]any{
		"challenge_id": event.ChallengeID,
		"masked_email": event.MaskedEmail,
		"issued_at":    event.IssuedAt,
		"expires_at":   event.ExpiresAt,
		"resend":       event.Resend,
	}
	p.logEvent("otp.issued", event.IssuedAt, payload)
	return nil
}

// PublishOTPVerified logs authgate.otp.verified events.
func (p *StubPublisher) PublishOTPVerified(_ context.Context, event domain.OTPVerifiedEvent) error {
	payload := map[string]any{
		"challenge_id": event.ChallengeID,
		"masked_email": event.MaskedEmail,
		"verified_at":  event.VerifiedAt,
		"attempts":     event.Attempts,
	}
	p.logEvent("otp.verified", event.VerifiedAt, payload)
	return nil
}

// PublishOTPThrottled logs authgate.otp.throttled events.
func (p *StubPublisher) PublishOTPThrottled(_ context.Context, event domain.OTPThrottledEvent) error {
	payload := map[string]any{
		"masked_email":        event.MaskedEmail,
		"throttled_at":        event.ThrottledAt,
		"retry_after_seconds": int(event.RetryAfter.Seconds()),
	}
	p.logEvent("otp.throttled", event.ThrottledAt, payload)
	return nil
}

// PublishOTPDeliveryFailed logs authgate.otp.delivery_failed events.
func (p *StubPublisher) PublishOTPDeliveryFailed(_ context.Context, event domain.OTPDeliveryFailedEvent) error {
	payload := map[string]any{
		"masked_email": event.MaskedEmail,
		"failed_at":    event.FailedAt,
		"reason":       event.Reason,
	}
	p.logEvent("otp.delivery_failed", event.FailedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)

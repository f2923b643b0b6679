package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/core/port"
	"github.com/nowrise/authgate/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka. Payloads carry
// masked emails only; plaintext codes never enter an event.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOTPIssued publishes authgate.otp.issued events.
func (p *EventPublisher) PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error {
	payload := struct {
		ChallengeID string    `json:"challenge_id"`
		MaskedEmail string    `json:"masked_email"`
		IssuedAt    time.Time `json:"issued_at"`
		ExpiresAt   time.Time `json:"expires_at"`
		Resend      bool      `json:"resend"`
	}{
		ChallengeID: event.ChallengeID,
		MaskedEmail: event.MaskedEmail,
		IssuedAt:    event.IssuedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
		Resend:      event.Resend,
	}

	return p.publish(ctx, event.EventID, "otp.issued", event.IssuedAt, payload)
}

// PublishOTPVerified publishes authgate.otp.verified events.
func (p *EventPublisher) PublishOTPVerified(ctx context.Context, event domain.OTPVerifiedEvent) error {
	payload := struct {
		ChallengeID string    `json:"challenge_id"`
		MaskedEmail string    `json:"masked_email"`
		VerifiedAt  time.Time `json:"verified_at"`
		Attempts    int       `json:"attempts"`
	}{
		ChallengeID: event.ChallengeID,
		MaskedEmail: event.MaskedEmail,
		VerifiedAt:  event.VerifiedAt.UTC(),
		Attempts:    event.Attempts,
	}

	return p.publish(ctx, event.EventID, "otp.verified", event.VerifiedAt, payload)
}

// PublishOTPThrottled publishes authgate.otp.throttled events.
func (p *EventPublisher) PublishOTPThrottled(ctx context.Context, event domain.OTPThrottledEvent) error {
	payload := struct {
		MaskedEmail    string    `json:"masked_email"`
		ThrottledAt    time.Time `json:"throttled_at"`
		RetryAfterSecs int       `json:"retry_after_seconds"`
	}{
		MaskedEmail:    event.MaskedEmail,
		ThrottledAt:    event.ThrottledAt.UTC(),
		RetryAfterSecs: int(event.RetryAfter.Seconds()),
	}

	return p.publish(ctx, event.EventID, "otp.throttled", event.ThrottledAt, payload)
}

// PublishOTPDeliveryFailed publishes authgate.otp.delivery_failed events.
func (p *EventPublisher) PublishOTPDeliveryFailed(ctx context.Context, event domain.OTPDeliveryFailedEvent) error {
	payload := struct {
		MaskedEmail string    `json:"masked_email"`
		FailedAt    time.Time `json:"failed_at"`
		Reason      string    `json:"reason"`
	}{
		MaskedEmail: event.MaskedEmail,
		FailedAt:    event.FailedAt.UTC(),
		Reason:      event.Reason,
	}

	return p.publish(ctx, event.EventID, "otp.delivery_failed", event.FailedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)

package port

import (
	"context"

	"github.com/nowrise/authgate/internal/core/domain"
)

// EventPublisher publishes audit events to the message bus.
type EventPublisher interface {
	PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error
	PublishOTPVerified(ctx context.Context, event domain.OTPVerifiedEvent) error
	PublishOTPThrottled(ctx context.Context, event domain.OTPThrottledEvent) error
	PublishOTPDeliveryFailed(ctx context.Context, event domain.OTPDeliveryFailedEvent) error
}

package domain

import "time"

// OTPIssuedEvent represents the payload for authgate.otp.issued messages.
// Email is carried masked; the code itself never appears in any event.
type OTPIssuedEvent struct {
	EventID     string
	ChallengeID string
	MaskedEmail string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Resend      bool
}

// OTPVerifiedEvent represents the payload for authgate.otp.verified messages.
type OTPVerifiedEvent struct {
	EventID     string
	ChallengeID string
	MaskedEmail string
	VerifiedAt  time.Time
	Attempts    int
}

// OTPThrottledEvent represents the payload for authgate.otp.throttled messages.
type OTPThrottledEvent struct {
	EventID     string
	MaskedEmail string
	ThrottledAt time.Time
	RetryAfter  time.Duration
}

// OTPDeliveryFailedEvent represents the payload for authgate.otp.delivery_failed messages.
type OTPDeliveryFailedEvent struct {
	EventID     string
	MaskedEmail string
	FailedAt    time.Time
	Reason      string
}

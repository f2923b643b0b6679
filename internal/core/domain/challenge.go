package domain

import (
	"strings"
	"time"
)

const (
	// ChallengeTTL is how long an issued code stays valid.
	ChallengeTTL = 10 * time.Minute
	// MaxVerifyAttempts caps wrong-code submissions per challenge.
	MaxVerifyAttempts = 5
	// CodeLength is the number of decimal digits in an issued code.
	CodeLength = 6
)

// Challenge mirrors the persisted representation in the otp_challenges table.
// The plaintext code is never stored; only its SHA-256 digest.
type Challenge struct {
	ID        string
	Email     string
	OTPHash   string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ExpiredAt reports whether the challenge is past its validity window at the given instant.
func (c Challenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// AttemptsExhausted reports whether the wrong-code cap has been reached.
func (c Challenge) AttemptsExhausted() bool {
	return c.Attempts >= MaxVerifyAttempts
}

// AttemptsLeft returns how many wrong submissions remain before the challenge is invalidated.
func (c Challenge) AttemptsLeft() int {
	left := MaxVerifyAttempts - c.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// NormalizeEmail canonicalizes an address for use as the challenge identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

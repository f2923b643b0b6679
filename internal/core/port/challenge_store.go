package port

import (
	"context"
	"time"

	"github.com/nowrise/authgate/internal/core/domain"
)

// ChallengeStore persists outstanding OTP challenges. At most one active
// challenge exists per email; Create callers delete prior rows first.
type ChallengeStore interface {
	Create(ctx context.Context, challenge domain.Challenge) error
	GetByEmail(ctx context.Context, email string) (*domain.Challenge, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// Consume deletes the challenge only when the stored hash matches,
	// so racing verifies settle on a single winner.
	Consume(ctx context.Context, id string, otpHash string) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteByEmail(ctx context.Context, email string) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

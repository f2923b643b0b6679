package port

import (
	"context"
	"time"
)

// RateLimitStore defines the persistence operations required to enforce sliding-window limits.
// RecordAttempt adds the attempt and returns the resulting in-window count in
// one storage round trip, keeping increment-and-check atomic.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, window time.Duration, at time.Time) (int, error)
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}

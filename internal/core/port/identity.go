package port

import (
	"context"

	"github.com/nowrise/authgate/internal/core/domain"
)

// IdentityProvider is the slice of the external auth platform the login flow
// depends on. CredentialProbe verifies a password without leaving a durable
// session behind (sign-in followed by unconditional sign-out); it returns the
// probe session's access token so callers can re-assert the sign-out later,
// covering a failed best-effort sign-out inside the probe.
type IdentityProvider interface {
	PasswordSignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	CurrentUser(ctx context.Context, accessToken string) (*domain.User, error)
	CredentialProbe(ctx context.Context, email, password string) (string, error)
}

// UserDirectory answers account-existence questions against the provider's
// admin user listing. Absence is a normal false, never an error.
type UserDirectory interface {
	EmailExists(ctx context.Context, email string) (bool, error)
}

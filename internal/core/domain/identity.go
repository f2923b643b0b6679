package domain

import "time"

// User is the provider-side account view this service consumes. The
// directory is owned by the external identity platform; only the fields the
// login flow needs are carried here.
type User struct {
	ID          string
	Email       string
	CreatedAt   time.Time
	LastSignIn  *time.Time
	Confirmed   bool
	AppMetadata map[string]any
}

// Session is the token bundle the identity provider returns from a password
// grant. AccessToken is opaque to this service apart from an unverified
// claims peek for logging.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	User         User
}

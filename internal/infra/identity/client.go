package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/core/port"
	"github.com/nowrise/authgate/internal/infra/config"
	"github.com/nowrise/authgate/internal/infra/logger"
)

var (
	// ErrInvalidCredentials indicates the provider rejected the email/password pair.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrUnavailable indicates the provider could not be reached or answered unexpectedly.
	ErrUnavailable = errors.New("identity: provider unavailable")
)

// Client talks to the external auth platform over its REST surface. It covers
// only the primitives the login flow needs: password grant, sign-out, current
// user, the named credential probe, and the admin directory scan.
type Client struct {
	baseURL    string
	apiKey     string
	serviceKey string
	pageSize   int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a provider client from settings.
func NewClient(cfg config.IdentitySettings, log *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pageSize := cfg.AdminPageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		serviceKey: cfg.ServiceKey,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

type sessionPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	CreatedAt        time.Time      `json:"created_at"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
}

type userListPayload struct {
	Users []userPayload `json:"users"`
}

// PasswordSignIn exchanges an email/password pair for a session.
func (c *Client) PasswordSignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encode sign-in body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/token?grant_type=password", bytes.NewReader(body), c.apiKey)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	default:
		return nil, fmt.Errorf("%w: sign-in status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sign-in response: %w", err)
	}

	session := payload.toDomain()
	return &session, nil
}

// SignOut terminates the session bound to the access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/logout", nil, accessToken)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: sign-out status %d", ErrUnavailable, resp.StatusCode)
	}

	return nil
}

// CurrentUser resolves the user behind an access token, or nil when the token
// no longer maps to a live session.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*domain.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/user", nil, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: current-user status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload userPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode current-user response: %w", err)
	}

	user := payload.toDomain()
	return &user, nil
}

// CredentialProbe verifies the password without leaving a durable session:
// sign-in, then unconditional sign-out. Sign-out failure is logged, not
// surfaced; the probe token is returned so the caller can re-assert the
// sign-out later.
func (c *Client) CredentialProbe(ctx context.Context, email, password string) (string, error) {
	session, err := c.PasswordSignIn(ctx, email, password)
	if err != nil {
		return "", err
	}

	if err := c.SignOut(ctx, session.AccessToken); err != nil {
		c.logger.Warn("probe sign-out failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
	}

	return session.AccessToken, nil
}

// EmailExists scans the provider's admin user listing for a case-insensitive
// match. Absence is a normal false. The scan is paginated and linear; fine at
// small directory sizes, not a pattern that scales.
func (c *Client) EmailExists(ctx context.Context, email string) (bool, error) {
	needle := strings.ToLower(strings.TrimSpace(email))
	if needle == "" {
		return false, nil
	}

	for page := 1; ; page++ {
		users, err := c.listUsers(ctx, page)
		if err != nil {
			return false, err
		}
		if len(users) == 0 {
			return false, nil
		}

		for _, u := range users {
			if strings.ToLower(u.Email) == needle {
				return true, nil
			}
		}

		if len(users) < c.pageSize {
			return false, nil
		}
	}
}

func (c *Client) listUsers(ctx context.Context, page int) ([]userPayload, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(c.pageSize))

	req, err := c.newRequest(ctx, http.MethodGet, "/admin/users?"+query.Encode(), nil, c.serviceKey)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: admin list status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload userListPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode admin list response: %w", err)
	}

	return payload.Users, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, bearer string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}

	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return req, nil
}

func (p sessionPayload) toDomain() domain.Session {
	return domain.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
		User:         p.User.toDomain(),
	}
}

func (p userPayload) toDomain() domain.User {
	return domain.User{
		ID:          p.ID,
		Email:       p.Email,
		CreatedAt:   p.CreatedAt,
		LastSignIn:  p.LastSignInAt,
		Confirmed:   p.EmailConfirmedAt != nil,
		AppMetadata: p.AppMetadata,
	}
}

// PeekClaims extracts subject and email from an access token without
// verifying the signature. Display and logging only; the provider is the
// sole verifier of its own tokens.
func PeekClaims(accessToken string) (subject, email string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", ""
	}

	if sub, err := claims.GetSubject(); err == nil {
		subject = sub
	}
	if v, ok := claims["email"].(string); ok {
		email = v
	}

	return subject, email
}

var (
	_ port.IdentityProvider = (*Client)(nil)
	_ port.UserDirectory    = (*Client)(nil)
)

// Package loginflow sequences the client side of the OTP-gated login:
// credential probe, code delivery, code verification, and the completing
// sign-in. The Flow is a mutex-guarded state machine; a generation counter
// discards continuations of calls that were cancelled or superseded while
// in flight.
package loginflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/core/port"
	"github.com/nowrise/authgate/internal/infra/logger"
)

// State identifies the Flow's position in the login sequence.
type State int

const (
	StateIdle State = iota
	StateCredentialCheck
	StateAwaitingOTP
	StateVerifying
	StateAuthenticated
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCredentialCheck:
		return "credential_check"
	case StateAwaitingOTP:
		return "awaiting_otp"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy rejects a call while another transition is in flight.
	ErrBusy = errors.New("another operation is in flight")
	// ErrInvalidCredentials is the generic pre-OTP rejection; it never
	// distinguishes unknown accounts from wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrCancelled reports that the awaited call was invalidated by Cancel
	// or a competing transition before its result arrived.
	ErrCancelled = errors.New("login flow cancelled")
	// ErrUnexpectedState rejects an operation the current state does not allow.
	ErrUnexpectedState = errors.New("operation not valid in current state")
)

// ResendCooldownError reports that Resend was called before the cooldown
// elapsed; Remaining is the wait left.
type ResendCooldownError struct {
	Remaining time.Duration
}

// Error implements the error interface.
func (e *ResendCooldownError) Error() string {
	return fmt.Sprintf("resend available in %s", e.Remaining.Round(time.Second))
}

// PendingLogin holds the verified-but-not-yet-signed-in credentials between
// the credential probe and the completing sign-in. Both printf verbs redact
// the password.
type PendingLogin struct {
	Email    string
	Password string
}

// String implements fmt.Stringer.
func (p PendingLogin) String() string {
	return fmt.Sprintf("PendingLogin{Email:%s Password:[redacted]}", p.Email)
}

// GoString implements fmt.GoStringer, so %#v cannot leak the password either.
func (p PendingLogin) GoString() string {
	return p.String()
}

// Notifier receives Flow lifecycle callbacks. Callbacks run on the calling
// goroutine and must not re-enter the Flow.
type Notifier interface {
	StateChanged(from, to State)
	ExistingSession(user domain.User)
}

// NopNotifier discards all callbacks.
type NopNotifier struct{}

func (NopNotifier) StateChanged(State, State)   {}
func (NopNotifier) ExistingSession(domain.User) {}

// OTPGateway is the Flow's view of the OTP service.
type OTPGateway interface {
	Send(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
	CheckUser(ctx context.Context, email string) (bool, error)
}

const (
	defaultRequestTimeout = 15 * time.Second
	defaultResendCooldown = 60 * time.Second
)

// Flow drives one login attempt at a time. All exported methods are safe for
// concurrent use; concurrent transitions lose with ErrBusy rather than queue.
type Flow struct {
	mu            sync.Mutex
	state         State
	pending       *PendingLogin
	session       *domain.Session
	probeToken    string
	generation    uint64
	busy          bool
	cooldownUntil time.Time

	idp      port.IdentityProvider
	otp      OTPGateway
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	timeout  time.Duration
	cooldown time.Duration
}

// FlowOption customizes a Flow.
type FlowOption func(*Flow)

// WithNotifier installs a lifecycle notifier.
func WithNotifier(n Notifier) FlowOption {
	return func(f *Flow) {
		if n != nil {
			f.notifier = n
		}
	}
}

// WithRequestTimeout overrides the per-call deadline.
func WithRequestTimeout(d time.Duration) FlowOption {
	return func(f *Flow) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithResendCooldown overrides the wait between code sends.
func WithResendCooldown(d time.Duration) FlowOption {
	return func(f *Flow) {
		if d > 0 {
			f.cooldown = d
		}
	}
}

// WithClock overrides the time source (primarily for tests).
func WithClock(now func() time.Time) FlowOption {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLogger installs a logger.
func WithLogger(log *zap.Logger) FlowOption {
	return func(f *Flow) {
		if log != nil {
			f.log = log
		}
	}
}

// NewFlow constructs an idle Flow.
func NewFlow(idp port.IdentityProvider, otp OTPGateway, opts ...FlowOption) *Flow {
	f := &Flow{
		state:    StateIdle,
		idp:      idp,
		otp:      otp,
		notifier: NopNotifier{},
		log:      zap.NewNop(),
		now:      time.Now,
		timeout:  defaultRequestTimeout,
		cooldown: defaultResendCooldown,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State reports the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Session returns the completed session, nil unless authenticated.
func (f *Flow) Session() *domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	copied := *f.session
	return &copied
}

// ResendAvailableIn reports the remaining cooldown, zero when resend is allowed.
func (f *Flow) ResendAvailableIn() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining := f.cooldownUntil.Sub(f.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// Submit starts a login attempt: credential probe, then code dispatch.
// Allowed from Idle and Failed; a Failed flow restarts cleanly.
func (f *Flow) Submit(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return ErrInvalidCredentials
	}

	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.state != StateIdle && f.state != StateFailed {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: submit from %s", ErrUnexpectedState, state)
	}
	gen := f.generation
	f.busy = true
	f.pending = nil
	f.probeToken = ""
	f.setStateLocked(StateCredentialCheck)
	f.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	probeToken, probeErr := f.idp.CredentialProbe(probeCtx, email, password)
	cancel()

	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		return ErrCancelled
	}
	if probeErr != nil {
		f.busy = false
		f.pending = nil
		f.setStateLocked(StateFailed)
		f.mu.Unlock()
		f.log.Info("credential probe rejected", zap.String("email", logger.MaskEmail(email)))
		return ErrInvalidCredentials
	}
	f.pending = &PendingLogin{Email: email, Password: password}
	// The probe already signed its session out; the token is kept so Cancel
	// can re-assert that sign-out if the best-effort one failed.
	f.probeToken = probeToken
	f.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	sendErr := f.otp.Send(sendCtx, email)
	cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		return ErrCancelled
	}
	f.busy = false
	if sendErr != nil {
		f.pending = nil
		f.setStateLocked(StateFailed)
		return fmt.Errorf("send code: %w", sendErr)
	}
	f.cooldownUntil = f.now().Add(f.cooldown)
	f.setStateLocked(StateAwaitingOTP)
	return nil
}

// SubmitCode verifies the entered code and, on success, completes the real
// sign-in with the retained credentials. Rejections return the Flow to
// AwaitingOTP so the user can retry.
func (f *Flow) SubmitCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)

	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.state != StateAwaitingOTP || f.pending == nil {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: submit code from %s", ErrUnexpectedState, state)
	}
	pending := *f.pending
	gen := f.generation
	f.busy = true
	f.setStateLocked(StateVerifying)
	f.mu.Unlock()

	verifyCtx, cancel := context.WithTimeout(ctx, f.timeout)
	verifyErr := f.otp.Verify(verifyCtx, pending.Email, code)
	cancel()

	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		return ErrCancelled
	}
	if verifyErr != nil {
		f.busy = false
		f.setStateLocked(StateAwaitingOTP)
		f.mu.Unlock()
		return verifyErr
	}
	f.mu.Unlock()

	signInCtx, cancel := context.WithTimeout(ctx, f.timeout)
	session, signInErr := f.idp.PasswordSignIn(signInCtx, pending.Email, pending.Password)
	cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		return ErrCancelled
	}
	f.busy = false
	f.pending = nil
	if signInErr != nil {
		f.setStateLocked(StateFailed)
		return fmt.Errorf("complete sign-in: %w", signInErr)
	}
	f.session = session
	f.probeToken = ""
	f.setStateLocked(StateAuthenticated)
	return nil
}

// Resend requests a fresh code without re-running the credential probe.
// Only allowed from AwaitingOTP after the cooldown elapsed.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.state != StateAwaitingOTP || f.pending == nil {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: resend from %s", ErrUnexpectedState, state)
	}
	if remaining := f.cooldownUntil.Sub(f.now()); remaining > 0 {
		f.mu.Unlock()
		return &ResendCooldownError{Remaining: remaining}
	}
	email := f.pending.Email
	gen := f.generation
	f.busy = true
	f.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	err := f.otp.Send(sendCtx, email)
	cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		return ErrCancelled
	}
	f.busy = false
	if err != nil {
		// Stay in AwaitingOTP; the previously delivered code is still live.
		return fmt.Errorf("resend code: %w", err)
	}
	f.cooldownUntil = f.now().Add(f.cooldown)
	return nil
}

// Cancel abandons the attempt: clears retained credentials, invalidates any
// in-flight continuation, and re-asserts sign-out for the probe session and
// any session the flow holds, so no provider session survives the attempt.
func (f *Flow) Cancel(ctx context.Context) {
	f.mu.Lock()
	f.generation++
	f.busy = false
	f.pending = nil
	probeToken := f.probeToken
	f.probeToken = ""
	session := f.session
	f.session = nil
	f.cooldownUntil = time.Time{}
	f.setStateLocked(StateIdle)
	f.mu.Unlock()

	tokens := make([]string, 0, 2)
	if session != nil && session.AccessToken != "" {
		tokens = append(tokens, session.AccessToken)
	}
	if probeToken != "" && (session == nil || probeToken != session.AccessToken) {
		tokens = append(tokens, probeToken)
	}

	for _, token := range tokens {
		signOutCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := f.idp.SignOut(signOutCtx, token)
		cancel()
		if err != nil {
			f.log.Warn("sign-out on cancel failed", zap.Error(err))
		}
	}
}

// ObserveSession receives presence reports from a SessionWatch. Only an idle
// flow reacts; probe-session churn during an active attempt is ignored.
func (f *Flow) ObserveSession(user *domain.User) {
	f.mu.Lock()
	idle := f.state == StateIdle
	f.mu.Unlock()

	if !idle || user == nil {
		return
	}
	f.notifier.ExistingSession(*user)
}

// setStateLocked transitions and notifies; the caller holds f.mu.
func (f *Flow) setStateLocked(next State) {
	if f.state == next {
		return
	}
	prev := f.state
	f.state = next
	f.notifier.StateChanged(prev, next)
}

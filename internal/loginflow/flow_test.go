package loginflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/nowrise/authgate/internal/core/domain"
)

type fakeIdentity struct {
	mu            sync.Mutex
	probeErr      error
	signInErr     error
	signInCalls   int
	signInEmail   string
	signInPass    string
	signOutCalls  int
	signOutTokens []string
	currentUser   *domain.User
	currentErr    error
}

func (f *fakeIdentity) CredentialProbe(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return "", f.probeErr
	}
	return "probe-token", nil
}

func (f *fakeIdentity) PasswordSignIn(_ context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	f.signInEmail = email
	f.signInPass = password
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &domain.Session{AccessToken: "token-1", User: domain.User{Email: email}}, nil
}

func (f *fakeIdentity) SignOut(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	f.signOutTokens = append(f.signOutTokens, token)
	return nil
}

func (f *fakeIdentity) CurrentUser(context.Context, string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentUser, f.currentErr
}

type fakeGateway struct {
	mu            sync.Mutex
	sendCalls     int
	sendErr       error
	verifyCalls   int
	verifyErr     error
	lastCode      string
	verifyStarted chan struct{}
	verifyRelease chan struct{}
}

func (g *fakeGateway) Send(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendCalls++
	return g.sendErr
}

func (g *fakeGateway) Verify(_ context.Context, _, code string) error {
	g.mu.Lock()
	g.verifyCalls++
	g.lastCode = code
	started := g.verifyStarted
	release := g.verifyRelease
	err := g.verifyErr
	g.verifyStarted = nil
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return err
}

func (g *fakeGateway) CheckUser(context.Context, string) (bool, error) {
	return false, nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	transitions []string
	sessions    []domain.User
}

func (n *recordingNotifier) StateChanged(from, to State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, fmt.Sprintf("%s->%s", from, to))
}

func (n *recordingNotifier) ExistingSession(user domain.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, user)
}

func (n *recordingNotifier) sessionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

func newTestFlow(t *testing.T, idp *fakeIdentity, gw *fakeGateway, opts ...FlowOption) *Flow {
	t.Helper()
	opts = append([]FlowOption{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewFlow(idp, gw, opts...)
}

func TestFlowSubmitLeadsToAwaitingOTP(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{}
	flow := newTestFlow(t, idp, gw)

	if err := flow.Submit(context.Background(), "User@Example.com", "hunter2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := flow.State(); got != StateAwaitingOTP {
		t.Fatalf("state = %s, want awaiting_otp", got)
	}
	if gw.sendCalls != 1 {
		t.Fatalf("send calls = %d", gw.sendCalls)
	}
	if flow.ResendAvailableIn() <= 0 {
		t.Fatal("cooldown not armed after send")
	}
}

func TestFlowSubmitRejectsBadCredentials(t *testing.T) {
	idp := &fakeIdentity{probeErr: errors.New("400 from provider")}
	gw := &fakeGateway{}
	flow := newTestFlow(t, idp, gw)

	err := flow.Submit(context.Background(), "user@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if got := flow.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if gw.sendCalls != 0 {
		t.Fatal("code was sent despite failed probe")
	}

	// A failed flow restarts cleanly on the next submit.
	idp.probeErr = nil
	if err := flow.Submit(context.Background(), "user@example.com", "right"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := flow.State(); got != StateAwaitingOTP {
		t.Fatalf("state after resubmit = %s", got)
	}
}

func TestFlowSubmitSendFailureClearsPending(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{sendErr: &RateLimitedError{RetryAfter: 90 * time.Second}}
	flow := newTestFlow(t, idp, gw)

	err := flow.Submit(context.Background(), "user@example.com", "hunter2")

	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if limited.RetryAfter != 90*time.Second {
		t.Fatalf("retry after = %s", limited.RetryAfter)
	}
	if got := flow.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
}

func TestFlowSubmitCodeWrongThenCorrect(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{}
	flow := newTestFlow(t, idp, gw)

	if err := flow.Submit(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	gw.verifyErr = &CodeRejectedError{Message: "Invalid code.", AttemptsLeft: 4}
	err := flow.SubmitCode(context.Background(), "000000")

	var rejected *CodeRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want CodeRejectedError", err)
	}
	if rejected.AttemptsLeft != 4 {
		t.Fatalf("attempts left = %d", rejected.AttemptsLeft)
	}
	if got := flow.State(); got != StateAwaitingOTP {
		t.Fatalf("state after rejection = %s, want awaiting_otp", got)
	}

	gw.verifyErr = nil
	if err := flow.SubmitCode(context.Background(), "123456"); err != nil {
		t.Fatalf("submit correct code: %v", err)
	}
	if got := flow.State(); got != StateAuthenticated {
		t.Fatalf("state = %s, want authenticated", got)
	}
	if idp.signInCalls != 1 || idp.signInEmail != "user@example.com" || idp.signInPass != "hunter2" {
		t.Fatalf("unexpected sign-in: calls=%d email=%s", idp.signInCalls, idp.signInEmail)
	}
	if flow.Session() == nil {
		t.Fatal("no session retained after authentication")
	}
}

func TestFlowSubmitCodeFromIdle(t *testing.T) {
	flow := newTestFlow(t, &fakeIdentity{}, &fakeGateway{})

	err := flow.SubmitCode(context.Background(), "123456")
	if !errors.Is(err, ErrUnexpectedState) {
		t.Fatalf("err = %v, want ErrUnexpectedState", err)
	}
}

func TestFlowRejectsConcurrentSubmissions(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{}
	flow := newTestFlow(t, idp, gw)

	if err := flow.Submit(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	gw.verifyStarted = started
	gw.verifyRelease = release

	errCh := make(chan error, 1)
	go func() {
		errCh <- flow.SubmitCode(context.Background(), "123456")
	}()
	<-started

	if err := flow.Resend(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("resend during verify = %v, want ErrBusy", err)
	}
	if err := flow.SubmitCode(context.Background(), "654321"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second submit during verify = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first submit code: %v", err)
	}
	if got := flow.State(); got != StateAuthenticated {
		t.Fatalf("state = %s", got)
	}
}

func TestFlowCancelDiscardsLateVerify(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{}
	flow := newTestFlow(t, idp, gw)

	if err := flow.Submit(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	gw.verifyStarted = started
	gw.verifyRelease = release

	errCh := make(chan error, 1)
	go func() {
		errCh <- flow.SubmitCode(context.Background(), "123456")
	}()
	<-started

	flow.Cancel(context.Background())
	close(release)

	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Fatalf("late verify returned %v, want ErrCancelled", err)
	}
	if got := flow.State(); got != StateIdle {
		t.Fatalf("state after cancel = %s, want idle", got)
	}
	if idp.signInCalls != 0 {
		t.Fatal("sign-in ran despite cancellation")
	}
}

func TestFlowCancelSignsOutProbeSession(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{}
	flow := newTestFlow(t, idp, gw)

	if err := flow.Submit(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := flow.State(); got != StateAwaitingOTP {
		t.Fatalf("state = %s, want awaiting_otp", got)
	}

	flow.Cancel(context.Background())

	if got := flow.State(); got != StateIdle {
		t.Fatalf("state after cancel = %s, want idle", got)
	}
	if idp.signOutCalls != 1 {
		t.Fatalf("sign-out calls = %d, want 1", idp.signOutCalls)
	}
	if idp.signOutTokens[0] != "probe-token" {
		t.Fatalf("signed out token = %q, want the probe session's", idp.signOutTokens[0])
	}

	// A second cancel has nothing left to sign out.
	flow.Cancel(context.Background())
	if idp.signOutCalls != 1 {
		t.Fatalf("sign-out calls after second cancel = %d, want 1", idp.signOutCalls)
	}
}

func TestFlowResendCooldown(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{}

	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		current = current.Add(d)
	}

	flow := newTestFlow(t, idp, gw, WithClock(now))

	if err := flow.Submit(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	err := flow.Resend(context.Background())
	var cooldown *ResendCooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("err = %v, want ResendCooldownError", err)
	}
	if cooldown.Remaining <= 0 || cooldown.Remaining > time.Minute {
		t.Fatalf("remaining = %s", cooldown.Remaining)
	}

	advance(61 * time.Second)
	if err := flow.Resend(context.Background()); err != nil {
		t.Fatalf("resend after cooldown: %v", err)
	}
	if gw.sendCalls != 2 {
		t.Fatalf("send calls = %d, want 2", gw.sendCalls)
	}
	if flow.ResendAvailableIn() <= 0 {
		t.Fatal("cooldown not re-armed after resend")
	}
}

func TestFlowObserveSessionOnlyWhenIdle(t *testing.T) {
	idp := &fakeIdentity{}
	gw := &fakeGateway{}
	notifier := &recordingNotifier{}
	flow := newTestFlow(t, idp, gw, WithNotifier(notifier))

	user := &domain.User{ID: "u-1", Email: "user@example.com"}

	flow.ObserveSession(user)
	if notifier.sessionCount() != 1 {
		t.Fatalf("idle flow ignored session report")
	}

	flow.ObserveSession(nil)
	if notifier.sessionCount() != 1 {
		t.Fatal("nil report was surfaced")
	}

	if err := flow.Submit(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Probe-session churn during an active attempt stays invisible.
	flow.ObserveSession(user)
	if notifier.sessionCount() != 1 {
		t.Fatal("non-idle flow surfaced session report")
	}
}

func TestPendingLoginRedactsPassword(t *testing.T) {
	pending := PendingLogin{Email: "user@example.com", Password: "s3cret"}

	for _, rendered := range []string{
		fmt.Sprintf("%v", pending),
		fmt.Sprintf("%s", pending),
		fmt.Sprintf("%#v", pending),
		fmt.Sprint(pending),
	} {
		if strings.Contains(rendered, "s3cret") {
			t.Fatalf("password leaked: %s", rendered)
		}
		if !strings.Contains(rendered, "user@example.com") {
			t.Fatalf("email missing from %q", rendered)
		}
	}
}

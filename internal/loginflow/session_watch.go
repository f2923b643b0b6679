package loginflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/core/port"
)

const defaultWatchInterval = 30 * time.Second

// SessionObserver consumes presence reports. A nil user means no session is
// currently attached to the watched token.
type SessionObserver interface {
	ObserveSession(user *domain.User)
}

// TokenSource supplies the access token to probe, empty when none is held.
// Typically backed by whatever local storage the client keeps its session in.
type TokenSource func() string

// SessionWatch periodically asks the identity provider who the held token
// belongs to and reports the answer to an observer. It replaces a global
// "signed in somewhere, redirect" listener: the observer decides, state-gated,
// whether a report matters right now.
type SessionWatch struct {
	idp      port.IdentityProvider
	token    TokenSource
	observer SessionObserver
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// SessionWatchOption customizes a SessionWatch.
type SessionWatchOption func(*SessionWatch)

// WithWatchInterval overrides the polling interval.
func WithWatchInterval(d time.Duration) SessionWatchOption {
	return func(w *SessionWatch) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchTimeout overrides the per-probe deadline.
func WithWatchTimeout(d time.Duration) SessionWatchOption {
	return func(w *SessionWatch) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithWatchLogger installs a logger.
func WithWatchLogger(log *zap.Logger) SessionWatchOption {
	return func(w *SessionWatch) {
		if log != nil {
			w.log = log
		}
	}
}

// NewSessionWatch constructs a watch; Run starts it.
func NewSessionWatch(idp port.IdentityProvider, token TokenSource, observer SessionObserver, opts ...SessionWatchOption) *SessionWatch {
	w := &SessionWatch{
		idp:      idp,
		token:    token,
		observer: observer,
		interval: defaultWatchInterval,
		timeout:  defaultRequestTimeout,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. One probe runs immediately so a
// freshly started client learns about an existing session without waiting a
// full interval.
func (w *SessionWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

func (w *SessionWatch) probe(ctx context.Context) {
	token := w.token()
	if token == "" {
		w.observer.ObserveSession(nil)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	user, err := w.idp.CurrentUser(probeCtx, token)
	if err != nil {
		// Transient failures are not evidence of absence; report nothing.
		w.log.Debug("session probe failed", zap.Error(err))
		return
	}

	w.observer.ObserveSession(user)
}

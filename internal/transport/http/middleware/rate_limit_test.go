package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeRateLimitStore struct {
	count     int
	recordErr error
	trimErr   error
	oldest    time.Time
	hasOldest bool
	oldestErr error

	trimmedKeys []string
	recordedKey string
	recordCalls int
}

func (f *fakeRateLimitStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	f.trimmedKeys = append(f.trimmedKeys, identifier)
	return f.trimErr
}

func (f *fakeRateLimitStore) RecordAttempt(ctx context.Context, identifier string, window time.Duration, at time.Time) (int, error) {
	f.recordedKey = identifier
	f.recordCalls++
	return f.count, f.recordErr
}

func (f *fakeRateLimitStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	return f.oldest, f.hasOldest, f.oldestErr
}

func newLimitedRouter(limiter *RateLimiter, rule RateLimitRule) *gin.Engine {
	router := gin.New()
	router.Use(limiter.RateLimit(rule))
	router.POST("/otp", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func ipRule(limit int, window time.Duration) RateLimitRule {
	return RateLimitRule{
		Name:   "otp_ip",
		Limit:  limit,
		Window: window,
		Identifier: func(c *gin.Context) (string, bool) {
			return "192.0.2.1", true
		},
	}
}

func TestRateLimiterAllowsWhenBelowLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	oldest := now.Add(-30 * time.Second)

	store := &fakeRateLimitStore{
		count:     2,
		oldest:    oldest,
		hasOldest: true,
	}

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(limiter, ipRule(5, time.Minute))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/otp", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	if store.recordCalls != 1 {
		t.Fatalf("expected record attempt to be called once, got %d", store.recordCalls)
	}
	if store.recordedKey != "otp_ip:192.0.2.1" {
		t.Fatalf("unexpected storage key %q", store.recordedKey)
	}

	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "3" {
		t.Fatalf("expected remaining header 3, got %q", got)
	}

	expectedReset := oldest.Add(time.Minute).Unix()
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(expectedReset, 10) {
		t.Fatalf("expected reset header %d, got %q", expectedReset, got)
	}

	if got := rr.Header().Get("Retry-After"); got != "" {
		t.Fatalf("expected no retry-after header, got %q", got)
	}
}

func TestRateLimiterBlocksWhenLimitExceeded(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	oldest := now.Add(-30 * time.Second)

	store := &fakeRateLimitStore{
		count:     6,
		oldest:    oldest,
		hasOldest: true,
	}

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(limiter, ipRule(5, time.Minute))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/otp", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}

	// The blocked attempt was still recorded: rejected attempts hold the window open.
	if store.recordCalls != 1 {
		t.Fatalf("expected record attempt to be called once, got %d", store.recordCalls)
	}

	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining header 0, got %q", got)
	}

	retryAfter := rr.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected retry-after header")
	}
	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds <= 0 {
		t.Fatalf("expected positive retry-after seconds, got %q", retryAfter)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("unmarshal problem details: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests {
		t.Fatalf("problem status = %d", problem.Status)
	}
	if problem.RetryAfter != seconds {
		t.Fatalf("problem retry_after = %d, header = %d", problem.RetryAfter, seconds)
	}
	if problem.Instance != "/otp" {
		t.Fatalf("problem instance = %q", problem.Instance)
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &fakeRateLimitStore{recordErr: errors.New("redis down")}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t))
	router := newLimitedRouter(limiter, ipRule(1, time.Minute))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/otp", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", rr.Code)
	}
}

func TestRateLimiterSkipsInvalidRules(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &fakeRateLimitStore{count: 100}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t))

	router := newLimitedRouter(limiter, RateLimitRule{
		Name:   "no_identifier",
		Limit:  1,
		Window: time.Minute,
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/otp", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for rule without identifier, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("expected no store calls, got %d", store.recordCalls)
	}
}

package loginflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newFakeOTPServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/otp" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}

		var req struct {
			Action string `json:"action"`
			Email  string `json:"email"`
			OTP    string `json:"otp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request"})
			return
		}

		switch req.Action {
		case "send":
			switch req.Email {
			case "limited@example.com":
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":      "Too many OTP requests. Please try again later.",
					"retryAfter": 90,
				})
			case "broken@example.com":
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error": "Failed to send OTP. Please try again later.",
				})
			default:
				writeJSON(w, http.StatusOK, map[string]any{"success": true})
			}
		case "verify":
			if req.OTP == "123456" {
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "verified": true})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":        "Invalid code.",
				"attemptsLeft": 3,
			})
		case "check-user":
			writeJSON(w, http.StatusOK, map[string]any{"exists": req.Email == "known@example.com"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request"})
		}
	}))
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestOTPClientSend(t *testing.T) {
	srv := newFakeOTPServer(t)
	defer srv.Close()

	client := NewOTPClient(srv.URL)

	if err := client.Send(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestOTPClientSendRateLimited(t *testing.T) {
	srv := newFakeOTPServer(t)
	defer srv.Close()

	client := NewOTPClient(srv.URL)

	err := client.Send(context.Background(), "limited@example.com")

	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if limited.RetryAfter != 90*time.Second {
		t.Fatalf("retry after = %s, want 90s", limited.RetryAfter)
	}
	if limited.Message == "" {
		t.Fatal("server message lost")
	}
}

func TestOTPClientSendServerError(t *testing.T) {
	srv := newFakeOTPServer(t)
	defer srv.Close()

	client := NewOTPClient(srv.URL)

	err := client.Send(context.Background(), "broken@example.com")
	if err == nil {
		t.Fatal("expected error on 500")
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		t.Fatalf("500 misclassified as rate limit: %v", err)
	}
}

func TestOTPClientVerify(t *testing.T) {
	srv := newFakeOTPServer(t)
	defer srv.Close()

	client := NewOTPClient(srv.URL)

	if err := client.Verify(context.Background(), "user@example.com", "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	err := client.Verify(context.Background(), "user@example.com", "000000")
	var rejected *CodeRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want CodeRejectedError", err)
	}
	if rejected.AttemptsLeft != 3 {
		t.Fatalf("attempts left = %d, want 3", rejected.AttemptsLeft)
	}
	if rejected.Message != "Invalid code." {
		t.Fatalf("message = %q", rejected.Message)
	}
}

func TestOTPClientCheckUser(t *testing.T) {
	srv := newFakeOTPServer(t)
	defer srv.Close()

	client := NewOTPClient(srv.URL)

	exists, err := client.CheckUser(context.Background(), "known@example.com")
	if err != nil {
		t.Fatalf("check-user: %v", err)
	}
	if !exists {
		t.Fatal("expected known account")
	}

	exists, err = client.CheckUser(context.Background(), "stranger@example.com")
	if err != nil {
		t.Fatalf("check-user: %v", err)
	}
	if exists {
		t.Fatal("expected unknown account")
	}
}

func TestOTPClientUnreachableServer(t *testing.T) {
	client := NewOTPClient("http://127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := client.Send(ctx, "user@example.com"); err == nil {
		t.Fatal("expected transport error")
	}
}

package mail

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/infra/config"
)

func TestNewSenderDisabledWithoutCredentials(t *testing.T) {
	sender := NewSender(config.MailSettings{Host: "smtp.example.com", Port: 587}, zap.NewNop())

	if sender.Enabled() {
		t.Fatal("expected disabled sender without credentials")
	}
	if err := sender.SendCode(context.Background(), "user@example.com", "123456", 10*time.Minute); err != nil {
		t.Fatalf("disabled sender must not fail: %v", err)
	}
}

func TestNewSenderEnabledWithCredentials(t *testing.T) {
	sender := NewSender(config.MailSettings{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "mailer@example.com",
		Password: "secret",
		From:     "no-reply@example.com",
		Subject:  "Your verification code",
	}, zap.NewNop())

	if !sender.Enabled() {
		t.Fatal("expected enabled sender with credentials")
	}
}

func TestBuildMessageEmbedsCodeAndValidity(t *testing.T) {
	sender := &SMTPSender{
		from:    "no-reply@example.com",
		subject: "Your verification code",
		logger:  zap.NewNop(),
	}

	msg := sender.buildMessage("user@example.com", "428913", 10*time.Minute)

	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "user@example.com" {
		t.Fatalf("unexpected To header: %v", got)
	}
	if got := msg.GetHeader("Subject"); len(got) != 1 || got[0] != "Your verification code" {
		t.Fatalf("unexpected Subject header: %v", got)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("render message: %v", err)
	}
	body := buf.String()
	if !strings.Contains(body, "428913") {
		t.Fatal("expected rendered body to contain the code")
	}
	if !strings.Contains(body, "10 minutes") {
		t.Fatal("expected rendered body to contain the validity window")
	}
}

func TestFormatValidity(t *testing.T) {
	if got := formatValidity(10 * time.Minute); got != "10 minutes" {
		t.Fatalf("formatValidity(10m) = %q", got)
	}
	if got := formatValidity(30 * time.Second); got != "1 minute" {
		t.Fatalf("formatValidity(30s) = %q", got)
	}
}

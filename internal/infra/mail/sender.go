package mail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/nowrise/authgate/internal/core/port"
	"github.com/nowrise/authgate/internal/infra/config"
	"github.com/nowrise/authgate/internal/infra/logger"
)

// Kept to short lines so quoted-printable encoding never splits the code.
const codeTemplate = `<div style="font-family:Arial,sans-serif;max-width:480px">
  <h2 style="color:#1a1a2e">Verify your sign-in</h2>
  <p>Enter this code to finish signing in:</p>
  <p style="font-size:32px;letter-spacing:8px;font-weight:bold">
    %s
  </p>
  <p style="color:#6b7280">
    The code expires in %s.
    If you did not request it, you can ignore this email.
  </p>
</div>`

// SMTPSender delivers one-time codes through a transactional SMTP account.
type SMTPSender struct {
	dialer  *gomail.Dialer
	from    string
	subject string
	logger  *zap.Logger
}

// NewSender returns the SMTP sender when credentials are configured, or the
// disabled sender otherwise. A disabled channel keeps send requests
// succeeding without delivering, and the code is never logged.
func NewSender(cfg config.MailSettings, log *zap.Logger) port.CodeSender {
	if cfg.Username == "" || cfg.Password == "" {
		log.Warn("mail credentials absent, code delivery disabled")
		return &DisabledSender{}
	}

	return &SMTPSender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		subject: cfg.Subject,
		logger:  log,
	}
}

// SendCode emails the plaintext code using the fixed template.
func (s *SMTPSender) SendCode(ctx context.Context, email string, code string, validity time.Duration) error {
	msg := s.buildMessage(email, code, validity)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send code email: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("send code email: %w", ctx.Err())
	}

	s.logger.Info("verification code emailed", zap.String("email", logger.MaskEmail(email)))
	return nil
}

// Enabled reports that a real delivery channel is configured.
func (s *SMTPSender) Enabled() bool {
	return true
}

func (s *SMTPSender) buildMessage(email, code string, validity time.Duration) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", s.subject)
	msg.SetBody("text/html", fmt.Sprintf(codeTemplate, code, formatValidity(validity)))
	return msg
}

func formatValidity(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// DisabledSender accepts codes without delivering them anywhere. It exists so
// non-production deployments without SMTP credentials keep working, and it
// deliberately never sees a logger.
type DisabledSender struct{}

// SendCode is a no-op.
func (*DisabledSender) SendCode(context.Context, string, string, time.Duration) error {
	return nil
}

// Enabled reports that no delivery channel is configured.
func (*DisabledSender) Enabled() bool {
	return false
}

var (
	_ port.CodeSender = (*SMTPSender)(nil)
	_ port.CodeSender = (*DisabledSender)(nil)
)

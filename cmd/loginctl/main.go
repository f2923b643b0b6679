// loginctl is an interactive terminal client for the OTP-gated login flow.
// It drives the loginflow state machine against a running OTP service and
// the identity provider: credential check, code entry, resend, and cancel.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/infra/config"
	"github.com/nowrise/authgate/internal/infra/identity"
	"github.com/nowrise/authgate/internal/infra/logger"
	"github.com/nowrise/authgate/internal/loginflow"
)

func main() {
	_ = godotenv.Load()

	otpURL := flag.String("base-url", envOr("AUTHGATE_OTP_URL", "http://localhost:8080"), "base URL of the OTP service")
	identityURL := flag.String("identity-url", envOr("AUTHGATE_IDENTITY_BASE_URL", "http://localhost:9999"), "base URL of the identity provider")
	watchInterval := flag.Duration("watch-interval", 30*time.Second, "session presence polling interval")
	flag.Parse()

	log, err := logger.New("development")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	idp := identity.NewClient(config.IdentitySettings{
		BaseURL:    *identityURL,
		APIKey:     os.Getenv("AUTHGATE_IDENTITY_API_KEY"),
		ServiceKey: os.Getenv("AUTHGATE_IDENTITY_SERVICE_KEY"),
	}, log)

	otp := loginflow.NewOTPClient(*otpURL, loginflow.WithOTPClientLogger(log))

	flow := loginflow.NewFlow(idp, otp,
		loginflow.WithNotifier(&consoleNotifier{}),
		loginflow.WithLogger(log),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watch := loginflow.NewSessionWatch(idp, func() string {
		if session := flow.Session(); session != nil {
			return session.AccessToken
		}
		return ""
	}, flow, loginflow.WithWatchInterval(*watchInterval), loginflow.WithWatchLogger(log))
	go watch.Run(ctx)

	fmt.Printf("otp service: %s\nidentity:    %s\n\n", *otpURL, *identityURL)
	printHelp()

	runPrompt(ctx, flow, otp)
}

func runPrompt(ctx context.Context, flow *loginflow.Flow, otp *loginflow.OTPClient) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("[%s] > ", flow.State())
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		command, args := fields[0], fields[1:]

		switch command {
		case "login":
			if len(args) != 1 {
				fmt.Println("usage: login <email>")
				continue
			}
			fmt.Print("password: ")
			if !scanner.Scan() {
				return
			}
			password := scanner.Text()
			reportError(flow.Submit(ctx, args[0], password))

		case "code":
			if len(args) != 1 {
				fmt.Println("usage: code <6 digits>")
				continue
			}
			reportError(flow.SubmitCode(ctx, args[0]))

		case "resend":
			reportError(flow.Resend(ctx))

		case "cancel":
			flow.Cancel(ctx)

		case "check":
			if len(args) != 1 {
				fmt.Println("usage: check <email>")
				continue
			}
			exists, err := otp.CheckUser(ctx, args[0])
			if err != nil {
				fmt.Printf("  error: %v\n", err)
				continue
			}
			fmt.Printf("  account exists: %v\n", exists)

		case "status":
			fmt.Printf("  state: %s\n", flow.State())
			if wait := flow.ResendAvailableIn(); wait > 0 {
				fmt.Printf("  resend available in %s\n", wait.Round(time.Second))
			}
			if session := flow.Session(); session != nil {
				fmt.Printf("  signed in as %s\n", session.User.Email)
			}

		case "help":
			printHelp()

		case "quit", "exit":
			flow.Cancel(ctx)
			return

		default:
			fmt.Printf("unknown command %q; try help\n", command)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func reportError(err error) {
	if err == nil {
		return
	}

	var cooldown *loginflow.ResendCooldownError
	var limited *loginflow.RateLimitedError
	var rejected *loginflow.CodeRejectedError

	switch {
	case errors.Is(err, loginflow.ErrInvalidCredentials):
		fmt.Println("  invalid email or password")
	case errors.Is(err, loginflow.ErrBusy):
		fmt.Println("  previous request still running")
	case errors.Is(err, loginflow.ErrCancelled):
		fmt.Println("  cancelled")
	case errors.As(err, &cooldown):
		fmt.Printf("  %v\n", cooldown)
	case errors.As(err, &limited):
		if limited.RetryAfter > 0 {
			fmt.Printf("  %s (retry in %s)\n", limited.Error(), limited.RetryAfter.Round(time.Second))
		} else {
			fmt.Printf("  %s\n", limited.Error())
		}
	case errors.As(err, &rejected):
		if rejected.AttemptsLeft >= 0 {
			fmt.Printf("  %s (%d attempts left)\n", rejected.Error(), rejected.AttemptsLeft)
		} else {
			fmt.Printf("  %s\n", rejected.Error())
		}
	default:
		fmt.Printf("  error: %v\n", err)
	}
}

type consoleNotifier struct{}

func (consoleNotifier) StateChanged(from, to loginflow.State) {
	fmt.Printf("  %s -> %s\n", from, to)
}

func (consoleNotifier) ExistingSession(user domain.User) {
	fmt.Printf("  already signed in as %s\n", user.Email)
}

func printHelp() {
	fmt.Println(`commands:
  login <email>   start a login (prompts for password)
  code <digits>   submit the received one-time code
  resend          request a fresh code
  cancel          abandon the attempt
  check <email>   ask whether an account exists
  status          show flow state
  quit`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

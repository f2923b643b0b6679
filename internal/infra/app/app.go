package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nowrise/authgate/internal/core/port"
	"github.com/nowrise/authgate/internal/infra/config"
	"github.com/nowrise/authgate/internal/infra/database"
	"github.com/nowrise/authgate/internal/infra/identity"
	kafkainfra "github.com/nowrise/authgate/internal/infra/kafka"
	"github.com/nowrise/authgate/internal/infra/logger"
	"github.com/nowrise/authgate/internal/infra/mail"
	redisinfra "github.com/nowrise/authgate/internal/infra/redis"
	"github.com/nowrise/authgate/internal/infra/telemetry"
	postgresrepo "github.com/nowrise/authgate/internal/repository/postgres"
	redisrepo "github.com/nowrise/authgate/internal/repository/redis"
	"github.com/nowrise/authgate/internal/transport/http/middleware"
	"github.com/nowrise/authgate/internal/transport/http/routes"
	"github.com/nowrise/authgate/internal/usecase"
)

// Application owns the wired service graph and its lifecycle.
type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	kafka  *kafkainfra.Producer
	tracer *telemetry.TracerProvider
	otp    *usecase.OTPService
}

// New wires configuration into a runnable application.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if _, err := telemetry.Attach(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.Enabled {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	challenges := postgresrepo.NewChallengeRepository(pool)

	sendWindow := cfg.OTP.SendWindow
	if sendWindow <= 0 {
		sendWindow = 5 * time.Minute
	}
	sendWindowStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.SendWindowPrefix,
		TTL:       sendWindow * 2,
	})

	ipWindow := cfg.RateLimit.WindowDuration
	if ipWindow <= 0 {
		ipWindow = time.Minute
	}
	ipWindowStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.IPWindowPrefix,
		TTL:       ipWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(ipWindowStore, log)

	var eventPublisher port.EventPublisher
	var kafkaProducer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("kafka producer init failed, using stub publisher", zap.Error(err))
			kafkaProducer = nil
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	sender := mail.NewSender(cfg.Mail, log)
	identityClient := identity.NewClient(cfg.Identity, log)

	otpService := usecase.NewOTPService(cfg, challenges, sendWindowStore, sender, identityClient, eventPublisher, log)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		OTP:         otpService,
		Metrics:     metrics,
		Database:    pool,
		Cache:       redisClient,
	})

	return &Application{
		cfg:    cfg,
		engine: engine,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		kafka:  kafkaProducer,
		tracer: tracer,
		otp:    otpService,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.kafka != nil {
			if err := a.kafka.Close(); err != nil {
				a.logger.Warn("close kafka producer", zap.Error(err))
			}
		}
	}()
	defer func() {
		if a.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.tracer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("shutdown tracer", zap.Error(err))
			}
		}
	}()

	go a.runSweeper(ctx)

	readTimeout := a.cfg.HTTP.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := a.cfg.HTTP.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 20 * time.Second
	}
	idleTimeout := a.cfg.HTTP.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	a.logger.Info("starting OTP API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// runSweeper periodically deletes expired challenges. Per-request expiry
// handling already deletes eagerly; the sweep clears rows nobody revisits.
func (a *Application) runSweeper(ctx context.Context) {
	interval := a.cfg.OTP.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			removed, err := a.otp.SweepExpired(sweepCtx)
			cancel()

			if err != nil {
				a.logger.Warn("challenge sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				a.logger.Info("swept expired challenges", zap.Int("removed", removed))
			}
		}
	}
}

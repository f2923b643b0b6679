package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	HTTP      HTTPSettings      `mapstructure:"http"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	OTP       OTPSettings       `mapstructure:"otp"`
	Mail      MailSettings      `mapstructure:"mail"`
	Identity  IdentitySettings  `mapstructure:"identity"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HTTPSettings configures the outer HTTP surface, including the CORS policy.
// AllowedOrigins is an exact-match allow-list; PreviewOriginSuffixes admits
// preview-deployment origins by hostname suffix (scheme must be https).
type HTTPSettings struct {
	AllowedOrigins        []string      `mapstructure:"allowed_origins"`
	PreviewOriginSuffixes []string      `mapstructure:"preview_origin_suffixes"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	DB               int    `mapstructure:"db"`
	Password         string `mapstructure:"password"`
	TLSEnabled       bool   `mapstructure:"tls_enabled"`
	SendWindowPrefix string `mapstructure:"send_window_prefix"`
	IPWindowPrefix   string `mapstructure:"ip_window_prefix"`
}

// KafkaSettings configures the Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// OTPSettings governs challenge issuance and verification.
type OTPSettings struct {
	ChallengeTTL      time.Duration `mapstructure:"challenge_ttl"`
	MaxVerifyAttempts int           `mapstructure:"max_verify_attempts"`
	SendLimit         int           `mapstructure:"send_limit"`
	SendWindow        time.Duration `mapstructure:"send_window"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// MailSettings configures the SMTP delivery channel. Empty credentials leave
// the sender disabled: send requests still succeed, nothing is delivered.
type MailSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Subject  string `mapstructure:"subject"`
}

// IdentitySettings points at the external auth platform.
type IdentitySettings struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	ServiceKey     string        `mapstructure:"service_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AdminPageSize  int           `mapstructure:"admin_page_size"`
}

// RateLimitSettings configures the coarse per-IP guard in front of /otp.
type RateLimitSettings struct {
	WindowDuration time.Duration `mapstructure:"window_duration"`
	OTPMaxRequests int           `mapstructure:"otp_max_requests"`
}

type TelemetrySettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTHGATE")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"http.allowed_origins",
		"http.preview_origin_suffixes",
		"http.read_timeout",
		"http.write_timeout",
		"http.idle_timeout",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.send_window_prefix",
		"redis.ip_window_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"otp.challenge_ttl",
		"otp.max_verify_attempts",
		"otp.send_limit",
		"otp.send_window",
		"otp.sweep_interval",
		"mail.host",
		"mail.port",
		"mail.username",
		"mail.password",
		"mail.from",
		"mail.subject",
		"identity.base_url",
		"identity.api_key",
		"identity.service_key",
		"identity.request_timeout",
		"identity.admin_page_size",
		"rate_limit.window_duration",
		"rate_limit.otp_max_requests",
		"telemetry.enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "authgate")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.preview_origin_suffixes", []string{})
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "20s")
	v.SetDefault("http.idle_timeout", "60s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "authgate")
	v.SetDefault("postgres.password", "authgate_password")
	v.SetDefault("postgres.database", "authgate")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.send_window_prefix", "authgate:otp:send")
	v.SetDefault("redis.ip_window_prefix", "authgate:otp:ip")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "authgate")
	v.SetDefault("kafka.async", true)

	v.SetDefault("otp.challenge_ttl", "10m")
	v.SetDefault("otp.max_verify_attempts", 5)
	v.SetDefault("otp.send_limit", 3)
	v.SetDefault("otp.send_window", "5m")
	v.SetDefault("otp.sweep_interval", "10m")

	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "no-reply@nowrise.dev")
	v.SetDefault("mail.subject", "Your verification code")

	v.SetDefault("identity.base_url", "http://localhost:9999")
	v.SetDefault("identity.api_key", "")
	v.SetDefault("identity.service_key", "")
	v.SetDefault("identity.request_timeout", "15s")
	v.SetDefault("identity.admin_page_size", 50)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.otp_max_requests", 30)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "authgate")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTHGATE_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

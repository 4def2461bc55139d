package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/authcore/pkg/config"
)

const (
	devAccessSecret  = "change-this-access-secret"
	devRefreshSecret = "change-this-refresh-secret"
	minSecretLength  = 32
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Notifier drivers.
const (
	NotifierKafka    = "kafka"
	NotifierPostmark = "postmark"
	NotifierLog      = "log"
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"auth"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"auth_secret"`
	PostgresDB            string `env:"POSTGRES_DB" envDefault:"auth_db"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"30"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"5"`

	// Tokens
	JWTSecret             string        `env:"JWT_SECRET" envDefault:"change-this-access-secret"`
	JWTAccessTTL          time.Duration `env:"JWT_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshJWTSecret      string        `env:"REFRESH_JWT_SECRET" envDefault:"change-this-refresh-secret"`
	JWTRefreshTTL         time.Duration `env:"JWT_REFRESH_TOKEN_TTL" envDefault:"168h"`
	PendingTermsAccessTTL time.Duration `env:"PENDING_TERMS_ACCESS_TTL" envDefault:"10m"`
	VerificationTokenTTL  time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	PasswordResetTokenTTL time.Duration `env:"PASSWORD_RESET_TOKEN_TTL" envDefault:"1h"`
	UnsubscribeTokenTTL   time.Duration `env:"UNSUBSCRIBE_TOKEN_TTL" envDefault:"720h"`
	NotifyTimeout         time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"15s"`

	// Argon2id cost
	Argon2Time      uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Argon2MemoryKiB uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Threads   uint8  `env:"ARGON2_THREADS" envDefault:"4"`

	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	// Notifications
	NotifierDriver       string   `env:"NOTIFIER_DRIVER" envDefault:"log"`
	KafkaBrokers         []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	PostmarkServerToken  string   `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string   `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string   `env:"SENDER_EMAIL" envDefault:"no-reply@localhost"`
	SupportEmail         string   `env:"SUPPORT_EMAIL" envDefault:"support@localhost"`

	// reCAPTCHA
	RecaptchaEnabled   bool    `env:"RECAPTCHA_ENABLED" envDefault:"false"`
	RecaptchaSecretKey string  `env:"RECAPTCHA_SECRET_KEY"`
	RecaptchaVerifyURL string  `env:"RECAPTCHA_VERIFY_URL" envDefault:"https://www.google.com/recaptcha/api/siteverify"`
	RecaptchaMinScore  float64 `env:"RECAPTCHA_MIN_SCORE" envDefault:"0.5"`

	// Google OAuth. Sign-in with Google is off while the client ID is empty.
	GoogleClientID     string        `env:"GOOGLE_OAUTH_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_OAUTH_CLIENT_SECRET"`
	GoogleRedirectURL  string        `env:"GOOGLE_OAUTH_REDIRECT_URL" envDefault:"http://localhost:8080/api/v1/auth/google/callback"`
	GoogleStateTTL     time.Duration `env:"GOOGLE_OAUTH_STATE_TTL" envDefault:"10m"`

	// Redis holds OAuth state.
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	OTELInsecure   bool    `env:"OTEL_INSECURE" envDefault:"true"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field rules. pkgconfig.Load calls it after parsing.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StoreDriver {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}

	switch c.NotifierDriver {
	case NotifierKafka, NotifierLog:
	case NotifierPostmark:
		if c.PostmarkServerToken == "" || c.PostmarkAccountToken == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN and POSTMARK_ACCOUNT_TOKEN are required when NOTIFIER_DRIVER is %q", NotifierPostmark)
		}
	default:
		return fmt.Errorf("NOTIFIER_DRIVER must be one of kafka, postmark, log; got %q", c.NotifierDriver)
	}

	if c.RecaptchaEnabled && c.RecaptchaSecretKey == "" {
		return fmt.Errorf("RECAPTCHA_SECRET_KEY is required when RECAPTCHA_ENABLED is true")
	}
	if c.GoogleClientID != "" && c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_OAUTH_CLIENT_SECRET is required when GOOGLE_OAUTH_CLIENT_ID is set")
	}

	if c.JWTSecret == c.RefreshJWTSecret {
		return fmt.Errorf("JWT_SECRET and REFRESH_JWT_SECRET must differ")
	}

	// Outside development both signing secrets must be set explicitly and be strong.
	if c.Environment != "development" {
		if c.JWTSecret == devAccessSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if c.RefreshJWTSecret == devRefreshSecret {
			return fmt.Errorf("REFRESH_JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < minSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTSecret))
		}
		if len(c.RefreshJWTSecret) < minSecretLength {
			return fmt.Errorf("REFRESH_JWT_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.RefreshJWTSecret))
		}
	}

	return nil
}

// GoogleEnabled reports whether sign-in with Google is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

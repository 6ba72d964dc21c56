// Package config defines the configuration for the Gather jobs service.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor principles by strictly separating code
// from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail fast.
package config

import (
	"time"

	"gather/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the jobs service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"gather-jobs"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Email    EmailConfig
	Copy     CopyConfig
	Worker   WorkerConfig
	Unlock   UnlockConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// EmailConfig holds email delivery provider credentials. Both values are
// optional: without them every send fails with a descriptive per-recipient
// error and jobs still reach a terminal state, which keeps local
// development and CI free of provider credentials.
type EmailConfig struct {
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY"`
	From         string       `envconfig:"MAIL_FROM"` // verified sender address
	Provider     string       `envconfig:"EMAIL_PROVIDER" default:"resend"`
}

// CopyConfig holds the AI copy provider settings. The API key is optional:
// absent, all recipient copy comes from the deterministic templates.
type CopyConfig struct {
	APIKey  SecretString  `envconfig:"COPY_API_KEY"`
	BaseURL string        `envconfig:"COPY_BASE_URL" default:"https://api.openai.com"`
	Model   string        `envconfig:"COPY_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"COPY_TIMEOUT" default:"4s"`
}

// WorkerConfig holds notification worker settings. CronSecret is the
// optional shared secret the external scheduler must present in the
// x-cron-secret header; when unset the endpoint is open.
type WorkerConfig struct {
	CronSecret  SecretString `envconfig:"CRON_SECRET"`
	BatchSize   int          `envconfig:"WORKER_BATCH_SIZE" default:"10" validate:"min=1"`
	MaxAttempts int          `envconfig:"WORKER_MAX_ATTEMPTS" default:"3" validate:"min=1"`
}

// UnlockConfig holds scheduled location-unlock settings. The unlock fires
// when an event is LeadMinutes +/- ToleranceMinutes away from starting.
//
// The tolerance exists to absorb scheduler invocation jitter: the external
// cron cadence MUST be no coarser than the full window width
// (2*ToleranceMinutes), otherwise events can fall through the window
// entirely and never unlock.
type UnlockConfig struct {
	SchedulerToken   SecretString `envconfig:"SCHEDULER_TOKEN"`
	AdminAPIKey      SecretString `envconfig:"ADMIN_API_KEY"`
	LeadMinutes      int          `envconfig:"UNLOCK_LEAD_MINUTES" default:"60" validate:"min=1"`
	ToleranceMinutes int          `envconfig:"UNLOCK_TOLERANCE_MINUTES" default:"5" validate:"min=0"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

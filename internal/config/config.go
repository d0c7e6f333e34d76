package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Notify    NotifyConfig    `mapstructure:"notify" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	// Driver selects the store implementation. The memory driver keeps all
	// state in process and is meant for local runs only.
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	URL             string        `mapstructure:"url" validate:"required_if=Driver postgres,omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// AuthConfig contains the settings for verifying bearer tokens issued by the
// identity service.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// SchedulerConfig controls the background scheduler loop.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// TickInterval is the pause between the starts of two ticks.
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"min=1s"`
	// TickTimeout bounds a whole tick; StepTimeout bounds each store or
	// dispatch call of a single template or instance.
	TickTimeout time.Duration `mapstructure:"tick_timeout" validate:"gt=0"`
	StepTimeout time.Duration `mapstructure:"step_timeout" validate:"gt=0,ltefield=TickTimeout"`
	Workers     int           `mapstructure:"workers" validate:"min=1,max=256"`
	// MaxCatchUp caps the periods materialized per template and tick.
	// Remaining periods follow on later ticks. Zero means no cap.
	MaxCatchUp int `mapstructure:"max_catch_up" validate:"gte=0"`
	// ClaimLease is how long a claimed reminder fire stays reserved for the
	// scheduler dispatching it.
	ClaimLease time.Duration `mapstructure:"claim_lease" validate:"gtfield=StepTimeout"`
}

// NotifyConfig configures the notification dispatch sink. Without a webhook
// URL notifications are only logged.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RatePerSec float64       `mapstructure:"rate_per_sec" validate:"gt=0"`
	Burst      int           `mapstructure:"burst" validate:"min=1"`
}

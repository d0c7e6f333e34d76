package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load,
// e.g. TASKENGINE_DATABASE_URL.
const EnvPrefix = "TASKENGINE"

// Loader reads configuration from defaults, an optional YAML file and the
// environment. Environment variables take precedence over the file.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	path     string
}

// NewLoader creates a Loader. An empty path looks for an optional
// config.yaml in the working directory; a non-empty path must exist.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	return &Loader{v: v, validate: validator.New(), path: path}
}

// Load configuration from environment variables and optionally config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the configuration whenever the config file changes and hands
// the result to onChange. A reload that fails validation is reported through
// err and should leave the running configuration in place. Watch does nothing
// when no config file is in use.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config file changed", "file", e.Name, "op", e.Op.String())
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			onChange(nil, fmt.Errorf("decoding config: %w", err))
			return
		}
		if err := l.validate.Struct(&cfg); err != nil {
			onChange(nil, fmt.Errorf("invalid config: %w", err))
			return
		}
		onChange(&cfg, nil)
	})
	l.v.WatchConfig()
}

// setDefaults registers every key so environment variables are picked up by
// Unmarshal even when the file does not mention them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.tick_timeout", 50*time.Second)
	v.SetDefault("scheduler.step_timeout", 5*time.Second)
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.max_catch_up", 0)
	v.SetDefault("scheduler.claim_lease", 30*time.Second)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.rate_per_sec", 10.0)
	v.SetDefault("notify.burst", 20)
}

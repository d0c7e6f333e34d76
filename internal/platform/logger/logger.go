package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/crewdesk/taskengine/internal/config"
)

// level is shared by every logger created by Setup so SetLevel takes effect
// without rebuilding handlers.
var level = new(slog.LevelVar)

// ParseLevel parses a level name case-insensitively. The second result is false
// for unknown names, in which case LevelInfo is returned.
func ParseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes the application's logging system from the server config.
// It creates a structured JSON logger writing to stdout, sets it as the slog
// default and returns it.
func Setup(cfg config.ServerConfig) *slog.Logger {
	return SetupWithWriter(cfg, os.Stdout)
}

// SetupWithWriter is Setup with an explicit output.
func SetupWithWriter(cfg config.ServerConfig, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	SetLevel(cfg.LogLevel)
	return logger
}

// SetLevel changes the level of every logger created by Setup. An invalid level
// falls back to info and logs a warning.
func SetLevel(raw string) slog.Level {
	parsed, ok := ParseLevel(raw)
	level.Set(parsed)
	if !ok {
		slog.Warn("invalid log level configured, using default level",
			"configured_level", raw,
			"default_level", "info")
	}
	return parsed
}

// Level returns the current level of loggers created by Setup.
func Level() slog.Level {
	return level.Level()
}

// Package log provides JSON-lines structured logging for the tidum server
// and CLI.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures the structured logger.
type Config struct {
	// Output is the writer for log output (default: os.Stderr)
	Output io.Writer

	// Level is the minimum log level (default: LevelInfo)
	Level slog.Level

	// Debug enables debug level logging (overrides Level)
	Debug bool
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Output: os.Stderr,
		Level:  slog.LevelInfo,
		Debug:  false,
	}
}

// New creates a new JSON-lines structured logger:
//
//	{"ts":"2026-01-24T10:30:00Z","level":"INFO","msg":"server started","version":"0.4.0","addr":":8080"}
//
// Log levels:
//   - debug: Per-decision traces (enabled via TIDUM_DEBUG=1)
//   - info: Startup, shutdown, team default changes
//   - warn: Degraded requests, invalid tunables replaced by defaults
//   - error: Fatal issues requiring attention
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	level := cfg.Level
	if cfg.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Key = "ts"
			}
			return a
		},
	}

	return slog.New(slog.NewJSONHandler(output, opts))
}

// ParseLevel maps a config string to a level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewFromEnv creates a logger at level, or debug when TIDUM_DEBUG=1.
func NewFromEnv(level string) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = ParseLevel(level)
	if os.Getenv("TIDUM_DEBUG") == "1" {
		cfg.Debug = true
	}
	return New(cfg)
}

// StartupInfo holds information to log at server startup.
type StartupInfo struct {
	Version       string
	ConfigPath    string
	DatabasePath  string
	Addr          string
	MetricsCache  string
	SchemaVersion int
	PID           int
}

// LogStartup logs server startup information.
func LogStartup(logger *slog.Logger, info StartupInfo) {
	logger.Info("server started",
		"version", info.Version,
		"config_path", info.ConfigPath,
		"database_path", info.DatabasePath,
		"schema_version", info.SchemaVersion,
		"addr", info.Addr,
		"metrics_cache", info.MetricsCache,
		"pid", info.PID,
	)
}

// LogShutdown logs server shutdown.
func LogShutdown(logger *slog.Logger, reason string) {
	logger.Info("server shutting down", "reason", reason)
}

// LogSQLiteError logs SQLite errors.
func LogSQLiteError(logger *slog.Logger, operation string, err error) {
	logger.Error("sqlite error", "operation", operation, "error", err)
}

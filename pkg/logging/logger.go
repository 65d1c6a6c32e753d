// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above, including every attempt and backoff.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Component names attached to every log line as the "component" field.
const (
	ComponentClient     = "ghfetch-client"
	ComponentPagination = "ghfetch-pagination"
	ComponentRateLimit  = "ghfetch-ratelimit"
	ComponentCLI        = "ghfetch-cli"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
// Logs go to stderr so stdout carries only command output.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
// Loggers created with NewLogger afterwards inherit its output and fields.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. Unknown names map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Every attempt and the backoff chosen before a retry
//   - Malformed Retry-After / X-RateLimit-Reset hints that were ignored
//   - Per-page item counts and next-link presence
//   - Quota state updates
//
// Info: Normal operation events
//   - Requests that succeeded after a retry
//   - Traversal completion (pages, items, duration)
//
// Warn: Warning conditions that don't prevent operation
//   - Retryable failures (server, rate_limit, network)
//   - Retry budget exhausted
//   - Low or exhausted quota
//   - Quota tracker write failures
//
// Error: Error conditions requiring attention
//   - Command failures reported by the CLI
//
// Context Fields:
//   - component: ghfetch-client, ghfetch-pagination, ghfetch-ratelimit, ghfetch-cli
//   - endpoint: request path
//   - request_id: X-Request-ID shared by all attempts of one request
//   - status: HTTP status code
//   - attempt: 0-based attempt number
//   - error_class: client, server, server_final, rate_limit, network
//   - backoff: wait before the next attempt
//   - remaining: quota left in the current window

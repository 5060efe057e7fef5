// Package logger provides structured logging for crudsource
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// New creates a structured logger
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	l := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "crudsource").
		Logger()

	if cfg.WithCaller {
		l = l.With().Caller().Logger()
	}
	return l
}

// Component returns a logger tagged with a component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// LogServerStart logs server startup
func LogServerStart(l zerolog.Logger, addr, backend string) {
	l.Info().
		Str("event", "server_start").
		Str("addr", addr).
		Str("backend", backend).
		Msg("crud server starting")
}

// LogServerShutdown logs server shutdown
func LogServerShutdown(l zerolog.Logger) {
	l.Info().
		Str("event", "server_shutdown").
		Msg("crud server shutting down")
}

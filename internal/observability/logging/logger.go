// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// WithWorker returns a logger tagged with the worker id.
func WithWorker(workerID string) zerolog.Logger {
	return log.With().
		Str("workerId", workerID).
		Logger()
}

// WithChannel returns a logger with channel context. Every log line about a
// channel carries its index, language and model.
func WithChannel(index int, language, model string) zerolog.Logger {
	return log.With().
		Int("channel", index).
		Str("language", language).
		Str("model", model).
		Logger()
}

// WithSession extends a channel logger with the recognition connection.
func WithSession(l zerolog.Logger, token, provider string) zerolog.Logger {
	return l.With().
		Str("sessionToken", token).
		Str("sttProvider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

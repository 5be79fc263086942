// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	// Out overrides the console destination; stderr when nil.
	Out io.Writer
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "fno-chain", "logs", "fnochain.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		out := cfg.Out
		if out == nil {
			// stdout is reserved for chain output (tables and --json).
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:         out,
			TimeFormat:  time.RFC3339,
			FormatLevel: formatLevel,
		})
	}

	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger()
}

func formatLevel(i interface{}) string {
	ll, ok := i.(string)
	if !ok {
		return "???"
	}
	switch ll {
	case "debug":
		return "\033[36mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	default:
		return ll
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

// RequestIDKey is the context key for request ID.
const RequestIDKey ContextKey = "request_id"

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request ID carried by ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithRequest tags a logger with the request ID carried by ctx.
func WithRequest(logger zerolog.Logger, ctx context.Context) zerolog.Logger {
	if id := RequestID(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}

// WithComponent tags a logger with the component that owns it.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithTicker adds a ticker to the logger context.
func WithTicker(logger zerolog.Logger, ticker string) zerolog.Logger {
	return logger.With().Str("ticker", ticker).Logger()
}

// LogAPICall logs an upstream API call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}

// LogBatch logs the outcome of one quote batch.
func LogBatch(logger zerolog.Logger, batch, size, attempts int, err error) {
	if err != nil {
		logger.Warn().
			Str("event", "quote_batch").
			Int("batch", batch).
			Int("size", size).
			Int("attempts", attempts).
			Err(err).
			Msg("Quote batch failed")
		return
	}
	logger.Debug().
		Str("event", "quote_batch").
		Int("batch", batch).
		Int("size", size).
		Int("attempts", attempts).
		Msg("Quote batch fetched")
}

// LogLogin logs a gateway login. Only the client reference is recorded.
func LogLogin(logger zerolog.Logger, provider, clientCode string, expiresAt time.Time, err error) {
	if err != nil {
		logger.Error().
			Str("event", "login").
			Str("provider", provider).
			Str("client", clientCode).
			Err(err).
			Msg("Login failed")
		return
	}
	logger.Info().
		Str("event", "login").
		Str("provider", provider).
		Str("client", clientCode).
		Time("expires_at", expiresAt).
		Msg("Session established")
}

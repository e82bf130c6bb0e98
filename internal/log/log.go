package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger is a thin wrapper around slog that takes typed fields.
type Logger struct {
	internal *slog.Logger
}

// New creates a text logger writing to stdout at the given level
// ("debug", "info", "warn", "error").
func New(logLevel string) (*Logger, error) {
	return NewWithWriter(logLevel, os.Stdout)
}

func NewWithWriter(logLevel string, w io.Writer) (*Logger, error) {
	level, err := parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("error parsing log level: %w", err)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{internal: slog.New(handler)}, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{internal: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With creates a new logger instance with additional fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{internal: l.internal.With(convertFields(fields)...)}
}

// Component scopes the logger to a named component.
func (l *Logger) Component(name string) *Logger {
	return l.With(String("component", name))
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.internal.Info(msg, convertFields(fields)...)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.internal.Debug(msg, convertFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.internal.Warn(msg, convertFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.internal.Error(msg, convertFields(fields)...)
}

// Fatal logs at error level and exits the process.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.internal.Error(msg, convertFields(fields)...)
	os.Exit(1)
}

func parseLogLevel(logLevel string) (slog.Level, error) {
	var level slog.Level
	if logLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return slog.LevelError, err
	}
	return level, nil
}

func convertFields(fields []Field) []any {
	attrs := make([]any, len(fields))
	for i, field := range fields {
		attrs[i] = slog.Any(field.Key, field.Value)
	}
	return attrs
}

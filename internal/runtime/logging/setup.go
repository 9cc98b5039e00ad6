package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Supported output formats.
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatLogrus = "logrus"
)

// Options selects the backend built by New.
type Options struct {
	Format string
	Level  string
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds a ServiceLogger. json and text use slog; logrus uses a logrus
// JSON entry.
func New(opts Options) (ServiceLogger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatJSON, FormatText:
		level, err := ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		handlerOpts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler = slog.NewJSONHandler(out, handlerOpts)
		if strings.EqualFold(opts.Format, FormatText) {
			handler = slog.NewTextHandler(out, handlerOpts)
		}
		return NewSlogServiceLogger(slog.New(handler)), nil
	case FormatLogrus:
		level := logrus.InfoLevel
		if opts.Level != "" {
			parsed, err := logrus.ParseLevel(opts.Level)
			if err != nil {
				return nil, fmt.Errorf("logging: %w", err)
			}
			level = parsed
		}
		logger := logrus.New()
		logger.SetOutput(out)
		logger.SetLevel(level)
		logger.SetFormatter(&logrus.JSONFormatter{})
		return NewLogrusServiceLogger(logrus.NewEntry(logger)), nil
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", opts.Format)
	}
}

// LevelTrace sits below debug, matching the trace level of watermill's slog adapter.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a level name onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", level)
	}
}

// Discard returns a logger that drops everything.
func Discard() ServiceLogger {
	return NewSlogServiceLogger(slog.New(slog.DiscardHandler))
}

// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/bdobrica/Hako/common/trace"
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a text or JSON handler writing to w as the default logger
// and returns it.
func Setup(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithTrace returns a child of the default logger carrying ctx's trace_id.
func WithTrace(ctx context.Context) *slog.Logger {
	return FromLogger(ctx, slog.Default())
}

// FromLogger is WithTrace for an explicit parent logger.
func FromLogger(ctx context.Context, log *slog.Logger) *slog.Logger {
	id := trace.FromContext(ctx)
	if id == "" {
		return log
	}
	return log.With("trace_id", id)
}

// Package slogx configures structured logging for the service and
// carries a request scoped logger through context.
package slogx

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a slog.Logger writing to stderr. Format is "json" or
// "text"; level is one of debug, info, warn, error. Unknown values
// fall back to text at info.
func New(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

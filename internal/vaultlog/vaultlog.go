// Package vaultlog builds the process-wide structured logger. Format and
// level are config-driven: JSON for production/log-aggregation deployments,
// a colorized console handler for local development.
package vaultlog

import (
	"io"
	"log/slog"

	"hermannm.dev/devlog"
)

// New builds a *slog.Logger writing to w. format selects the handler:
// "console" uses hermannm.dev/devlog's human-readable handler, anything
// else (including "" and "json") uses the standard library's JSON handler.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	if format == "console" {
		var levelVar slog.LevelVar
		levelVar.Set(level)
		return slog.New(devlog.NewHandler(w, &devlog.Options{Level: &levelVar}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// slog.Level, defaulting to Info for anything else.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package logger centralizes slog setup so every package logs with the
// same level and format, both controlled through the environment.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// Setup initializes the process-wide logger. LOG_LEVEL selects the level
// (debug/info/warn/error) and LOG_FORMAT=json switches to JSON output.
// Output goes to stderr; file handling is left to the supervisor.
func Setup() *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var h slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	defaultLogger = slog.New(h)
	return defaultLogger
}

// L returns the default logger, initializing it on first use.
func L() *slog.Logger {
	if defaultLogger == nil {
		return Setup()
	}
	return defaultLogger
}

// Package logging builds the root structured logger.
//
// The teacher repo is internally inconsistent about its logger type: most
// constructors accept a stdlib `*log.Logger` but then call `.Info`/`.Debug`/
// `.Warn`/`.Error` with key-value pairs (see adapter/websocket/connection_manager.go),
// methods stdlib's *log.Logger does not have. Its own test file
// (adapter/saxo_test.go) already imports log/slog. We resolve that in
// slog's favor: every component here takes a *slog.Logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a JSON-handler slog.Logger with level taken from LOG_LEVEL
// (debug|info|warn|error, default info).
func New() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

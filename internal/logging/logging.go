package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger initialises an slog.Logger with the provided level string.
// Production environments get a JSON handler, everything else plain text.
func NewLogger(levelStr, appEnv string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}
	var handler slog.Handler
	if strings.EqualFold(appEnv, "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(levelStr string) slog.Leveler {
	switch strings.ToLower(levelStr) {
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

package observability

import (
	"log/slog"
	"os"

	"github.com/ltrotter/dryes-revisited/internal/config"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT. JSON is
// the default; "text" is friendlier for local runs.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler).With("service", "dryes")
}

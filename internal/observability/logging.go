package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the process-wide structured logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	// Empty or unrecognized values default to "info".
	Level string

	// Format selects "json" (production default) or "text".
	Format string

	// Output is the writer for log records (defaults to os.Stderr so log
	// output never mixes with CLI command stdout).
	Output io.Writer
}

// NewLogger builds the process logger. Components derive their own scoped
// loggers from it with With("component", ...); the focus runner further
// scopes per-focus with WithFocus.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a config-file log level string to a slog.Level,
// defaulting to info.
func ParseLevel(s string) slog.Level {
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

// WithFocus scopes a logger to one focus so every record it emits carries
// the focus id, work item id, and faculty.
func WithFocus(logger *slog.Logger, focusID, workItemID, faculty string) *slog.Logger {
	return logger.With("focus_id", focusID, "work_item_id", workItemID, "faculty", faculty)
}

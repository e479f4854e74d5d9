package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger.
// Unknown levels fall back to INFO; unknown formats fall back to JSON.
// Output goes to stderr so a launched script owns stdout.
func Setup(level, format string) {
	once.Do(func() {
		logger = newLogger(os.Stderr, level, format)
		slog.SetDefault(logger)
	})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupFromEnv reads ACCEL_LOG_LEVEL and ACCEL_LOG_FORMAT.
func SetupFromEnv() {
	level := os.Getenv("ACCEL_LOG_LEVEL")
	if level == "" {
		level = "WARN"
	}
	Setup(level, os.Getenv("ACCEL_LOG_FORMAT"))
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithLaunch returns a logger with the launch_id field set.
func WithLaunch(id string) *slog.Logger {
	return Get().With(slog.String("launch_id", id))
}

// WithReplica returns a logger for one spawned replica.
func WithReplica(launchID string, index int) *slog.Logger {
	return WithLaunch(launchID).With(slog.Int("replica", index))
}

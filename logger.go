package entwine

import (
	"log/slog"
	"os"

	"github.com/ProjectBarks/entwine/model"
)

// Logger wraps slog.Logger with entwine-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithOrigin adds the input-file origin field to the logger.
func (l *Logger) WithOrigin(origin uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("origin", origin),
	}
}

// WithChunk adds a chunk key field to the logger.
func (l *Logger) WithChunk(key model.ChunkKey) *Logger {
	return &Logger{
		Logger: l.Logger.With("chunk", key.Filename()),
	}
}

// WithDepth adds a depth field to the logger.
func (l *Logger) WithDepth(depth uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("depth", depth),
	}
}

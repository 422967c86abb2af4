package x3fs

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with x3fs-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithImage adds the image path to the logger.
func (l *Logger) WithImage(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("image", path),
	}
}

// WithFd adds a descriptor field to the logger.
func (l *Logger) WithFd(fd int) *Logger {
	return &Logger{
		Logger: l.Logger.With("fd", fd),
	}
}

// LogOp logs a name-qualified operation.
func (l *Logger) LogOp(op, name string, err error) {
	if err != nil {
		l.Debug(op+" failed",
			"name", name,
			"error", err,
		)
	} else {
		l.Debug(op+" completed",
			"name", name,
		)
	}
}

// LogTransfer logs a read or write on a descriptor. A write that stopped
// short is logged as a warning.
func (l *Logger) LogTransfer(op string, fd, requested, done int, err error) {
	switch {
	case err != nil && done > 0:
		l.Warn(op+" partially completed",
			"fd", fd,
			"requested", requested,
			"bytes", done,
			"error", err,
		)
	case err != nil:
		l.Debug(op+" failed",
			"fd", fd,
			"error", err,
		)
	default:
		l.Debug(op+" completed",
			"fd", fd,
			"bytes", done,
		)
	}
}

// LogMount logs a mount or unmount.
func (l *Logger) LogMount(op string, blockSize, blockCount, free int, err error) {
	if err != nil {
		l.Error(op+" failed",
			"error", err,
		)
	} else {
		l.Info(op+" completed",
			"block_size", blockSize,
			"block_count", blockCount,
			"free_blocks", free,
		)
	}
}

package colgo

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with colgo-specific context.
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

// WithPath adds the database path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithObject adds an object id and name to the logger.
func (l *Logger) WithObject(id ID, name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("id", uint32(id), "name", name),
	}
}

// LogOpen logs opening or creating a database.
func (l *Logger) LogOpen(ctx context.Context, path string, objects int, needsRepair bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"path", path,
			"error", err,
		)
		return
	}
	if needsRepair {
		l.WarnContext(ctx, "database was not closed cleanly",
			"path", path,
			"objects", objects,
		)
		return
	}
	l.InfoContext(ctx, "database opened",
		"path", path,
		"objects", objects,
	)
}

// LogMaterialize logs rebuilding an object from its spec record.
func (l *Logger) LogMaterialize(ctx context.Context, id ID, kind Kind, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "materialize failed",
			"id", uint32(id),
			"kind", kind.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "object materialized",
			"id", uint32(id),
			"kind", kind.String(),
			"duration", d,
		)
	}
}

// LogMaterializeTimeout logs a caller giving up on a slot that another
// caller is still materializing.
func (l *Logger) LogMaterializeTimeout(ctx context.Context, id ID, trials uint32) {
	l.WarnContext(ctx, "gave up waiting for object",
		"id", uint32(id),
		"trials", trials,
	)
}

// LogRemove logs an object removal.
func (l *Logger) LogRemove(ctx context.Context, id ID, name string, err error) {
	if err != nil {
		l.WarnContext(ctx, "remove failed",
			"id", uint32(id),
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "object removed",
			"id", uint32(id),
			"name", name,
		)
	}
}

// LogHookFailure logs an aborted hook chain.
func (l *Logger) LogHookFailure(ctx context.Context, err *HookError) {
	l.ErrorContext(ctx, "hook failed",
		"id", uint32(err.Object),
		"event", err.Event.String(),
		"position", err.Position,
		"error", err.Err,
	)
}

// LogRepair logs a repair run.
func (l *Logger) LogRepair(ctx context.Context, indexes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "repair failed",
			"indexes", indexes,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "repair completed",
			"indexes", indexes,
		)
	}
}

// LogFlush logs a flush of dirty engines.
func (l *Logger) LogFlush(ctx context.Context, objects int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"objects", objects,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"objects", objects,
		)
	}
}

// LogBackup logs a backup or restore.
func (l *Logger) LogBackup(ctx context.Context, op, prefix string, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"prefix", prefix,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"prefix", prefix,
			"files", files,
		)
	}
}

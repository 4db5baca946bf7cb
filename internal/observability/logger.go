// Package observability provides structured logging and metrics collection.
//
// Logger wraps log/slog with persistent per-component context fields
// (the grading service, the sandbox pool, a single pipeline run).
// Metrics collects run statistics, stage latencies, and pool occupancy.
package observability

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger wraps slog with a persistent component name, attached to every
// log line it emits.
type Logger struct {
	mu        sync.RWMutex
	inner     *slog.Logger
	component string
	fields    []slog.Attr
}

// NewLogger creates a structured logger for a given component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(componentName string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Logger{
		inner:     slog.New(handler),
		component: componentName,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(componentName string, h slog.Handler) *Logger {
	return &Logger{
		inner:     slog.New(h),
		component: componentName,
	}
}

// With returns a new Logger with additional persistent fields.
func (l *Logger) With(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		inner:     l.inner.With(slog.Any(key, value)),
		component: l.component,
		fields:    append(l.fields, slog.Any(key, value)),
	}
}

// attrs prepends the component name to the arguments.
func (l *Logger) attrs(msg string, args []any) (string, []any) {
	return msg, append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Debug(msg, args...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Info(msg, args...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Warn(msg, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Error(msg, args...)
}

// Stage logs a pipeline stage event (spec §4.4 trace retention).
func (l *Logger) Stage(stage string, status string, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("stage", stage),
		slog.String("status", status),
	}, args...)
	l.inner.Info("stage", allArgs...)
}

// SandboxEvent logs a sandbox pool lifecycle event (provision, acquire,
// release, destroy, sweep).
func (l *Logger) SandboxEvent(event, handleID, language string, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("event", event),
		slog.String("handle_id", handleID),
		slog.String("language", language),
	}, args...)
	l.inner.Info("sandbox", allArgs...)
}

// ComponentName returns the component name associated with this logger.
func (l *Logger) ComponentName() string {
	return l.component
}

// Package observability provides structured logging.
//
// Logger wraps log/slog with persistent component context so every line
// carries which part of the engine or which adapter emitted it.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog with a persistent component field.
type Logger struct {
	inner     *slog.Logger
	component string
}

// NewLogger creates a structured JSON logger for a component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Logger{
		inner:     slog.New(handler),
		component: component,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{
		inner:     slog.New(h),
		component: component,
	}
}

// WithComponent returns a logger for a sub-component sharing the handler.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{inner: l.inner, component: component}
}

// attrs prepends the component to the arguments.
func (l *Logger) attrs(args []any) []any {
	return append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, l.attrs(args)...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, l.attrs(args)...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, l.attrs(args)...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, l.attrs(args)...)
}

// Op logs a completed engine mutation against a task id.
func (l *Logger) Op(event string, taskID int64, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("event", event),
		slog.Int64("task_id", taskID),
	}, args...)
	l.inner.Info("op", allArgs...)
}

// Component returns the component name associated with this logger.
func (l *Logger) Component() string {
	return l.component
}

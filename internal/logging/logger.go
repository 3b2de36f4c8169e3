// Package logging defines the structured-logging interface used across the
// project, an slog-backed implementation, and a ring-buffer handler that
// keeps a bounded tail of recent lines for diagnostic display.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "pull complete", "created", n, "updated", m)
type Logger interface {
	// Debug logs a verbose message useful only when tracing sync cycles.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// Package logging is the structured logging used by the server and the
// device client. Call sites depend on Logger; SlogLogger is the only
// implementation and New configures it from level and file settings.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key-value pairs:
//
//	log.Info(ctx, "uploaded", "dictionary", dict, "revision", rev)
//
// The context links a record to the active trace, if any.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}

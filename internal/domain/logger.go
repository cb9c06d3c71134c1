package domain

import (
	"context"
)

// Logger is the structured logger used across the client core.
// Every method takes the caller's context so request, conversation and session
// identifiers stored in it end up on the log line.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any) // key/value pairs, Zap-agnostic at the interface level
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // calls os.Exit(1) after logging

	// With creates a child logger with the provided structured context fields.
	With(fields ...any) Logger
}

package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
)

func TestZapAdapter_AddsContextAndPairs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	ctx := context.WithValue(context.Background(), contextkeys.ConversationIDKey, "c1")
	ctx = context.WithValue(ctx, contextkeys.SessionIDKey, "s1")
	l.Info(ctx, "Sent", "attempt", 2, 42, "bad key", "orphan")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["conversation_id"] != "c1" || fields["session_id"] != "s1" {
		t.Errorf("context fields missing: %v", fields)
	}
	if fields["attempt"] != int64(2) {
		t.Errorf("attempt = %v", fields["attempt"])
	}
	if _, ok := fields["invalid_key_2"]; !ok {
		t.Errorf("non-string key not reported: %v", fields)
	}
	if _, ok := fields["orphan_field_4"]; !ok {
		t.Errorf("orphan value not reported: %v", fields)
	}
}

func TestZapAdapter_RespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := NewFromZap(zap.New(core))

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")
	l.With("component", "test").Error(context.Background(), "shown too")

	if logs.Len() != 2 {
		t.Fatalf("entries = %d, want 2", logs.Len())
	}
	if logs.All()[1].ContextMap()["component"] != "test" {
		t.Error("With() fields missing")
	}
}

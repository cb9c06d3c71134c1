package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/logger"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

func openTestStore(t *testing.T, path string) *KeyValueStore {
	t.Helper()
	store, err := Open(path, logger.NewFromZap(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", logger.NewFromZap(zaptest.NewLogger(t))); err == nil {
		t.Fatal("expected error")
	}
}

func TestKeyValueStore_SetGetDelete(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "chat.db"))
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	if _, err := store.Get(ctx, "support_chat:session"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrKeyNotFound", err)
	}

	if err := store.Set(ctx, "support_chat:session", `{"session_id":"s1"}`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "support_chat:session", `{"session_id":"s2"}`); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := store.Get(ctx, "support_chat:session")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != `{"session_id":"s2"}` {
		t.Errorf("Get() = %q, want overwritten value", got)
	}

	if err := store.Delete(ctx, "support_chat:session"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "support_chat:session"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrKeyNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestKeyValueStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	first := openTestStore(t, path)
	if err := first.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := openTestStore(t, path)
	t.Cleanup(func() { _ = second.Close() })
	got, err := second.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("Get() after reopen = %q, %v; want v, nil", got, err)
	}
	if err := second.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

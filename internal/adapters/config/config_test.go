package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewViperProvider_DefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
api:
  base_url: https://shop.example.com/api/support
  socket_url: wss://shop.example.com/ws/support
app:
  max_reconnect_attempts: 7
`)
	if err := os.WriteFile(filepath.Join(dir, "chat.yaml"), yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SUPPORT_CHAT_API_API_KEY", "from-env")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := NewViperProvider(ctx, zaptest.NewLogger(t), Source{Name: "chat", Path: dir})
	if err != nil {
		t.Fatalf("NewViperProvider() error = %v", err)
	}
	cfg := p.Get()

	if cfg.API.BaseURL != "https://shop.example.com/api/support" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want value from environment", cfg.API.APIKey)
	}
	if cfg.App.MaxReconnectAttempts != 7 {
		t.Errorf("MaxReconnectAttempts = %d, want 7", cfg.App.MaxReconnectAttempts)
	}
	if cfg.App.ReconnectBaseDelay() != time.Second {
		t.Errorf("ReconnectBaseDelay() = %v, want default 1s", cfg.App.ReconnectBaseDelay())
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Chat.DefaultPriority != "medium" {
		t.Errorf("Chat.DefaultPriority = %q", cfg.Chat.DefaultPriority)
	}
}

func TestNewViperProvider_MissingFileUsesDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := NewViperProvider(ctx, zaptest.NewLogger(t), Source{Name: "does-not-exist", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewViperProvider() error = %v", err)
	}
	if got := p.Get().App.MarkReadConcurrency; got != 8 {
		t.Errorf("MarkReadConcurrency = %d, want 8", got)
	}
}

func TestDurationHelpersFallBack(t *testing.T) {
	var c AppConfig
	if c.ReconcileDelay() != 1500*time.Millisecond {
		t.Errorf("ReconcileDelay() = %v", c.ReconcileDelay())
	}
	if c.CountsRefreshDelay() != 2*time.Second {
		t.Errorf("CountsRefreshDelay() = %v", c.CountsRefreshDelay())
	}
	if c.TypingIdleTimeout() != 3*time.Second {
		t.Errorf("TypingIdleTimeout() = %v", c.TypingIdleTimeout())
	}
	c.ReconnectBaseDelayMs = 250
	if c.ReconnectBaseDelay() != 250*time.Millisecond {
		t.Errorf("ReconnectBaseDelay() = %v", c.ReconnectBaseDelay())
	}
}

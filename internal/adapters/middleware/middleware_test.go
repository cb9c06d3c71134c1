package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/logger"
	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
)

func TestRequestContext_PropagatesOrGeneratesID(t *testing.T) {
	var seen string
	h := RequestContext(logger.NewFromZap(zaptest.NewLogger(t)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(contextkeys.RequestIDKey).(string)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(XRequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "req-42" || rr.Header().Get(XRequestIDHeader) != "req-42" {
		t.Errorf("request id = %q / header %q, want req-42", seen, rr.Header().Get(XRequestIDHeader))
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || seen == "req-42" {
		t.Errorf("expected a generated request id, got %q", seen)
	}
}

func TestControlAPIKeyMiddleware(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{ControlAPIKey: "secret"}}
	log := logger.NewFromZap(zaptest.NewLogger(t))
	h := ControlAPIKeyMiddleware(config.NewStaticProvider(cfg), log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", "secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}

	cfg.Server.ControlAPIKey = ""
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	req.Header.Set("X-API-Key", "secret")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("unconfigured key status = %d, want 500", rr.Code)
	}
}

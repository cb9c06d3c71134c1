package middleware

import (
	"crypto/subtle"
	"net/http"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

const apiKeyHeaderName = "X-API-Key"

// ControlAPIKeyMiddleware guards the host control routes. The key is read from
// the X-API-Key header and compared with server.control_api_key on every
// request, so a hot-reloaded key applies immediately.
func ControlAPIKeyMiddleware(cfgProvider config.Provider, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(apiKeyHeaderName)

			cfg := cfgProvider.Get()
			if cfg == nil || cfg.Server.ControlAPIKey == "" {
				logger.Error(r.Context(), "Control API key not configured", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrCodeInternal, "Server configuration error", "Control API key is not configured.").WriteJSON(w, http.StatusInternalServerError)
				return
			}

			if apiKey == "" {
				logger.Warn(r.Context(), "Control API authentication failed: key missing", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrCodeUnauthorized, "API key is required", "Provide the key in the X-API-Key header.").WriteJSON(w, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.Server.ControlAPIKey)) != 1 {
				logger.Warn(r.Context(), "Control API authentication failed: invalid key", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrCodeUnauthorized, "Invalid API key", "The provided API key is not valid.").WriteJSON(w, http.StatusUnauthorized)
				return
			}

			logger.Debug(r.Context(), "Control API authentication successful", "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

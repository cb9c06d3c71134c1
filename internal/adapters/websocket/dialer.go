package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

const (
	// Subprotocol negotiated with the chat socket endpoint.
	Subprotocol = "json.v1"

	apiKeyHeader   = "X-API-Key"
	readLimitBytes = 1 << 20
)

// Dialer opens one chat socket per conversation at {socket_url}/{conversation_id}.
type Dialer struct {
	configProvider config.Provider
	logger         domain.Logger
	httpClient     *http.Client
}

// NewDialer creates a Dialer. A nil httpClient uses http.DefaultClient.
func NewDialer(cfgProvider config.Provider, logger domain.Logger, httpClient *http.Client) *Dialer {
	return &Dialer{
		configProvider: cfgProvider,
		logger:         logger,
		httpClient:     httpClient,
	}
}

// Dial connects to the conversation's socket. The returned connection is
// owned by the caller.
func (d *Dialer) Dial(ctx context.Context, conversationID string) (domain.SocketConn, error) {
	cfg := d.configProvider.Get()

	endpoint, err := socketURL(cfg.API.SocketURL, conversationID)
	if err != nil {
		return nil, err
	}

	dialTimeout := time.Duration(cfg.App.DialTimeoutSeconds) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
		d.logger.Warn(ctx, "DialTimeoutSeconds not configured or invalid, using default", "default_seconds", 10)
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	if cfg.API.APIKey != "" {
		header.Set(apiKeyHeader, cfg.API.APIKey)
	}

	wsConn, resp, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPClient:   d.httpClient,
		HTTPHeader:   header,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial chat socket %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial chat socket %s: %w", endpoint, err)
	}
	wsConn.SetReadLimit(readLimitBytes)

	d.logger.Info(ctx, "Chat socket connected", "conversation_id", conversationID, "subprotocol", wsConn.Subprotocol())

	writeTimeout := time.Duration(cfg.App.WriteTimeoutSeconds) * time.Second
	return NewConnection(wsConn, conversationID, writeTimeout, d.logger), nil
}

func socketURL(base, conversationID string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("api.socket_url is not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid api.socket_url %q: %w", base, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + url.PathEscape(conversationID)
	return u.String(), nil
}

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
)

const (
	apiKeyHeader    = "X-API-Key"
	requestIDHeader = "X-Request-ID"

	maxErrorBodyBytes = 64 << 10
)

// Gateway implements domain.ChatGateway over the support backend's REST API.
// It keeps no state besides its HTTP client.
type Gateway struct {
	configProvider config.Provider
	identity       domain.IdentityProvider
	logger         domain.Logger
	httpClient     *http.Client
}

// NewGateway creates a REST gateway. A nil httpClient gets one with the
// configured request timeout.
func NewGateway(cfgProvider config.Provider, identity domain.IdentityProvider, logger domain.Logger, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		timeout := time.Duration(cfgProvider.Get().API.RequestTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
			logger.Warn(context.Background(), "RequestTimeoutSeconds not configured or invalid, using default", "default_seconds", 10)
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Gateway{
		configProvider: cfgProvider,
		identity:       identity,
		logger:         logger,
		httpClient:     httpClient,
	}
}

var _ domain.ChatGateway = (*Gateway)(nil)

func (g *Gateway) CreateSession(ctx context.Context) (*domain.Session, error) {
	var session domain.Session
	if err := g.do(ctx, "CreateSession", http.MethodPost, "/sessions", nil, struct{}{}, &session); err != nil {
		return nil, err
	}
	if session.SessionID == "" {
		return nil, fmt.Errorf("CreateSession: response carried no session_id")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	return &session, nil
}

func (g *Gateway) CreateConversation(ctx context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := g.do(ctx, "CreateConversation", http.MethodPost, "/conversations", nil, req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (g *Gateway) ListConversationsByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	q := url.Values{"user": []string{userID}}
	if err := g.do(ctx, "ListConversationsByUser", http.MethodGet, "/conversations", q, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (g *Gateway) ListConversationsBySession(ctx context.Context, sessionID string) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	q := url.Values{"session": []string{sessionID}}
	if err := g.do(ctx, "ListConversationsBySession", http.MethodGet, "/conversations", q, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (g *Gateway) SendMessage(ctx context.Context, conversationID string, req domain.SendMessageRequest) (*domain.Message, error) {
	if req.Type == "" {
		req.Type = domain.MessageTypeText
	}
	var msg domain.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := g.do(ctx, "SendMessage", http.MethodPost, path, nil, req, &msg); err != nil {
		return nil, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return &msg, nil
}

func (g *Gateway) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var msgs []domain.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := g.do(ctx, "ListMessages", http.MethodGet, path, nil, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (g *Gateway) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID) + "/read"
	return g.do(ctx, "MarkMessageRead", http.MethodPatch, path, nil, nil, nil)
}

func (g *Gateway) SendTyping(ctx context.Context, conversationID string, isTyping bool) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/typing"
	body := struct {
		IsTyping bool `json:"is_typing"`
	}{IsTyping: isTyping}
	return g.do(ctx, "SendTyping", http.MethodPost, path, nil, body, nil)
}

func (g *Gateway) NotificationCounts(ctx context.Context, sessionID string) (*domain.NotificationCounts, error) {
	var q url.Values
	if sessionID != "" {
		q = url.Values{"session": []string{sessionID}}
	}
	var counts domain.NotificationCounts
	if err := g.do(ctx, "NotificationCounts", http.MethodGet, "/notifications/counts", q, nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// do performs one JSON request. Non-2xx responses become *domain.GatewayError,
// which unwraps to domain.ErrNotFound for 404.
func (g *Gateway) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	cfg := g.configProvider.Get()

	endpoint := strings.TrimSuffix(cfg.API.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}

	requestID, ok := ctx.Value(contextkeys.RequestIDKey).(string)
	if !ok || requestID == "" {
		requestID = uuid.NewString()
		ctx = context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
	}
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.API.APIKey != "" {
		req.Header.Set(apiKeyHeader, cfg.API.APIKey)
	}
	if g.identity != nil {
		if id := g.identity.Current(ctx); id != nil && id.Token != "" {
			req.Header.Set("Authorization", "Bearer "+id.Token)
		}
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn(ctx, "Support API request failed", "op", op, "method", method, "path", path, "error", err.Error())
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	g.logger.Debug(ctx, "Support API request completed", "op", op, "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return g.decodeError(ctx, op, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func (g *Gateway) decodeError(ctx context.Context, op string, resp *http.Response) error {
	gwErr := &domain.GatewayError{Op: op, StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &gwErr.Response); err != nil {
			gwErr.Response.Message = strings.TrimSpace(string(raw))
		}
	}
	if gwErr.Response.Code == "" {
		gwErr.Response.Code = domain.ErrorCodeForStatus(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound {
		g.logger.Info(ctx, "Support API reported resource not found", "op", op)
	} else {
		g.logger.Warn(ctx, "Support API returned error status", "op", op, "status", resp.StatusCode, "code", string(gwErr.Response.Code))
	}
	return gwErr
}

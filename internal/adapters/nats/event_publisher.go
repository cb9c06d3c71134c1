package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/rediskeys"
)

// EventPublisher fans chat events out on NATS so other processes of the host
// (a desktop shell, a notification daemon) can render them.
// Subjects are <prefix>.<user_id|anonymous>.<event_type>.
type EventPublisher struct {
	nc       *nats.Conn
	logger   domain.Logger
	identity domain.IdentityProvider
	prefix   string
}

// NewEventPublisher connects to NATS. An empty nats.url returns a nil publisher
// and a no-op cleanup; callers treat a nil *EventPublisher as disabled.
func NewEventPublisher(ctx context.Context, cfgProvider config.Provider, identity domain.IdentityProvider, appLogger domain.Logger) (*EventPublisher, func(), error) {
	appFullCfg := cfgProvider.Get()
	natsCfg := appFullCfg.NATS
	if natsCfg.URL == "" {
		appLogger.Info(ctx, "NATS URL not configured, chat event publishing disabled")
		return nil, func() {}, nil
	}

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(fmt.Sprintf("%s-events", appFullCfg.App.ServiceName)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			appLogger.Error(ctx, "NATS error", "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(ctx, "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}

	appLogger.Info(ctx, "Successfully connected to NATS server", "url", nc.ConnectedUrl())

	publisher := &EventPublisher{
		nc:       nc,
		logger:   appLogger,
		identity: identity,
		prefix:   natsCfg.SubjectPrefix,
	}

	cleanup := func() {
		appLogger.Info(context.Background(), "Closing NATS connection...")
		publisher.Close()
	}

	return publisher, cleanup, nil
}

var _ domain.EventSink = (*EventPublisher)(nil)

// Publish sends one event with core NATS publish. Delivery is best-effort.
func (p *EventPublisher) Publish(ctx context.Context, event domain.ChatEvent) error {
	if p == nil || p.nc == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal chat event %s: %w", event.Type, err)
	}

	scope := ""
	if p.identity != nil {
		if id := p.identity.Current(ctx); id != nil {
			scope = id.UserID
		}
	}
	subject := rediskeys.EventSubject(p.prefix, scope, event.Type)

	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish chat event on %s: %w", subject, err)
	}
	return nil
}

// Healthy reports whether the NATS connection is usable. A disabled publisher is healthy.
func (p *EventPublisher) Healthy() bool {
	if p == nil || p.nc == nil {
		return true
	}
	return p.nc.IsConnected()
}

// Close drains and closes the NATS connection.
func (p *EventPublisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		p.logger.Info(context.Background(), "Draining NATS connection...")
		if err := p.nc.Drain(); err != nil {
			p.logger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
		} else {
			p.logger.Info(context.Background(), "NATS connection drained successfully.")
		}
	}
}

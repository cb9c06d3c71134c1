package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/safego"
)

const defaultMarkReadConcurrency = 8

// NotificationSynchronizer keeps unread and conversation counts in line with
// the server. Push events and local decrements are applied immediately but
// every one of them is followed by an authoritative re-fetch.
type NotificationSynchronizer struct {
	gateway        domain.ChatGateway
	configProvider config.Provider
	logger         domain.Logger
	sink           domain.EventSink

	mu           sync.Mutex
	counts       domain.NotificationCounts
	scope        string // session id for anonymous visitors, empty when authenticated
	refreshTimer *time.Timer
	stopped      bool
}

func NewNotificationSynchronizer(gateway domain.ChatGateway, cfgProvider config.Provider, sink domain.EventSink, logger domain.Logger) *NotificationSynchronizer {
	return &NotificationSynchronizer{
		gateway:        gateway,
		configProvider: cfgProvider,
		logger:         logger,
		sink:           sink,
	}
}

// SetScope selects whose counts scheduled refreshes fetch. An empty sessionID
// means the authenticated principal.
func (n *NotificationSynchronizer) SetScope(sessionID string) {
	n.mu.Lock()
	n.scope = sessionID
	n.mu.Unlock()
}

// Counts returns the last known counts.
func (n *NotificationSynchronizer) Counts() domain.NotificationCounts {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counts
}

// Refresh fetches the counts from the server and replaces the local copy.
// sessionID scopes the query to an anonymous session when non-empty.
func (n *NotificationSynchronizer) Refresh(ctx context.Context, sessionID string) (domain.NotificationCounts, error) {
	counts, err := n.gateway.NotificationCounts(ctx, sessionID)
	if err != nil {
		metrics.RecordNotificationRefresh("error")
		n.logger.Warn(ctx, "Failed to refresh notification counts", "error", err.Error())
		return n.Counts(), fmt.Errorf("failed to refresh notification counts: %w", err)
	}
	metrics.RecordNotificationRefresh("success")

	n.mu.Lock()
	n.counts = *counts
	n.mu.Unlock()

	n.publish(ctx, *counts)
	return *counts, nil
}

// MarkConversationRead marks every unread agent message of the conversation
// as read, one concurrent call per message. Individual failures are counted,
// not returned. A full refresh always follows.
func (n *NotificationSynchronizer) MarkConversationRead(ctx context.Context, conversationID string) (domain.MarkReadResult, error) {
	defer n.refreshScoped(ctx)

	msgs, err := n.gateway.ListMessages(ctx, conversationID)
	if err != nil {
		return domain.MarkReadResult{}, fmt.Errorf("failed to list messages for mark-as-read: %w", err)
	}

	unread := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Sender == domain.SenderAgent && !m.IsRead {
			unread = append(unread, m)
		}
	}
	if len(unread) == 0 {
		return domain.MarkReadResult{}, nil
	}

	limit := n.configProvider.Get().App.MarkReadConcurrency
	if limit <= 0 {
		limit = defaultMarkReadConcurrency
		n.logger.Warn(ctx, "MarkReadConcurrency not configured or invalid, using default", "default", limit)
	}

	var (
		marked    atomic.Int64
		failedMu  sync.Mutex
		failedIDs []string
	)
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, m := range unread {
		messageID := m.ID
		g.Go(func() error {
			if err := n.gateway.MarkMessageRead(ctx, conversationID, messageID); err != nil {
				failedMu.Lock()
				failedIDs = append(failedIDs, messageID)
				failedMu.Unlock()
				n.logger.Warn(ctx, "Failed to mark message as read", "message_id", messageID, "error", err.Error())
				return nil
			}
			marked.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := domain.MarkReadResult{MarkedCount: int(marked.Load()), FailedCount: len(failedIDs), FailedIDs: failedIDs}
	metrics.RecordMarkRead(result.MarkedCount, result.FailedCount)
	n.logger.Info(ctx, "Marked conversation as read", "conversation_id", conversationID, "marked", result.MarkedCount, "failed", result.FailedCount)

	if result.MarkedCount > 0 {
		n.adjustUnread(ctx, -result.MarkedCount)
	}
	return result, nil
}

// ApplyPush takes counts pushed over the socket as a provisional value and
// schedules a re-fetch.
func (n *NotificationSynchronizer) ApplyPush(ctx context.Context, counts domain.NotificationCounts) {
	n.mu.Lock()
	n.counts = counts
	n.mu.Unlock()
	n.publish(ctx, counts)
	n.ScheduleRefresh()
}

// BumpUnread optimistically adds delta unread messages and schedules a re-fetch.
func (n *NotificationSynchronizer) BumpUnread(ctx context.Context, delta int) {
	n.adjustUnread(ctx, delta)
	n.ScheduleRefresh()
}

// ScheduleRefresh debounces an authoritative refresh after the configured delay.
func (n *NotificationSynchronizer) ScheduleRefresh() {
	delay := n.configProvider.Get().App.CountsRefreshDelay()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	if n.refreshTimer != nil {
		n.refreshTimer.Stop()
	}
	n.refreshTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		safego.Run(ctx, n.logger, "NotificationRefresh", func() {
			n.refreshScoped(ctx)
		})
	})
}

// Reset forgets local counts, e.g. after the identity changed.
func (n *NotificationSynchronizer) Reset(ctx context.Context) {
	n.mu.Lock()
	if n.refreshTimer != nil {
		n.refreshTimer.Stop()
		n.refreshTimer = nil
	}
	n.counts = domain.NotificationCounts{}
	n.mu.Unlock()
	n.publish(ctx, domain.NotificationCounts{})
}

// Stop cancels any pending refresh. Later schedules are ignored.
func (n *NotificationSynchronizer) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	if n.refreshTimer != nil {
		n.refreshTimer.Stop()
		n.refreshTimer = nil
	}
}

func (n *NotificationSynchronizer) refreshScoped(ctx context.Context) {
	n.mu.Lock()
	scope := n.scope
	n.mu.Unlock()
	_, _ = n.Refresh(ctx, scope)
}

func (n *NotificationSynchronizer) adjustUnread(ctx context.Context, delta int) {
	n.mu.Lock()
	n.counts.UnreadMessages += delta
	if n.counts.UnreadMessages < 0 {
		n.counts.UnreadMessages = 0
	}
	counts := n.counts
	n.mu.Unlock()
	n.publish(ctx, counts)
}

func (n *NotificationSynchronizer) publish(ctx context.Context, counts domain.NotificationCounts) {
	if n.sink == nil {
		return
	}
	event := domain.ChatEvent{Type: domain.EventCountsUpdated, Payload: counts, OccurredAt: time.Now().UTC()}
	if err := n.sink.Publish(ctx, event); err != nil {
		n.logger.Warn(ctx, "Failed to publish counts event", "error", err.Error())
	}
}

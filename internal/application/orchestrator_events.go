package application

import (
	"context"
	"time"

	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
	"gitlab.com/timkado/api/support-chat-client/pkg/safego"
)

// handlersFor builds the socket handlers of one conversation. Every handler
// drops events once convID at epoch stopped being current.
func (o *Orchestrator) handlersFor(convID string, epoch uint64) domain.EventHandlers {
	ctx := context.WithValue(context.Background(), contextkeys.ConversationIDKey, convID)

	return domain.EventHandlers{
		OnNewMessage: func(msg domain.Message) {
			o.applyInboundMessage(ctx, convID, epoch, msg)
		},
		OnTyping: func(ev domain.TypingEvent) {
			if ev.Sender != domain.SenderAgent {
				return
			}
			o.mu.Lock()
			if !o.currentLocked(convID, epoch) {
				o.mu.Unlock()
				return
			}
			o.agentTyping = ev.IsTyping
			o.mu.Unlock()
			o.emit(ctx, domain.ChatEvent{Type: domain.EventAgentTyping, ConversationID: convID, Payload: ev.IsTyping})
		},
		OnAgentStatus: func(ev domain.AgentStatusEvent) {
			o.mu.Lock()
			if !o.currentLocked(convID, epoch) {
				o.mu.Unlock()
				return
			}
			switch {
			case o.agent != nil && (ev.AgentID == "" || ev.AgentID == o.agent.ID):
				updated := *o.agent
				updated.Online = ev.Online
				if ev.Status != "" {
					updated.Status = ev.Status
				}
				if ev.Name != "" {
					updated.Name = ev.Name
				}
				o.agent = &updated
			case o.agent == nil && ev.AgentID != "":
				o.agent = &domain.AgentRef{ID: ev.AgentID, Name: ev.Name, Status: ev.Status, Online: ev.Online}
			default:
				o.mu.Unlock()
				return
			}
			agent := *o.agent
			o.mu.Unlock()
			o.emit(ctx, domain.ChatEvent{Type: domain.EventAgentUpdated, ConversationID: convID, Payload: &agent})
		},
		OnConversationAssigned: func(agent domain.AgentRef) {
			o.mu.Lock()
			if !o.currentLocked(convID, epoch) {
				o.mu.Unlock()
				return
			}
			o.agent = &agent
			if o.conversation != nil {
				o.conversation.Agent = &agent
			}
			o.mu.Unlock()
			o.logger.Info(ctx, "Agent assigned to conversation", "agent_id", agent.ID)
			o.emit(ctx, domain.ChatEvent{Type: domain.EventAgentUpdated, ConversationID: convID, Payload: &agent})
		},
		OnNotificationCountUpdate: func(counts domain.NotificationCounts) {
			o.notifications.ApplyPush(ctx, counts)
		},
		OnStateChange: func(state domain.ConnectionState) {
			o.mu.Lock()
			if !o.currentLocked(convID, epoch) {
				o.mu.Unlock()
				return
			}
			prev := PresentedStatus(o.connState)
			o.connState = state
			o.mu.Unlock()
			if next := PresentedStatus(state); next != prev {
				o.emit(ctx, domain.ChatEvent{Type: domain.EventConnectionStatus, ConversationID: convID, Payload: next})
			}
		},
		OnMaxReconnectAttemptsReached: func() {
			o.logger.Info(ctx, "Live updates unavailable, continuing over REST")
		},
	}
}

// applyInboundMessage appends a pushed message. An echo of one of our own
// optimistic messages replaces the oldest pending copy with the same text.
func (o *Orchestrator) applyInboundMessage(ctx context.Context, convID string, epoch uint64, msg domain.Message) {
	o.mu.Lock()
	if !o.currentLocked(convID, epoch) {
		o.mu.Unlock()
		o.logger.Debug(ctx, "Dropping message for a conversation that is no longer current", "message_id", msg.ID)
		return
	}
	for _, m := range o.messages {
		if m.ID == msg.ID {
			o.mu.Unlock()
			return
		}
	}

	replaced := false
	if msg.Sender == domain.SenderUser {
		for i, m := range o.messages {
			if m.IsTemporary() && m.Text == msg.Text {
				o.messages[i] = msg
				replaced = true
				break
			}
		}
	}
	if !replaced {
		o.messages = append(o.messages, msg)
	}
	bump := msg.Sender == domain.SenderAgent && !msg.IsRead && !o.open
	if msg.Sender == domain.SenderAgent {
		o.agentTyping = false
	}
	snapshot := cloneMessages(o.messages)
	o.mu.Unlock()

	if replaced {
		o.emit(ctx, domain.ChatEvent{Type: domain.EventMessagesReplaced, ConversationID: convID, Payload: snapshot})
	} else {
		o.emit(ctx, domain.ChatEvent{Type: domain.EventMessageAdded, ConversationID: convID, Payload: msg})
	}
	if bump {
		o.notifications.BumpUnread(ctx, 1)
	}
}

// scheduleReconcile re-fetches the message list after the reconcile delay.
// A newer schedule replaces a pending one.
func (o *Orchestrator) scheduleReconcile(convID string, epoch uint64) {
	delay := o.configProvider.Get().App.ReconcileDelay()

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(convID, epoch) {
		return
	}
	if o.reconcileTimer != nil {
		o.reconcileTimer.Stop()
	}
	o.reconcileTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ctx = context.WithValue(ctx, contextkeys.ConversationIDKey, convID)
		safego.Run(ctx, o.logger, "MessageReconcile", func() {
			o.reconcile(ctx, convID, epoch)
		})
	})
}

// reconcile replaces the message list with the server's. Optimistic messages
// still in flight are kept at the end. Results for a conversation that is no
// longer current are discarded.
func (o *Orchestrator) reconcile(ctx context.Context, convID string, epoch uint64) {
	msgs, err := o.gateway.ListMessages(ctx, convID)
	if err != nil {
		if domain.IsNotFound(err) {
			o.logger.Info(ctx, "Conversation gone during reconcile; the next send will recover")
		} else {
			o.logger.Warn(ctx, "Reconcile fetch failed", "error", err.Error())
		}
		return
	}

	o.mu.Lock()
	if !o.currentLocked(convID, epoch) {
		o.mu.Unlock()
		o.logger.Debug(ctx, "Discarding reconcile result for a superseded conversation")
		return
	}
	o.messages = mergePending(msgs, o.messages)
	o.reconcileTimer = nil
	snapshot := cloneMessages(o.messages)
	o.mu.Unlock()

	o.emit(ctx, domain.ChatEvent{Type: domain.EventMessagesReplaced, ConversationID: convID, Payload: snapshot})
}

// mergePending returns server followed by the optimistic messages of local
// that the server does not have yet. A pending message is considered
// delivered when a server user message with the same text appears that local
// did not already hold, matched in order.
func mergePending(server, local []domain.Message) []domain.Message {
	known := make(map[string]struct{}, len(local))
	var pending []domain.Message
	for _, m := range local {
		if m.IsTemporary() {
			pending = append(pending, m)
			continue
		}
		known[m.ID] = struct{}{}
	}

	out := make([]domain.Message, 0, len(server)+len(pending))
	out = append(out, server...)
	if len(pending) == 0 {
		return out
	}

	consumed := make([]bool, len(server))
	for _, p := range pending {
		matched := false
		for i, s := range server {
			if consumed[i] || s.Sender != domain.SenderUser || s.Text != p.Text {
				continue
			}
			if _, seen := known[s.ID]; seen {
				continue
			}
			consumed[i] = true
			matched = true
			break
		}
		if !matched {
			out = append(out, p)
		}
	}
	return out
}

package domain

import (
	"context"
	"time"
)

// Chat event types published to the host presentation layer.
const (
	EventMessagesReplaced  = "messages_replaced"
	EventMessageAdded      = "message_added"
	EventMessageRemoved    = "message_removed"
	EventConversationSet   = "conversation_set"
	EventConversationClear = "conversation_cleared"
	EventAgentUpdated      = "agent_updated"
	EventAgentTyping       = "agent_typing"
	EventConnectionStatus  = "connection_status"
	EventCountsUpdated     = "counts_updated"
	EventSendFailed        = "send_failed"
)

// ChatEvent is one observable state change of the orchestrator.
type ChatEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Payload        any       `json:"payload,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventSink receives chat events. Publish must not block the caller for long
// and errors are only logged by the orchestrator.
type EventSink interface {
	Publish(ctx context.Context, event ChatEvent) error
}

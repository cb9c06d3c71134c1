package domain

import (
	"encoding/json"
)

// Inbound frame types pushed by the live-socket endpoint.
const (
	FrameNewMessage              = "new_message"
	FrameTyping                  = "typing"
	FrameAgentStatus             = "agent_status"
	FrameAgentOnline             = "agent_online"
	FrameAgentOffline            = "agent_offline"
	FrameConversationAssigned    = "conversation_assigned"
	FrameNotificationCountUpdate = "notification_count_update"
	FrameTestMessage             = "test_message"
)

// FrameMarkRead is sent by the client. User messages always go over REST, so
// the only other outbound frame is typing (FrameTyping).
const FrameMarkRead = "mark_read"

// InboundFrame is the {type, data} envelope received on the socket.
// Data is decoded lazily once the type is known.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is the envelope written to the socket. Only the fields
// relevant to Type are populated.
type OutboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	IsTyping       *bool  `json:"is_typing,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// NewTypingFrame creates a typing frame.
func NewTypingFrame(conversationID string, isTyping bool) OutboundFrame {
	return OutboundFrame{
		Type:           FrameTyping,
		ConversationID: conversationID,
		IsTyping:       &isTyping,
	}
}

// NewMarkReadFrame creates a mark_read frame. An empty messageID marks the whole conversation.
func NewMarkReadFrame(conversationID, messageID string) OutboundFrame {
	return OutboundFrame{
		Type:           FrameMarkRead,
		ConversationID: conversationID,
		MessageID:      messageID,
	}
}

// TypingEvent is the data of an inbound typing frame.
type TypingEvent struct {
	ConversationID string     `json:"conversation_id,omitempty"`
	Sender         SenderType `json:"sender"`
	SenderID       string     `json:"sender_id,omitempty"`
	IsTyping       bool       `json:"is_typing"`
}

// AgentStatusEvent is the data of agent_status, agent_online and agent_offline frames.
type AgentStatusEvent struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status,omitempty"`
	Online  bool   `json:"online"`
}

// EventHandlers are registered at connect time and receive the decoded inbound frames
// of one conversation. Nil handlers are skipped.
type EventHandlers struct {
	OnNewMessage                  func(Message)
	OnTyping                      func(TypingEvent)
	OnAgentStatus                 func(AgentStatusEvent)
	OnConversationAssigned        func(AgentRef)
	OnNotificationCountUpdate     func(NotificationCounts)
	OnStateChange                 func(ConnectionState)
	OnMaxReconnectAttemptsReached func()
}

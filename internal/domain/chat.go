package domain

import (
	"strings"
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAgent  SenderType = "agent"
	SenderSystem SenderType = "system"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// ConversationStatus is the server-side lifecycle of a conversation.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// TempMessagePrefix prefixes ids of optimistic messages that the server has not confirmed yet.
const TempMessagePrefix = "temp-"

// Session is the anonymous visitor identity persisted on the client.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the authenticated principal supplied by the host application.
// A nil *Identity means the visitor is anonymous.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Token  string `json:"-"`
}

// AgentRef is the support agent assigned to a conversation.
type AgentRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
	Online bool   `json:"online"`
}

// Message is a single chat line. Ordering is by arrival, not by Timestamp.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Text           string      `json:"text"`
	Sender         SenderType  `json:"sender"`
	SenderID       string      `json:"sender_id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	IsRead         bool        `json:"is_read"`
	Type           MessageType `json:"type"`
}

// IsTemporary reports whether the message is an unconfirmed optimistic copy.
func (m Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempMessagePrefix)
}

// Conversation is a support thread between one visitor and at most one agent.
type Conversation struct {
	ID         string             `json:"id"`
	Status     ConversationStatus `json:"status"`
	Subject    string             `json:"subject"`
	Department string             `json:"department"`
	Priority   string             `json:"priority"`
	Agent      *AgentRef          `json:"agent,omitempty"`
	UserID     string             `json:"user_id,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Messages   []Message          `json:"messages,omitempty"`
}

// UserType distinguishes anonymous and authenticated visitors in notification counts.
type UserType string

const (
	UserTypeAnonymous     UserType = "anonymous"
	UserTypeAuthenticated UserType = "authenticated"
)

// NotificationCounts is recomputed from the server, never trusted incrementally for long.
type NotificationCounts struct {
	UnreadMessages      int      `json:"unread_messages"`
	ActiveConversations int      `json:"active_conversations"`
	TotalConversations  int      `json:"total_conversations"`
	UserType            UserType `json:"user_type"`
}

// MarkReadResult reports a bulk mark-as-read. Partial failure is not an error.
type MarkReadResult struct {
	MarkedCount int      `json:"marked_count"`
	FailedCount int      `json:"failed_count"`
	FailedIDs   []string `json:"failed_ids,omitempty"`
}

// CreateConversationRequest is the body of POST /conversations.
// The anonymous variant fills the contact placeholders.
type CreateConversationRequest struct {
	Subject        string `json:"subject"`
	Department     string `json:"department"`
	Priority       string `json:"priority"`
	SessionID      string `json:"session_id"`
	InitialMessage string `json:"initial_message,omitempty"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

// SendMessageRequest is the body of POST /conversations/{id}/messages.
type SendMessageRequest struct {
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

package domain

import (
	"context"
)

// ChatGateway is the REST surface of the support backend. Mutating calls
// return an error wrapping ErrNotFound on HTTP 404; any other failure is opaque.
type ChatGateway interface {
	CreateSession(ctx context.Context) (*Session, error)

	CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)
	ListConversationsBySession(ctx context.Context, sessionID string) ([]Conversation, error)

	SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID string) error

	SendTyping(ctx context.Context, conversationID string, isTyping bool) error

	// NotificationCounts scopes the counts to sessionID when it is non-empty,
	// otherwise to the authenticated principal.
	NotificationCounts(ctx context.Context, sessionID string) (*NotificationCounts, error)
}

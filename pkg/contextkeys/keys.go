package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey contextKey = "request_id"

	// ConversationIDKey carries the conversation an operation belongs to.
	ConversationIDKey contextKey = "conversation_id"

	// SessionIDKey carries the anonymous visitor session id.
	SessionIDKey contextKey = "session_id"

	// UserIDKey carries the authenticated user id, if any.
	UserIDKey contextKey = "user_id"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}

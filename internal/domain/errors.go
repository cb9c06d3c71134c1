package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error condition reported by the support backend.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NotFound"            // HTTP 404, conversation or message gone
	ErrCodeBadRequest   ErrorCode = "BadRequest"          // HTTP 400
	ErrCodeUnauthorized ErrorCode = "Unauthorized"        // HTTP 401/403
	ErrCodeRateLimited  ErrorCode = "RateLimitExceeded"   // HTTP 429
	ErrCodeInternal     ErrorCode = "InternalServerError" // HTTP 5xx
	ErrCodeUnknown      ErrorCode = "Unknown"
)

var (
	// ErrNotFound marks a server-side resource that no longer exists.
	// The orchestrator recovers from it by recreating the conversation.
	ErrNotFound = errors.New("resource not found")

	// ErrKeyNotFound is returned by KeyValueStore implementations on a miss.
	ErrKeyNotFound = errors.New("key not found")

	ErrEmptyMessage           = errors.New("message text is empty")
	ErrSendFailed             = errors.New("message could not be sent")
	ErrConversationSuperseded = errors.New("conversation was replaced while the request was in flight")
	ErrNoConversation         = errors.New("no active conversation")
)

// ErrorResponse is the error body returned by the support backend.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON writes the error as the JSON body of an HTTP response.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	_ = json.NewEncoder(w).Encode(er)
}

// GatewayError is a failed REST call. It unwraps to ErrNotFound for 404 so
// callers can branch with errors.Is without knowing about HTTP.
type GatewayError struct {
	Op         string
	StatusCode int
	Response   ErrorResponse
}

func (e *GatewayError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("%s: status %d (%s): %s", e.Op, e.StatusCode, e.Response.Code, e.Response.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *GatewayError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// ErrorCodeForStatus maps an HTTP status to the backend error code used when
// the response body carries none.
func ErrorCodeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusBadRequest:
		return ErrCodeBadRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status >= 500:
		return ErrCodeInternal
	default:
		return ErrCodeUnknown
	}
}

// IsNotFound reports whether err carries not-found semantics.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

package domain

import (
	"context"

	"github.com/coder/websocket"
)

// ConnectionState is the per-conversation live-socket state. It is never persisted.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	// StateAPIOnly means reconnects were exhausted and REST carries all traffic.
	// It is a degraded mode, not a failure.
	StateAPIOnly ConnectionState = "api_only"
)

// SocketConn is one established live-socket connection.
type SocketConn interface {
	// Read blocks until the next data frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error

	// Ping sends a heartbeat and waits for the pong.
	Ping(ctx context.Context) error

	// Close closes the connection with the given status code and reason.
	Close(statusCode websocket.StatusCode, reason string) error
}

// SocketDialer opens live-socket connections, one per conversation.
type SocketDialer interface {
	Dial(ctx context.Context, conversationID string) (SocketConn, error)
}

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

const defaultWriteTimeout = 10 * time.Second

// Connection wraps a client-side websocket.Conn for one conversation.
// Writes and pings are serialized; reads are expected from a single goroutine.
type Connection struct {
	wsConn         *websocket.Conn
	logger         domain.Logger
	mu             sync.Mutex // Protects wsConn for writes and close
	conversationID string
	writeTimeout   time.Duration
}

// NewConnection wraps an established websocket.Conn.
func NewConnection(wsConn *websocket.Conn, conversationID string, writeTimeout time.Duration, logger domain.Logger) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Connection{
		wsConn:         wsConn,
		logger:         logger,
		conversationID: conversationID,
		writeTimeout:   writeTimeout,
	}
}

// Read returns the next data frame. Binary frames are skipped since the
// chat protocol is JSON text only.
func (c *Connection) Read(ctx context.Context) ([]byte, error) {
	for {
		msgType, p, err := c.wsConn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if msgType == websocket.MessageText {
			return p, nil
		}
		c.logger.Debug(ctx, "Ignoring binary frame on chat socket", "conversation_id", c.conversationID, "payload_len", len(p))
	}
}

// Write sends one text frame, bounded by the configured write timeout.
func (c *Connection) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsConn == nil {
		return errors.New("cannot write: WebSocket connection is closed")
	}

	ctxToWrite, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := c.wsConn.Write(ctxToWrite, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write for conversation %s: %w", c.conversationID, err)
	}
	return nil
}

// Ping sends a ping and waits for the pong. The read loop must be running
// for the pong to be observed.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	wsConn := c.wsConn
	c.mu.Unlock()

	if wsConn == nil {
		return errors.New("cannot ping: WebSocket connection is closed")
	}

	ctxToPing, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsConn.Ping(ctxToPing)
}

// Close closes the connection with the given status. Subsequent calls are no-ops.
func (c *Connection) Close(statusCode websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsConn == nil {
		return nil
	}
	c.logger.Debug(context.Background(), "Closing chat socket", "conversation_id", c.conversationID, "status_code", statusCode, "reason", reason)
	err := c.wsConn.Close(statusCode, reason)
	c.wsConn = nil
	return err
}

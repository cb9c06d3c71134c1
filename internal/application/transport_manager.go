package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
	"gitlab.com/timkado/api/support-chat-client/pkg/safego"
)

// TransportManager owns the live sockets, one per conversation. It is an
// explicitly constructed service; nothing about it is global.
type TransportManager struct {
	dialer         domain.SocketDialer
	configProvider config.Provider
	logger         domain.Logger

	mu        sync.Mutex
	sessions  map[string]*socketSession
	suspended bool

	// backoffObserver, when set, sees every scheduled reconnect delay.
	backoffObserver func(conversationID string, attempt int, delay time.Duration)
}

type queuedFrame struct {
	frameType string
	data      []byte
}

// socketSession is the per-conversation connection state. mu guards every
// field below it, and is held for the whole queue flush so that concurrent
// Sends wait behind it.
type socketSession struct {
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}

	mu        sync.Mutex
	state     domain.ConnectionState
	conn      domain.SocketConn
	handlers  domain.EventHandlers
	queue     []queuedFrame
	attempt   int
	backoff   *backoff.ExponentialBackOff
	heartbeat *time.Ticker
}

// NewTransportManager creates an empty manager.
func NewTransportManager(dialer domain.SocketDialer, cfgProvider config.Provider, logger domain.Logger) *TransportManager {
	return &TransportManager{
		dialer:         dialer,
		configProvider: cfgProvider,
		logger:         logger,
		sessions:       make(map[string]*socketSession),
	}
}

// Connect opens the live socket for a conversation and returns its current
// state. It is idempotent: an open, opening or degraded connection is kept
// and only its handlers are replaced.
func (m *TransportManager) Connect(ctx context.Context, conversationID string, handlers domain.EventHandlers) domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[conversationID]; ok {
		s.mu.Lock()
		state := s.state
		if state != domain.StateDisconnected {
			s.handlers = handlers
			s.mu.Unlock()
			return state
		}
		s.mu.Unlock()
		s.cancel()
	}

	appCfg := m.configProvider.Get().App
	bo := newReconnectBackOff(appCfg.ReconnectBaseDelay(), appCfg.MaxReconnectAttempts)

	sessCtx := context.WithValue(context.WithoutCancel(ctx), contextkeys.ConversationIDKey, conversationID)
	sessCtx, cancel := context.WithCancel(sessCtx)

	s := &socketSession{
		conversationID: conversationID,
		ctx:            sessCtx,
		cancel:         cancel,
		done:           make(chan struct{}),
		state:          domain.StateConnecting,
		handlers:       handlers,
		backoff:        bo,
	}
	m.sessions[conversationID] = s
	metrics.RecordStateTransition(string(domain.StateConnecting))

	safego.Execute(sessCtx, m.logger, fmt.Sprintf("ChatSocket-%s", conversationID), func() {
		m.run(s)
	})

	m.logger.Info(sessCtx, "Opening chat socket")
	return domain.StateConnecting
}

// Send writes the frame live when connected and reports true. While the
// socket is (re)connecting the frame is queued and false is returned. In any
// other state, including api_only, nothing is queued and false is returned:
// the caller must use REST.
func (m *TransportManager) Send(conversationID string, frame domain.OutboundFrame) bool {
	s := m.session(conversationID)
	if s == nil {
		return false
	}

	data, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error(s.ctx, "Failed to marshal outbound frame", "frame_type", frame.Type, "error", err.Error())
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateConnected:
		if err := s.conn.Write(s.ctx, data); err != nil {
			m.logger.Warn(s.ctx, "Live write failed, queueing frame until reconnect", "frame_type", frame.Type, "error", err.Error())
			s.queue = append(s.queue, queuedFrame{frameType: frame.Type, data: data})
			metrics.RecordOutboundFrame(frame.Type, "queued")
			return false
		}
		metrics.RecordOutboundFrame(frame.Type, "live")
		return true
	case domain.StateConnecting, domain.StateReconnecting:
		s.queue = append(s.queue, queuedFrame{frameType: frame.Type, data: data})
		metrics.RecordOutboundFrame(frame.Type, "queued")
		return false
	default:
		return false
	}
}

// SendTyping pushes a typing indicator only if the socket is live. It is never queued.
func (m *TransportManager) SendTyping(conversationID string, isTyping bool) bool {
	s := m.session(conversationID)
	if s == nil {
		return false
	}

	data, err := json.Marshal(domain.NewTypingFrame(conversationID, isTyping))
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateConnected {
		return false
	}
	if err := s.conn.Write(s.ctx, data); err != nil {
		m.logger.Debug(s.ctx, "Typing indicator write failed", "error", err.Error())
		return false
	}
	metrics.RecordOutboundFrame(domain.FrameTyping, "live")
	return true
}

// State returns the connection state of a conversation. Unknown conversations are disconnected.
func (m *TransportManager) State(conversationID string) domain.ConnectionState {
	s := m.session(conversationID)
	if s == nil {
		return domain.StateDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Disconnect closes the conversation's socket normally, drops its queue and
// cancels its timers. It does not wait for the background loop to exit.
func (m *TransportManager) Disconnect(conversationID string) {
	m.mu.Lock()
	s, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.shutdown(s)
}

// DisconnectAll closes every socket.
func (m *TransportManager) DisconnectAll() {
	for _, s := range m.detachAll() {
		m.shutdown(s)
	}
}

// Shutdown closes every socket and waits for their background loops to exit
// or ctx to be done.
func (m *TransportManager) Shutdown(ctx context.Context) error {
	sessions := m.detachAll()
	for _, s := range sessions {
		m.shutdown(s)
	}
	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *TransportManager) detachAll() []*socketSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*socketSession, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	return sessions
}

// Suspend slows heartbeats down, e.g. while the host window is hidden.
func (m *TransportManager) Suspend() {
	m.setSuspended(true)
}

// Resume restores the active heartbeat rate.
func (m *TransportManager) Resume() {
	m.setSuspended(false)
}

func (m *TransportManager) setSuspended(suspended bool) {
	m.mu.Lock()
	m.suspended = suspended
	sessions := make([]*socketSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	interval := m.heartbeatInterval()
	for _, s := range sessions {
		s.mu.Lock()
		if s.heartbeat != nil && interval > 0 {
			s.heartbeat.Reset(interval)
		}
		s.mu.Unlock()
	}
	m.logger.Info(context.Background(), "Heartbeat rate changed", "suspended", suspended, "interval", interval.String())
}

func (m *TransportManager) heartbeatInterval() time.Duration {
	appCfg := m.configProvider.Get().App
	m.mu.Lock()
	suspended := m.suspended
	m.mu.Unlock()
	if suspended && appCfg.SuspendedHeartbeatIntervalSeconds > 0 {
		return time.Duration(appCfg.SuspendedHeartbeatIntervalSeconds) * time.Second
	}
	return time.Duration(appCfg.HeartbeatIntervalSeconds) * time.Second
}

func (m *TransportManager) session(conversationID string) *socketSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[conversationID]
}

func (m *TransportManager) shutdown(s *socketSession) {
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	dropped := len(s.queue)
	s.queue = nil
	changed := s.state != domain.StateDisconnected
	s.state = domain.StateDisconnected
	onState := s.handlers.OnStateChange
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			m.logger.Debug(s.ctx, "Error closing chat socket", "error", err.Error())
		}
	}
	if dropped > 0 {
		m.logger.Info(s.ctx, "Dropped queued frames on disconnect", "count", dropped)
	}
	if changed {
		metrics.RecordStateTransition(string(domain.StateDisconnected))
		if onState != nil {
			onState(domain.StateDisconnected)
		}
	}
	m.logger.Info(s.ctx, "Chat socket disconnected")
}

// run drives one conversation's socket until it is disconnected, closed
// normally by the server, or degraded to api_only.
func (m *TransportManager) run(s *socketSession) {
	defer close(s.done)

	for {
		conn, err := m.dialer.Dial(s.ctx, s.conversationID)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			m.logger.Warn(s.ctx, "Chat socket dial failed", "error", err.Error())
			if !m.waitReconnect(s) {
				return
			}
			continue
		}

		if !m.onOpen(s, conn) {
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
			if s.ctx.Err() != nil {
				return
			}
			if !m.waitReconnect(s) {
				return
			}
			continue
		}
		metrics.IncrementLiveConnections()

		readErr := m.readLoop(s, conn)

		metrics.DecrementLiveConnections()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}

		status := websocket.CloseStatus(readErr)
		if status == websocket.StatusNormalClosure {
			m.logger.Info(s.ctx, "Chat socket closed normally by server")
			m.transition(s, domain.StateDisconnected)
			return
		}

		m.logger.Warn(s.ctx, "Chat socket closed abnormally", "close_status_code", int(status), "error", errString(readErr))
		if !m.waitReconnect(s) {
			return
		}
	}
}

// onOpen installs the connection and flushes the queue in FIFO order before
// any caller can write. It returns false if the session was disconnected
// meanwhile or the flush failed.
func (m *TransportManager) onOpen(s *socketSession, conn domain.SocketConn) bool {
	s.mu.Lock()

	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}

	flushed := 0
	for i, f := range s.queue {
		if err := conn.Write(s.ctx, f.data); err != nil {
			s.queue = s.queue[i:]
			s.mu.Unlock()
			m.logger.Warn(s.ctx, "Queue flush failed, frames kept for next connection", "flushed", flushed, "remaining", len(s.queue), "error", err.Error())
			return false
		}
		metrics.RecordOutboundFrame(f.frameType, "flushed")
		flushed++
	}
	s.queue = nil
	s.conn = conn
	s.attempt = 0
	s.backoff.Reset()
	prev := s.state
	s.state = domain.StateConnected
	onState := s.handlers.OnStateChange
	s.mu.Unlock()

	m.logger.Info(s.ctx, "Chat socket open", "flushed_frames", flushed, "previous_state", string(prev))
	metrics.RecordStateTransition(string(domain.StateConnected))
	if onState != nil {
		onState(domain.StateConnected)
	}
	return true
}

// waitReconnect schedules the next attempt after base×2^attempt, or moves the
// session to api_only once the attempt cap is reached. It returns false when
// no reconnect should happen.
func (m *TransportManager) waitReconnect(s *socketSession) bool {
	maxAttempts := m.configProvider.Get().App.MaxReconnectAttempts

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	if s.attempt >= maxAttempts {
		dropped := s.queue
		s.queue = nil
		s.state = domain.StateAPIOnly
		onState := s.handlers.OnStateChange
		onMax := s.handlers.OnMaxReconnectAttemptsReached
		s.mu.Unlock()

		m.logger.Warn(s.ctx, "Max reconnect attempts reached, continuing over REST only", "attempts", maxAttempts, "dropped_frames", len(dropped))
		for _, f := range dropped {
			metrics.RecordOutboundFrame(f.frameType, "dropped")
		}
		metrics.RecordStateTransition(string(domain.StateAPIOnly))
		if onState != nil {
			onState(domain.StateAPIOnly)
		}
		if onMax != nil {
			onMax()
		}
		return false
	}

	attempt := s.attempt
	delay := s.backoff.NextBackOff()
	s.attempt++
	changed := s.state != domain.StateReconnecting
	s.state = domain.StateReconnecting
	onState := s.handlers.OnStateChange
	s.mu.Unlock()

	metrics.IncrementReconnectAttempts()
	if changed {
		metrics.RecordStateTransition(string(domain.StateReconnecting))
		if onState != nil {
			onState(domain.StateReconnecting)
		}
	}
	if m.backoffObserver != nil {
		m.backoffObserver(s.conversationID, attempt, delay)
	}
	m.logger.Info(s.ctx, "Scheduling chat socket reconnect", "attempt", attempt+1, "max_attempts", maxAttempts, "delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// newReconnectBackOff yields base, 2×base, 4×base, ... without jitter, capped
// at base×2^maxAttempts.
func newReconnectBackOff(base time.Duration, maxAttempts int) *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         reconnectMaxInterval(base, maxAttempts),
	}
	bo.Reset()
	return bo
}

// reconnectMaxInterval returns base×2^attempts, saturating at the largest
// representable duration.
func reconnectMaxInterval(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return base
	}
	limit := base
	for i := 0; i < attempts; i++ {
		if limit > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		limit *= 2
	}
	return limit
}

func (m *TransportManager) transition(s *socketSession, state domain.ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	onState := s.handlers.OnStateChange
	s.mu.Unlock()

	if changed {
		metrics.RecordStateTransition(string(state))
		if onState != nil {
			onState(state)
		}
	}
}

// readLoop reads frames until the connection fails and runs the heartbeat
// for as long as it does. Frames are dispatched in delivery order.
func (m *TransportManager) readLoop(s *socketSession, conn domain.SocketConn) error {
	connCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	if interval := m.heartbeatInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		s.mu.Lock()
		s.heartbeat = ticker
		s.mu.Unlock()
		defer func() {
			ticker.Stop()
			s.mu.Lock()
			if s.heartbeat == ticker {
				s.heartbeat = nil
			}
			s.mu.Unlock()
		}()

		safego.Execute(connCtx, m.logger, fmt.Sprintf("ChatSocketHeartbeat-%s", s.conversationID), func() {
			for {
				select {
				case <-connCtx.Done():
					return
				case <-ticker.C:
					if err := conn.Ping(connCtx); err != nil && connCtx.Err() == nil {
						m.logger.Warn(connCtx, "Chat socket heartbeat failed", "error", err.Error())
					}
				}
			}
		})
	}

	for {
		data, err := conn.Read(connCtx)
		if err != nil {
			return err
		}
		m.dispatch(s, data)
	}
}

func (m *TransportManager) dispatch(s *socketSession, data []byte) {
	var frame domain.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Warn(s.ctx, "Dropping malformed inbound frame", "error", err.Error(), "payload_len", len(data))
		return
	}
	metrics.RecordInboundFrame(frame.Type)

	s.mu.Lock()
	h := s.handlers
	s.mu.Unlock()

	var err error
	switch frame.Type {
	case domain.FrameNewMessage:
		var msg domain.Message
		if err = decodeFrameData(frame, &msg); err == nil && h.OnNewMessage != nil {
			if msg.ConversationID == "" {
				msg.ConversationID = s.conversationID
			}
			h.OnNewMessage(msg)
		}
	case domain.FrameTyping:
		var ev domain.TypingEvent
		if err = decodeFrameData(frame, &ev); err == nil && h.OnTyping != nil {
			h.OnTyping(ev)
		}
	case domain.FrameAgentStatus, domain.FrameAgentOnline, domain.FrameAgentOffline:
		var ev domain.AgentStatusEvent
		if err = decodeFrameData(frame, &ev); err == nil && h.OnAgentStatus != nil {
			switch frame.Type {
			case domain.FrameAgentOnline:
				ev.Online = true
			case domain.FrameAgentOffline:
				ev.Online = false
			}
			h.OnAgentStatus(ev)
		}
	case domain.FrameConversationAssigned:
		var assigned struct {
			Agent *domain.AgentRef `json:"agent"`
		}
		if err = decodeFrameData(frame, &assigned); err == nil && assigned.Agent == nil {
			assigned.Agent = &domain.AgentRef{}
			err = decodeFrameData(frame, assigned.Agent)
		}
		if err == nil && h.OnConversationAssigned != nil {
			h.OnConversationAssigned(*assigned.Agent)
		}
	case domain.FrameNotificationCountUpdate:
		var counts domain.NotificationCounts
		if err = decodeFrameData(frame, &counts); err == nil && h.OnNotificationCountUpdate != nil {
			h.OnNotificationCountUpdate(counts)
		}
	case domain.FrameTestMessage:
		m.logger.Debug(s.ctx, "Received test frame", "payload_len", len(frame.Data))
	default:
		m.logger.Warn(s.ctx, "Dropping inbound frame of unknown type", "frame_type", frame.Type)
		return
	}
	if err != nil {
		m.logger.Warn(s.ctx, "Dropping inbound frame with undecodable data", "frame_type", frame.Type, "error", err.Error())
	}
}

func decodeFrameData(frame domain.InboundFrame, v any) error {
	if len(frame.Data) == 0 {
		return errors.New("frame has no data")
	}
	return json.Unmarshal(frame.Data, v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

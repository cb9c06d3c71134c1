package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/logger"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

func testLogger(t *testing.T) domain.Logger {
	return logger.NewFromZap(zaptest.NewLogger(t))
}

func testConfig() *config.Config {
	return &config.Config{
		Chat: config.ChatConfig{
			DefaultSubject:    "Support request",
			DefaultDepartment: "general",
			DefaultPriority:   "medium",
			AnonymousName:     "Anonymous Visitor",
			AnonymousEmail:    "anonymous@visitor.local",
			WelcomeMessage:    "Hi! How can we help you today?",
		},
		App: config.AppConfig{
			ReconnectBaseDelayMs: 10,
			MaxReconnectAttempts: 5,
			ReconcileDelayMs:     20,
			CountsRefreshDelayMs: 20,
			TypingIdleTimeoutMs:  50,
			MarkReadConcurrency:  4,
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- key-value store ---

type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	sets   int
	getErr error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) Ping(context.Context) error { return nil }
func (m *memKV) Close() error               { return nil }

// --- identity ---

type fakeIdentity struct {
	mu sync.Mutex
	id *domain.Identity
}

func (f *fakeIdentity) Current(context.Context) *domain.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id == nil {
		return nil
	}
	cp := *f.id
	return &cp
}

func (f *fakeIdentity) set(id *domain.Identity) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

// --- event sink ---

type recordingSink struct {
	mu     sync.Mutex
	events []domain.ChatEvent
}

func (r *recordingSink) Publish(_ context.Context, ev domain.ChatEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// --- REST gateway ---

var errBackendDown = errors.New("backend unavailable")

type fakeGateway struct {
	mu sync.Mutex

	sessionSeq    int
	sessionDelay  time.Duration
	createSession int32

	convSeq       int
	byUser        map[string][]domain.Conversation
	bySession     map[string][]domain.Conversation
	messages      map[string][]domain.Message
	createReqs    []domain.CreateConversationRequest
	createErr     error
	sendErr       map[string]error
	sendConvIDs   []string
	markFail      map[string]bool
	markCalls     int32
	typingCalls   []bool
	counts        domain.NotificationCounts
	countsCalls   int32
	countsScopes  []string
	listMsgCalls  int32
	onCreateSess  func()
	onSend        func(convID string)
	echoInitial   bool
	messageIDSeq  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		byUser:      make(map[string][]domain.Conversation),
		bySession:   make(map[string][]domain.Conversation),
		messages:    make(map[string][]domain.Message),
		sendErr:     make(map[string]error),
		markFail:    make(map[string]bool),
		echoInitial: true,
	}
}

func (g *fakeGateway) CreateSession(context.Context) (*domain.Session, error) {
	atomic.AddInt32(&g.createSession, 1)
	if g.onCreateSess != nil {
		g.onCreateSess()
	}
	if g.sessionDelay > 0 {
		time.Sleep(g.sessionDelay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionSeq++
	return &domain.Session{SessionID: fmt.Sprintf("sess-%d", g.sessionSeq), CreatedAt: time.Now().UTC()}, nil
}

func (g *fakeGateway) CreateConversation(_ context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createReqs = append(g.createReqs, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.convSeq++
	id := fmt.Sprintf("conv-%d", g.convSeq)
	if req.InitialMessage != "" && g.echoInitial {
		g.messages[id] = append(g.messages[id], g.newMessageLocked(id, req.InitialMessage, domain.SenderUser))
	}
	return &domain.Conversation{ID: id, Status: domain.ConversationActive, SessionID: req.SessionID, CreatedAt: time.Now().UTC()}, nil
}

func (g *fakeGateway) ListConversationsByUser(_ context.Context, userID string) ([]domain.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byUser[userID], nil
}

func (g *fakeGateway) ListConversationsBySession(_ context.Context, sessionID string) ([]domain.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bySession[sessionID], nil
}

func (g *fakeGateway) SendMessage(_ context.Context, convID string, req domain.SendMessageRequest) (*domain.Message, error) {
	if g.onSend != nil {
		g.onSend(convID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendConvIDs = append(g.sendConvIDs, convID)
	if err := g.sendErr[convID]; err != nil {
		return nil, err
	}
	msg := g.newMessageLocked(convID, req.Text, domain.SenderUser)
	g.messages[convID] = append(g.messages[convID], msg)
	return &msg, nil
}

func (g *fakeGateway) ListMessages(_ context.Context, convID string) ([]domain.Message, error) {
	atomic.AddInt32(&g.listMsgCalls, 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.sendErr[convID]; errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	out := make([]domain.Message, len(g.messages[convID]))
	copy(out, g.messages[convID])
	return out, nil
}

func (g *fakeGateway) MarkMessageRead(_ context.Context, convID, messageID string) error {
	atomic.AddInt32(&g.markCalls, 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.markFail[messageID] {
		return errBackendDown
	}
	for i, m := range g.messages[convID] {
		if m.ID == messageID {
			g.messages[convID][i].IsRead = true
		}
	}
	return nil
}

func (g *fakeGateway) SendTyping(_ context.Context, _ string, isTyping bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.typingCalls = append(g.typingCalls, isTyping)
	return nil
}

func (g *fakeGateway) NotificationCounts(_ context.Context, sessionID string) (*domain.NotificationCounts, error) {
	atomic.AddInt32(&g.countsCalls, 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.countsScopes = append(g.countsScopes, sessionID)
	c := g.counts
	return &c, nil
}

func (g *fakeGateway) newMessageLocked(convID, text string, sender domain.SenderType) domain.Message {
	g.messageIDSeq++
	return domain.Message{
		ID:             fmt.Sprintf("msg-%d", g.messageIDSeq),
		ConversationID: convID,
		Text:           text,
		Sender:         sender,
		Timestamp:      time.Now().UTC(),
		IsRead:         sender != domain.SenderAgent,
		Type:           domain.MessageTypeText,
	}
}

func (g *fakeGateway) addAgentMessage(convID, text string) domain.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	msg := g.newMessageLocked(convID, text, domain.SenderAgent)
	g.messages[convID] = append(g.messages[convID], msg)
	return msg
}

func (g *fakeGateway) createRequests() []domain.CreateConversationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.CreateConversationRequest, len(g.createReqs))
	copy(out, g.createReqs)
	return out
}

// --- transport (orchestrator tests) ---

type fakeTransport struct {
	mu           sync.Mutex
	connects     []string
	handlers     map[string]domain.EventHandlers
	frames       []domain.OutboundFrame
	typingLive   bool
	typing       []bool
	disconnects  []string
	disconnected int
	state        domain.ConnectionState
	suspended    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]domain.EventHandlers), state: domain.StateConnected}
}

func (f *fakeTransport) Connect(_ context.Context, convID string, h domain.EventHandlers) domain.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, convID)
	f.handlers[convID] = h
	return f.state
}

func (f *fakeTransport) Send(_ string, frame domain.OutboundFrame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return f.state == domain.StateConnected
}

func (f *fakeTransport) SendTyping(_ string, isTyping bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.typingLive {
		return false
	}
	f.typing = append(f.typing, isTyping)
	return true
}

func (f *fakeTransport) State(string) domain.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Disconnect(convID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, convID)
	delete(f.handlers, convID)
}

func (f *fakeTransport) DisconnectAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	f.handlers = make(map[string]domain.EventHandlers)
}

func (f *fakeTransport) Suspend() { f.mu.Lock(); f.suspended = true; f.mu.Unlock() }
func (f *fakeTransport) Resume()  { f.mu.Lock(); f.suspended = false; f.mu.Unlock() }

func (f *fakeTransport) Shutdown(context.Context) error {
	f.DisconnectAll()
	return nil
}

func (f *fakeTransport) handlersOf(convID string) domain.EventHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[convID]
}

// --- socket (transport manager tests) ---

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	mu      sync.Mutex
	reads   chan readResult
	writes  [][]byte
	closed  bool
	pings   int32
	writeFn func([]byte) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.writeFn != nil {
		if err := c.writeFn(data); err != nil {
			return err
		}
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	atomic.AddInt32(&c.pings, 1)
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// closeAbnormally makes the pending Read fail like a dropped TCP connection (1006).
func (c *fakeConn) closeAbnormally() {
	c.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusAbnormalClosure, Reason: "dropped"}}
}

func (c *fakeConn) closeNormally() {
	c.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusNormalClosure}}
}

// fakeDialer hands out connections in order. Each Dial blocks on gate when set.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int32
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (domain.SocketConn, error) {
	atomic.AddInt32(&d.dials, 1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no connection available")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) push(c *fakeConn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

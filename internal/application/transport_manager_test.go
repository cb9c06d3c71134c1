package application

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.ConnectionState
	maxHit int32
}

func (r *stateRecorder) handlers() domain.EventHandlers {
	return domain.EventHandlers{
		OnStateChange: func(s domain.ConnectionState) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnMaxReconnectAttemptsReached: func() {
			atomic.AddInt32(&r.maxHit, 1)
		},
	}
}

func (r *stateRecorder) seen(state domain.ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}

func newTestTransport(t *testing.T, dialer domain.SocketDialer, mutate func(*config.Config)) *TransportManager {
	cfg := testConfig()
	cfg.App.ReconnectBaseDelayMs = 1
	cfg.App.MaxReconnectAttempts = 3
	if mutate != nil {
		mutate(cfg)
	}
	m := NewTransportManager(dialer, config.NewStaticProvider(cfg), testLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func queueLen(m *TransportManager, convID string) int {
	s := m.session(convID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func TestTransport_QueuedFramesFlushInOrderOnOpen(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{gate: make(chan struct{})}
	dialer.push(conn)
	m := newTestTransport(t, dialer, nil)

	state := m.Connect(context.Background(), "c1", domain.EventHandlers{})
	if state != domain.StateConnecting {
		t.Fatalf("Connect() = %q, want %q", state, domain.StateConnecting)
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		if m.Send("c1", domain.NewMarkReadFrame("c1", id)) {
			t.Fatalf("Send(%s) reported live delivery while connecting", id)
		}
	}
	if got := queueLen(m, "c1"); got != 3 {
		t.Fatalf("queue length = %d, want 3", got)
	}

	close(dialer.gate)
	waitFor(t, "connected", func() bool { return m.State("c1") == domain.StateConnected })

	if !m.Send("c1", domain.NewMarkReadFrame("c1", "m4")) {
		t.Fatal("Send() while connected should report live delivery")
	}

	written := conn.written()
	if len(written) != 4 {
		t.Fatalf("written frames = %d, want 4: %v", len(written), written)
	}
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		var f domain.OutboundFrame
		if err := json.Unmarshal([]byte(written[i]), &f); err != nil {
			t.Fatalf("frame %d not JSON: %v", i, err)
		}
		if f.MessageID != want {
			t.Errorf("frame %d message_id = %q, want %q", i, f.MessageID, want)
		}
	}
	if got := queueLen(m, "c1"); got != 0 {
		t.Errorf("queue not emptied after flush, length = %d", got)
	}
}

func TestTransport_BackoffDoublesUntilCapThenAPIOnly(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.errs = []error{errors.New("refused"), errors.New("refused"), errors.New("refused"), errors.New("refused")}
	m := newTestTransport(t, dialer, nil)

	var mu sync.Mutex
	var delays []time.Duration
	m.backoffObserver = func(_ string, attempt int, delay time.Duration) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	}

	rec := &stateRecorder{}
	m.Connect(context.Background(), "c1", rec.handlers())

	waitFor(t, "api_only", func() bool { return m.State("c1") == domain.StateAPIOnly })

	mu.Lock()
	got := append([]time.Duration(nil), delays...)
	mu.Unlock()
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("reconnect delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if n := atomic.LoadInt32(&rec.maxHit); n != 1 {
		t.Errorf("OnMaxReconnectAttemptsReached fired %d times, want 1", n)
	}
	if !rec.seen(domain.StateReconnecting) {
		t.Error("expected a reconnecting state before api_only")
	}
	if n := atomic.LoadInt32(&dialer.dials); n != 4 {
		t.Errorf("dial attempts = %d, want 4 (initial + 3 reconnects)", n)
	}
}

func TestTransport_APIOnlyNeverQueues(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestTransport(t, dialer, func(c *config.Config) { c.App.MaxReconnectAttempts = 0 })

	rec := &stateRecorder{}
	m.Connect(context.Background(), "c1", rec.handlers())
	waitFor(t, "api_only", func() bool { return m.State("c1") == domain.StateAPIOnly })

	if m.Send("c1", domain.NewMarkReadFrame("c1", "")) {
		t.Error("Send() in api_only must report false")
	}
	if got := queueLen(m, "c1"); got != 0 {
		t.Errorf("queue length in api_only = %d, want 0", got)
	}
	if m.SendTyping("c1", true) {
		t.Error("SendTyping() in api_only must report false")
	}

	// Connect on a degraded session keeps it as is.
	if state := m.Connect(context.Background(), "c1", rec.handlers()); state != domain.StateAPIOnly {
		t.Errorf("Connect() on api_only session = %q, want %q", state, domain.StateAPIOnly)
	}
}

func TestTransport_ReconnectsAfterAbnormalCloseAndFlushes(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{gate: make(chan struct{})}
	dialer.push(first)
	dialer.push(second)
	m := newTestTransport(t, dialer, nil)

	rec := &stateRecorder{}
	m.Connect(context.Background(), "c1", rec.handlers())
	dialer.gate <- struct{}{}
	waitFor(t, "first connection", func() bool { return m.State("c1") == domain.StateConnected })

	first.closeAbnormally()
	waitFor(t, "reconnecting", func() bool { return m.State("c1") == domain.StateReconnecting })

	if m.Send("c1", domain.NewMarkReadFrame("c1", "queued")) {
		t.Fatal("Send() while reconnecting should queue")
	}

	dialer.gate <- struct{}{}
	waitFor(t, "second connection", func() bool { return m.State("c1") == domain.StateConnected })

	written := second.written()
	if len(written) != 1 {
		t.Fatalf("frames on new connection = %d, want 1", len(written))
	}
	s := m.session("c1")
	s.mu.Lock()
	attempt := s.attempt
	s.mu.Unlock()
	if attempt != 0 {
		t.Errorf("attempt counter after successful reopen = %d, want 0", attempt)
	}
}

func TestTransport_NormalCloseDoesNotReconnect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m := newTestTransport(t, dialer, nil)

	m.Connect(context.Background(), "c1", domain.EventHandlers{})
	waitFor(t, "connected", func() bool { return m.State("c1") == domain.StateConnected })

	conn.closeNormally()
	waitFor(t, "disconnected", func() bool { return m.State("c1") == domain.StateDisconnected })

	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&dialer.dials); n != 1 {
		t.Errorf("dial attempts = %d, want 1", n)
	}
}

func TestTransport_ConnectIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m := newTestTransport(t, dialer, nil)

	m.Connect(context.Background(), "c1", domain.EventHandlers{})
	waitFor(t, "connected", func() bool { return m.State("c1") == domain.StateConnected })

	var got int32
	state := m.Connect(context.Background(), "c1", domain.EventHandlers{
		OnNewMessage: func(domain.Message) { atomic.AddInt32(&got, 1) },
	})
	if state != domain.StateConnected {
		t.Fatalf("second Connect() = %q, want %q", state, domain.StateConnected)
	}
	if n := atomic.LoadInt32(&dialer.dials); n != 1 {
		t.Fatalf("dial attempts = %d, want 1", n)
	}

	// The replacement handlers receive inbound frames.
	conn.reads <- readResult{data: []byte(`{"type":"new_message","data":{"id":"m1","text":"hi","sender":"agent"}}`)}
	waitFor(t, "message dispatched to new handlers", func() bool { return atomic.LoadInt32(&got) == 1 })
}

func TestTransport_DispatchRoutesFramesAndDropsUnknown(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m := newTestTransport(t, dialer, nil)

	var (
		mu       sync.Mutex
		messages []domain.Message
		typing   []domain.TypingEvent
		statuses []domain.AgentStatusEvent
		assigned []domain.AgentRef
		counts   []domain.NotificationCounts
	)
	m.Connect(context.Background(), "c1", domain.EventHandlers{
		OnNewMessage: func(msg domain.Message) { mu.Lock(); messages = append(messages, msg); mu.Unlock() },
		OnTyping:     func(ev domain.TypingEvent) { mu.Lock(); typing = append(typing, ev); mu.Unlock() },
		OnAgentStatus: func(ev domain.AgentStatusEvent) {
			mu.Lock()
			statuses = append(statuses, ev)
			mu.Unlock()
		},
		OnConversationAssigned: func(a domain.AgentRef) { mu.Lock(); assigned = append(assigned, a); mu.Unlock() },
		OnNotificationCountUpdate: func(c domain.NotificationCounts) {
			mu.Lock()
			counts = append(counts, c)
			mu.Unlock()
		},
	})
	waitFor(t, "connected", func() bool { return m.State("c1") == domain.StateConnected })

	frames := []string{
		`{"type":"mystery","data":{}}`,
		`not json`,
		`{"type":"new_message","data":{"id":"m1","text":"hello","sender":"agent"}}`,
		`{"type":"typing","data":{"sender":"agent","is_typing":true}}`,
		`{"type":"agent_online","data":{"agent_id":"a1","online":false}}`,
		`{"type":"conversation_assigned","data":{"agent":{"id":"a1","name":"Ana"}}}`,
		`{"type":"notification_count_update","data":{"unread_messages":4}}`,
		`{"type":"test_message","data":{"ping":true}}`,
	}
	for _, f := range frames {
		conn.reads <- readResult{data: []byte(f)}
	}

	waitFor(t, "all frames dispatched", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 || messages[0].ConversationID != "c1" {
		t.Errorf("messages = %+v, want one message with conversation id c1", messages)
	}
	if len(typing) != 1 || !typing[0].IsTyping {
		t.Errorf("typing = %+v", typing)
	}
	if len(statuses) != 1 || !statuses[0].Online {
		t.Errorf("agent_online must force Online, got %+v", statuses)
	}
	if len(assigned) != 1 || assigned[0].Name != "Ana" {
		t.Errorf("assigned = %+v", assigned)
	}
	if counts[0].UnreadMessages != 4 {
		t.Errorf("counts = %+v", counts[0])
	}
	if m.State("c1") != domain.StateConnected {
		t.Error("unknown or malformed frames must not break the connection")
	}
}

func TestTransport_SendTypingOnlyWhenLive(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	conn := newFakeConn()
	dialer.push(conn)
	m := newTestTransport(t, dialer, nil)

	if m.SendTyping("unknown", true) {
		t.Error("SendTyping() for unknown conversation must report false")
	}

	m.Connect(context.Background(), "c1", domain.EventHandlers{})
	if m.SendTyping("c1", true) {
		t.Error("SendTyping() while connecting must report false")
	}
	if got := queueLen(m, "c1"); got != 0 {
		t.Errorf("typing frames must never be queued, queue length = %d", got)
	}

	close(dialer.gate)
	waitFor(t, "connected", func() bool { return m.State("c1") == domain.StateConnected })
	if !m.SendTyping("c1", true) {
		t.Error("SendTyping() while connected must report true")
	}
	if len(conn.written()) != 1 {
		t.Errorf("written frames = %d, want 1", len(conn.written()))
	}
}

func TestTransport_DisconnectDropsQueueAndClosesNormally(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	m := newTestTransport(t, dialer, nil)

	rec := &stateRecorder{}
	m.Connect(context.Background(), "c1", rec.handlers())
	m.Send("c1", domain.NewMarkReadFrame("c1", ""))

	m.Disconnect("c1")
	if m.State("c1") != domain.StateDisconnected {
		t.Errorf("State() after Disconnect = %q", m.State("c1"))
	}
	if !rec.seen(domain.StateDisconnected) {
		t.Error("OnStateChange(disconnected) not called")
	}
	if m.Send("c1", domain.NewMarkReadFrame("c1", "")) {
		t.Error("Send() after Disconnect must report false")
	}
}

func TestTransport_ShutdownWaitsForLoops(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m := newTestTransport(t, dialer, nil)

	m.Connect(context.Background(), "c1", domain.EventHandlers{})
	waitFor(t, "connected", func() bool { return m.State("c1") == domain.StateConnected })
	s := m.session("c1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-s.done:
	default:
		t.Error("socket loop still running after Shutdown")
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("connection was not closed")
	}
}

func TestTransport_SendDuringFlushWaitsBehindQueue(t *testing.T) {
	conn := newFakeConn()
	flushStarted := make(chan struct{})
	release := make(chan struct{})
	var writes int32
	conn.writeFn = func([]byte) error {
		if atomic.AddInt32(&writes, 1) == 1 {
			close(flushStarted)
			<-release
		}
		return nil
	}
	dialer := &fakeDialer{gate: make(chan struct{})}
	dialer.push(conn)
	m := newTestTransport(t, dialer, nil)

	m.Connect(context.Background(), "c1", domain.EventHandlers{})
	for _, id := range []string{"m1", "m2", "m3"} {
		m.Send("c1", domain.NewMarkReadFrame("c1", id))
	}
	close(dialer.gate)

	select {
	case <-flushStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("queue flush never started")
	}

	sent := make(chan bool, 1)
	go func() {
		sent <- m.Send("c1", domain.NewMarkReadFrame("c1", "m4"))
	}()

	select {
	case <-sent:
		t.Fatal("Send() returned while the queue was still flushing")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)

	select {
	case live := <-sent:
		if !live {
			t.Error("Send() after the flush should report live delivery")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Send() never completed after the flush")
	}

	written := conn.written()
	if len(written) != 4 {
		t.Fatalf("written frames = %d, want 4: %v", len(written), written)
	}
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		var f domain.OutboundFrame
		if err := json.Unmarshal([]byte(written[i]), &f); err != nil {
			t.Fatalf("frame %d not JSON: %v", i, err)
		}
		if f.MessageID != want {
			t.Errorf("frame %d message_id = %q, want %q", i, f.MessageID, want)
		}
	}
}

func TestReconnectBackOff_SaturatesInsteadOfOverflowing(t *testing.T) {
	if got := reconnectMaxInterval(time.Millisecond, 3); got != 8*time.Millisecond {
		t.Errorf("reconnectMaxInterval(1ms, 3) = %v, want 8ms", got)
	}
	if got := reconnectMaxInterval(10*time.Second, 40); got != time.Duration(math.MaxInt64) {
		t.Errorf("reconnectMaxInterval(10s, 40) = %v, want saturation", got)
	}

	bo := newReconnectBackOff(10*time.Second, 40)
	var prev time.Duration
	for i := 0; i < 40; i++ {
		d := bo.NextBackOff()
		if d <= 0 {
			t.Fatalf("delay %d = %v, want positive", i, d)
		}
		if d < prev {
			t.Fatalf("delay %d = %v shrank from %v", i, d, prev)
		}
		prev = d
	}
}

package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
	"gitlab.com/timkado/api/support-chat-client/pkg/safego"
)

// Phase is the orchestrator's conversation lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseStarting  Phase = "starting"
	PhaseActive    Phase = "active"
	PhaseCleared   Phase = "cleared"
)

// Presented connection statuses. Transport internals are never shown as broken.
const (
	StatusOnline     = "online"
	StatusConnecting = "connecting"
)

// PresentedStatus maps a connection state to what the user sees. api_only is
// presented exactly like connected since REST keeps everything working.
func PresentedStatus(state domain.ConnectionState) string {
	switch state {
	case domain.StateConnecting, domain.StateReconnecting:
		return StatusConnecting
	default:
		return StatusOnline
	}
}

// Transport is the live-socket surface the orchestrator uses.
type Transport interface {
	Connect(ctx context.Context, conversationID string, handlers domain.EventHandlers) domain.ConnectionState
	Send(conversationID string, frame domain.OutboundFrame) bool
	SendTyping(conversationID string, isTyping bool) bool
	State(conversationID string) domain.ConnectionState
	Disconnect(conversationID string)
	DisconnectAll()
	Suspend()
	Resume()
	Shutdown(ctx context.Context) error
}

// Snapshot is a copy of the orchestrator state for the presentation layer.
type Snapshot struct {
	Phase           Phase                     `json:"phase"`
	Open            bool                      `json:"open"`
	Conversation    *domain.Conversation      `json:"conversation,omitempty"`
	Messages        []domain.Message          `json:"messages"`
	Agent           *domain.AgentRef          `json:"agent,omitempty"`
	AgentTyping     bool                      `json:"agent_typing"`
	ConnectionState domain.ConnectionState    `json:"connection_state"`
	Status          string                    `json:"status"`
	Counts          domain.NotificationCounts `json:"counts"`
}

// Orchestrator is the single state owner the presentation layer talks to.
// REST is the authoritative path for user messages; the socket carries
// inbound pushes, typing and read receipts.
type Orchestrator struct {
	gateway        domain.ChatGateway
	transport      Transport
	sessions       *SessionIdentityStore
	notifications  *NotificationSynchronizer
	identity       domain.IdentityProvider
	sink           domain.EventSink
	configProvider config.Provider
	logger         domain.Logger

	// flowMu serializes user-initiated flows (open, send, logout, identity
	// sync) so caller-issued order is kept and at most one conversation is
	// being created at a time.
	flowMu sync.Mutex

	mu             sync.Mutex
	phase          Phase
	open           bool
	conversation   *domain.Conversation
	messages       []domain.Message
	agent          *domain.AgentRef
	agentTyping    bool
	connState      domain.ConnectionState
	lastUserID     string
	identitySeen   bool
	epoch          uint64
	reconcileTimer *time.Timer
	typingTimer    *time.Timer
	tornDown       bool
}

// NewOrchestrator wires the orchestrator. sink may be nil.
func NewOrchestrator(
	gateway domain.ChatGateway,
	transport Transport,
	sessions *SessionIdentityStore,
	notifications *NotificationSynchronizer,
	identity domain.IdentityProvider,
	sink domain.EventSink,
	cfgProvider config.Provider,
	logger domain.Logger,
) *Orchestrator {
	return &Orchestrator{
		gateway:        gateway,
		transport:      transport,
		sessions:       sessions,
		notifications:  notifications,
		identity:       identity,
		sink:           sink,
		configProvider: cfgProvider,
		logger:         logger,
		phase:          PhaseIdle,
		connState:      domain.StateDisconnected,
	}
}

// Open resolves which conversation to show. Authenticated visitors resume
// their most recent active conversation (else the most recently created);
// anonymous visitors resume by their persisted session. Nothing is created
// here: with nothing to resume the orchestrator waits in PhaseStarting for
// the first message.
func (o *Orchestrator) Open(ctx context.Context) error {
	o.flowMu.Lock()
	defer o.flowMu.Unlock()

	o.syncIdentityLocked(ctx)

	o.mu.Lock()
	o.open = true
	o.phase = PhaseResolving
	epoch := o.epoch
	o.mu.Unlock()

	id := o.identity.Current(ctx)
	var (
		convs     []domain.Conversation
		sessionID string
		err       error
	)
	if id != nil {
		ctx = context.WithValue(ctx, contextkeys.UserIDKey, id.UserID)
		convs, err = o.gateway.ListConversationsByUser(ctx, id.UserID)
	} else {
		var session *domain.Session
		session, err = o.sessions.Current(ctx)
		if err == nil && session != nil {
			sessionID = session.SessionID
			ctx = context.WithValue(ctx, contextkeys.SessionIDKey, sessionID)
			convs, err = o.gateway.ListConversationsBySession(ctx, sessionID)
		}
	}

	o.notifications.SetScope(sessionID)
	// An anonymous visitor without a session has nothing to count yet.
	if id != nil || sessionID != "" {
		if _, refreshErr := o.notifications.Refresh(ctx, sessionID); refreshErr != nil {
			o.logger.Debug(ctx, "Initial counts refresh failed", "error", refreshErr.Error())
		}
	}

	if err != nil {
		o.logger.Warn(ctx, "Failed to look up resumable conversations", "error", err.Error())
	}

	pick := pickConversation(convs)
	if pick == nil {
		o.mu.Lock()
		if o.conversation != nil {
			o.phase = PhaseActive
		} else {
			o.phase = PhaseStarting
		}
		o.mu.Unlock()
		o.logger.Info(ctx, "No resumable conversation, waiting for first message")
		return nil
	}

	o.mu.Lock()
	same := o.conversation != nil && o.conversation.ID == pick.ID
	if same {
		o.phase = PhaseActive
	}
	o.mu.Unlock()
	if same {
		o.connect(ctx, pick.ID)
		return nil
	}

	msgs := pick.Messages
	if msgs == nil {
		fetched, listErr := o.gateway.ListMessages(ctx, pick.ID)
		if listErr != nil {
			o.logger.Warn(ctx, "Failed to load messages of resumed conversation", "conversation_id", pick.ID, "error", listErr.Error())
		}
		msgs = fetched
	}
	if len(msgs) == 0 {
		msgs = []domain.Message{o.welcomeMessage(pick.ID)}
	}

	if _, ok := o.adopt(ctx, *pick, msgs, epoch); !ok {
		return domain.ErrConversationSuperseded
	}
	o.logger.Info(ctx, "Resumed conversation", "conversation_id", pick.ID, "messages", len(msgs))
	return nil
}

// Close hides the widget. The conversation and its socket stay alive.
func (o *Orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	o.open = false
	convID := ""
	typing := o.typingTimer != nil
	if typing {
		o.typingTimer.Stop()
		o.typingTimer = nil
	}
	if o.conversation != nil {
		convID = o.conversation.ID
	}
	o.mu.Unlock()

	if typing && convID != "" {
		o.pushTyping(ctx, convID, false)
	}
}

// SendMessage appends an optimistic copy of text and submits it over REST.
// Without a conversation one is created with text as its initial message. If
// the conversation vanished (404) local state is dropped and a new
// conversation is created carrying the text, exactly once. Any other failure
// removes the optimistic copy and returns an error wrapping
// domain.ErrSendFailed so the host can restore the input.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}

	o.flowMu.Lock()
	defer o.flowMu.Unlock()

	o.syncIdentityLocked(ctx)

	temp := domain.Message{
		ID:        domain.TempMessagePrefix + uuid.NewString(),
		Text:      text,
		Sender:    domain.SenderUser,
		Timestamp: time.Now().UTC(),
		IsRead:    true,
		Type:      domain.MessageTypeText,
	}

	o.mu.Lock()
	var convID string
	if o.conversation != nil {
		convID = o.conversation.ID
		temp.ConversationID = convID
	}
	epoch := o.epoch
	o.messages = append(o.messages, temp)
	o.mu.Unlock()
	o.emit(ctx, domain.ChatEvent{Type: domain.EventMessageAdded, ConversationID: convID, Payload: temp})

	if convID == "" {
		return o.startConversation(ctx, temp, epoch)
	}

	ctx = context.WithValue(ctx, contextkeys.ConversationIDKey, convID)
	msg, err := o.gateway.SendMessage(ctx, convID, domain.SendMessageRequest{
		Text:      text,
		Type:      domain.MessageTypeText,
		SessionID: o.anonymousSessionID(ctx),
	})
	if err != nil {
		if domain.IsNotFound(err) {
			metrics.RecordMessageSent("not_found")
			return o.recoverNotFound(ctx, convID, temp)
		}
		metrics.RecordMessageSent("error")
		o.rollback(ctx, temp, err)
		return domain.Message{}, fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}
	metrics.RecordMessageSent("success")

	o.mu.Lock()
	if !o.currentLocked(convID, epoch) {
		o.removeMessageLocked(temp.ID)
		o.mu.Unlock()
		o.logger.Info(ctx, "Discarding send response for a superseded conversation")
		return *msg, nil
	}
	o.confirmLocked(temp.ID, *msg)
	snapshot := cloneMessages(o.messages)
	o.mu.Unlock()

	o.emit(ctx, domain.ChatEvent{Type: domain.EventMessagesReplaced, ConversationID: convID, Payload: snapshot})
	o.scheduleReconcile(convID, epoch)
	return *msg, nil
}

// SendTyping reports the visitor's typing state. true is automatically
// followed by false after the idle timeout. Failures are only logged.
func (o *Orchestrator) SendTyping(ctx context.Context, isTyping bool) {
	o.mu.Lock()
	if o.conversation == nil {
		o.mu.Unlock()
		return
	}
	convID := o.conversation.ID
	if o.typingTimer != nil {
		o.typingTimer.Stop()
		o.typingTimer = nil
	}
	if isTyping {
		idle := o.configProvider.Get().App.TypingIdleTimeout()
		o.typingTimer = time.AfterFunc(idle, func() {
			o.mu.Lock()
			o.typingTimer = nil
			stillCurrent := o.conversation != nil && o.conversation.ID == convID
			o.mu.Unlock()
			if !stillCurrent {
				return
			}
			bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			safego.Run(bg, o.logger, "TypingIdleReset", func() {
				o.pushTyping(bg, convID, false)
			})
		})
	}
	o.mu.Unlock()

	o.pushTyping(ctx, convID, isTyping)
}

// MarkRead marks every unread agent message of the current conversation as
// read. A mark_read frame goes through the socket queue as well.
func (o *Orchestrator) MarkRead(ctx context.Context) (domain.MarkReadResult, error) {
	o.mu.Lock()
	if o.conversation == nil {
		o.mu.Unlock()
		return domain.MarkReadResult{}, domain.ErrNoConversation
	}
	convID := o.conversation.ID
	epoch := o.epoch
	o.mu.Unlock()

	ctx = context.WithValue(ctx, contextkeys.ConversationIDKey, convID)
	o.transport.Send(convID, domain.NewMarkReadFrame(convID, ""))

	result, err := o.notifications.MarkConversationRead(ctx, convID)
	if err != nil {
		return result, err
	}

	failed := make(map[string]struct{}, len(result.FailedIDs))
	for _, id := range result.FailedIDs {
		failed[id] = struct{}{}
	}
	o.mu.Lock()
	if o.currentLocked(convID, epoch) {
		for i := range o.messages {
			if o.messages[i].Sender != domain.SenderAgent {
				continue
			}
			if _, stillUnread := failed[o.messages[i].ID]; !stillUnread {
				o.messages[i].IsRead = true
			}
		}
	}
	o.mu.Unlock()
	return result, nil
}

// SyncIdentity compares the current principal with the last one seen and
// clears all conversation state when it changed, including to or from anonymous.
func (o *Orchestrator) SyncIdentity(ctx context.Context) {
	o.flowMu.Lock()
	defer o.flowMu.Unlock()
	o.syncIdentityLocked(ctx)
}

// Logout clears all conversation state first, then drops the anonymous
// session and provisions a fresh one so the widget stays usable.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.flowMu.Lock()
	defer o.flowMu.Unlock()

	o.clearState(ctx, "logout")

	o.mu.Lock()
	o.identitySeen = true
	o.lastUserID = ""
	o.mu.Unlock()

	return o.reprovisionSession(ctx)
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		Phase:           o.phase,
		Open:            o.open,
		Messages:        cloneMessages(o.messages),
		AgentTyping:     o.agentTyping,
		ConnectionState: o.connState,
		Status:          PresentedStatus(o.connState),
		Counts:          o.notifications.Counts(),
	}
	if o.conversation != nil {
		c := *o.conversation
		c.Messages = nil
		s.Conversation = &c
	}
	if o.agent != nil {
		a := *o.agent
		s.Agent = &a
	}
	return s
}

// Suspend lowers background activity while the host is hidden.
func (o *Orchestrator) Suspend() {
	o.transport.Suspend()
}

// Resume restores normal activity and re-reads the counts.
func (o *Orchestrator) Resume(ctx context.Context) {
	o.transport.Resume()
	o.notifications.ScheduleRefresh()
}

// Teardown cancels all timers and closes every socket.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	o.mu.Lock()
	o.tornDown = true
	o.stopTimersLocked()
	o.mu.Unlock()

	o.notifications.Stop()
	return o.transport.Shutdown(ctx)
}

// startConversation creates a conversation carrying temp as its initial
// message. It is the only place conversations are created.
func (o *Orchestrator) startConversation(ctx context.Context, temp domain.Message, epoch uint64) (domain.Message, error) {
	o.mu.Lock()
	o.phase = PhaseStarting
	o.mu.Unlock()

	session, err := o.sessions.GetOrCreateSession(ctx)
	if err != nil {
		metrics.RecordMessageSent("error")
		o.rollback(ctx, temp, err)
		return domain.Message{}, fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}
	ctx = context.WithValue(ctx, contextkeys.SessionIDKey, session.SessionID)

	chatCfg := o.configProvider.Get().Chat
	req := domain.CreateConversationRequest{
		Subject:        chatCfg.DefaultSubject,
		Department:     chatCfg.DefaultDepartment,
		Priority:       chatCfg.DefaultPriority,
		SessionID:      session.SessionID,
		InitialMessage: temp.Text,
	}
	anonymous := o.identity.Current(ctx) == nil
	if anonymous {
		req.Name = chatCfg.AnonymousName
		req.Email = chatCfg.AnonymousEmail
		req.Phone = chatCfg.AnonymousPhone
	}

	conv, err := o.gateway.CreateConversation(ctx, req)
	if err != nil {
		metrics.RecordMessageSent("error")
		o.rollback(ctx, temp, err)
		return domain.Message{}, fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}
	metrics.RecordMessageSent("created")
	ctx = context.WithValue(ctx, contextkeys.ConversationIDKey, conv.ID)

	msgs := conv.Messages
	if msgs == nil {
		fetched, listErr := o.gateway.ListMessages(ctx, conv.ID)
		if listErr != nil {
			o.logger.Warn(ctx, "Failed to load messages of new conversation", "error", listErr.Error())
		}
		msgs = fetched
	}

	if anonymous {
		o.notifications.SetScope(session.SessionID)
	} else {
		o.notifications.SetScope("")
	}

	newEpoch, ok := o.adopt(ctx, *conv, msgs, epoch)
	if !ok {
		return domain.Message{}, domain.ErrConversationSuperseded
	}
	o.logger.Info(ctx, "Started conversation with initial message")

	o.scheduleReconcile(conv.ID, newEpoch)
	o.notifications.ScheduleRefresh()

	for _, m := range msgs {
		if m.Sender == domain.SenderUser && m.Text == temp.Text {
			return m, nil
		}
	}
	temp.ConversationID = conv.ID
	return temp, nil
}

// recoverNotFound drops the vanished conversation and starts a new one with
// the pending message. The stale id is never used again.
func (o *Orchestrator) recoverNotFound(ctx context.Context, staleID string, temp domain.Message) (domain.Message, error) {
	o.logger.Info(ctx, "Conversation no longer exists, starting a new one", "stale_conversation_id", staleID)

	o.mu.Lock()
	o.stopTimersLocked()
	o.conversation = nil
	o.agent = nil
	o.agentTyping = false
	temp.ConversationID = ""
	o.messages = []domain.Message{temp}
	o.phase = PhaseStarting
	o.connState = domain.StateDisconnected
	o.epoch++
	epoch := o.epoch
	o.mu.Unlock()

	o.transport.Disconnect(staleID)
	o.emit(ctx,
		domain.ChatEvent{Type: domain.EventConversationClear, ConversationID: staleID},
		domain.ChatEvent{Type: domain.EventMessagesReplaced, Payload: []domain.Message{temp}},
	)

	return o.startConversation(ctx, temp, epoch)
}

// adopt makes conv the current conversation unless the state moved on since
// epoch was read. It bumps the epoch and opens the socket.
func (o *Orchestrator) adopt(ctx context.Context, conv domain.Conversation, msgs []domain.Message, epoch uint64) (uint64, bool) {
	o.mu.Lock()
	if o.epoch != epoch || o.tornDown {
		o.mu.Unlock()
		o.logger.Info(ctx, "Discarding conversation resolved for a superseded state", "conversation_id", conv.ID)
		return 0, false
	}
	o.stopTimersLocked()
	merged := mergePending(msgs, o.messages)
	for i := range merged {
		if merged[i].ConversationID == "" {
			merged[i].ConversationID = conv.ID
		}
	}
	conv.Messages = nil
	o.conversation = &conv
	o.messages = merged
	o.agent = conv.Agent
	o.agentTyping = false
	o.phase = PhaseActive
	o.epoch++
	newEpoch := o.epoch
	snapshot := cloneMessages(merged)
	agent := o.agent
	o.mu.Unlock()

	o.emit(ctx,
		domain.ChatEvent{Type: domain.EventConversationSet, ConversationID: conv.ID, Payload: conv},
		domain.ChatEvent{Type: domain.EventMessagesReplaced, ConversationID: conv.ID, Payload: snapshot},
		domain.ChatEvent{Type: domain.EventAgentUpdated, ConversationID: conv.ID, Payload: agent},
	)
	o.connect(ctx, conv.ID)
	return newEpoch, true
}

func (o *Orchestrator) connect(ctx context.Context, convID string) {
	o.mu.Lock()
	epoch := o.epoch
	o.mu.Unlock()

	state := o.transport.Connect(ctx, convID, o.handlersFor(convID, epoch))

	o.mu.Lock()
	if o.currentLocked(convID, epoch) {
		o.connState = state
	}
	o.mu.Unlock()
	o.emit(ctx, domain.ChatEvent{Type: domain.EventConnectionStatus, ConversationID: convID, Payload: PresentedStatus(state)})
}

// clearState resets conversation, messages and agent, and closes all sockets.
func (o *Orchestrator) clearState(ctx context.Context, reason string) {
	o.mu.Lock()
	prevID := ""
	if o.conversation != nil {
		prevID = o.conversation.ID
	}
	o.stopTimersLocked()
	o.conversation = nil
	o.messages = nil
	o.agent = nil
	o.agentTyping = false
	o.phase = PhaseCleared
	o.connState = domain.StateDisconnected
	o.epoch++
	o.mu.Unlock()

	o.transport.DisconnectAll()
	o.notifications.Reset(ctx)
	o.emit(ctx,
		domain.ChatEvent{Type: domain.EventConversationClear, ConversationID: prevID},
		domain.ChatEvent{Type: domain.EventMessagesReplaced, Payload: []domain.Message{}},
		domain.ChatEvent{Type: domain.EventAgentUpdated, Payload: (*domain.AgentRef)(nil)},
	)
	o.logger.Info(ctx, "Cleared conversation state", "reason", reason, "previous_conversation_id", prevID)
}

func (o *Orchestrator) syncIdentityLocked(ctx context.Context) {
	userID := ""
	if id := o.identity.Current(ctx); id != nil {
		userID = id.UserID
	}

	o.mu.Lock()
	seen := o.identitySeen
	prev := o.lastUserID
	o.identitySeen = true
	o.lastUserID = userID
	o.mu.Unlock()

	if !seen || prev == userID {
		return
	}
	o.logger.Info(ctx, "Identity changed, clearing conversation state", "previous_user_id", prev, "user_id", userID)
	o.clearState(ctx, "identity_changed")

	// Dropping to anonymous without Logout still must not reuse the pre-login session.
	if prev != "" && userID == "" {
		if err := o.reprovisionSession(ctx); err != nil {
			o.logger.Warn(ctx, "Failed to replace anonymous session after identity change", "error", err.Error())
		}
	}
}

// reprovisionSession drops the persisted anonymous session and creates a fresh one.
func (o *Orchestrator) reprovisionSession(ctx context.Context) error {
	if err := o.sessions.Clear(ctx); err != nil {
		return err
	}
	session, err := o.sessions.GetOrCreateSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to re-provision anonymous session: %w", err)
	}
	o.notifications.SetScope(session.SessionID)
	o.logger.Info(context.WithValue(ctx, contextkeys.SessionIDKey, session.SessionID), "Anonymous session ready")
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, temp domain.Message, cause error) {
	o.mu.Lock()
	o.removeMessageLocked(temp.ID)
	if o.conversation == nil && o.phase != PhaseCleared {
		o.phase = PhaseStarting
	}
	o.mu.Unlock()

	o.logger.Warn(ctx, "Message could not be sent", "error", cause.Error())
	o.emit(ctx,
		domain.ChatEvent{Type: domain.EventMessageRemoved, ConversationID: temp.ConversationID, Payload: temp},
		domain.ChatEvent{Type: domain.EventSendFailed, ConversationID: temp.ConversationID, Payload: temp.Text},
	)
}

func (o *Orchestrator) pushTyping(ctx context.Context, convID string, isTyping bool) {
	if o.transport.SendTyping(convID, isTyping) {
		return
	}
	if err := o.gateway.SendTyping(ctx, convID, isTyping); err != nil {
		o.logger.Debug(ctx, "Typing indicator not delivered", "conversation_id", convID, "error", err.Error())
	}
}

func (o *Orchestrator) anonymousSessionID(ctx context.Context) string {
	if o.identity.Current(ctx) != nil {
		return ""
	}
	session, err := o.sessions.Current(ctx)
	if err != nil || session == nil {
		return ""
	}
	return session.SessionID
}

func (o *Orchestrator) welcomeMessage(convID string) domain.Message {
	return domain.Message{
		ID:             "welcome-" + convID,
		ConversationID: convID,
		Text:           o.configProvider.Get().Chat.WelcomeMessage,
		Sender:         domain.SenderSystem,
		Timestamp:      time.Now().UTC(),
		IsRead:         true,
		Type:           domain.MessageTypeText,
	}
}

func (o *Orchestrator) emit(ctx context.Context, events ...domain.ChatEvent) {
	if o.sink == nil {
		return
	}
	now := time.Now().UTC()
	for _, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = now
		}
		if err := o.sink.Publish(ctx, ev); err != nil {
			o.logger.Warn(ctx, "Failed to publish chat event", "event_type", ev.Type, "error", err.Error())
		}
	}
}

// currentLocked reports whether convID at epoch is still the current conversation.
func (o *Orchestrator) currentLocked(convID string, epoch uint64) bool {
	return o.conversation != nil && o.conversation.ID == convID && o.epoch == epoch && !o.tornDown
}

func (o *Orchestrator) stopTimersLocked() {
	if o.reconcileTimer != nil {
		o.reconcileTimer.Stop()
		o.reconcileTimer = nil
	}
	if o.typingTimer != nil {
		o.typingTimer.Stop()
		o.typingTimer = nil
	}
}

func (o *Orchestrator) removeMessageLocked(id string) {
	for i, m := range o.messages {
		if m.ID == id {
			o.messages = append(o.messages[:i:i], o.messages[i+1:]...)
			return
		}
	}
}

// confirmLocked swaps the optimistic copy for the server message. If the
// server copy already arrived over the socket the optimistic one is dropped.
func (o *Orchestrator) confirmLocked(tempID string, confirmed domain.Message) {
	for _, m := range o.messages {
		if m.ID == confirmed.ID {
			o.removeMessageLocked(tempID)
			return
		}
	}
	for i, m := range o.messages {
		if m.ID == tempID {
			o.messages[i] = confirmed
			return
		}
	}
	o.messages = append(o.messages, confirmed)
}

// pickConversation prefers the most recent active conversation, else the most
// recently created one.
func pickConversation(convs []domain.Conversation) *domain.Conversation {
	if len(convs) == 0 {
		return nil
	}
	sorted := make([]domain.Conversation, len(convs))
	copy(sorted, convs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	for i := range sorted {
		if sorted[i].Status == domain.ConversationActive {
			return &sorted[i]
		}
	}
	return &sorted[0]
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

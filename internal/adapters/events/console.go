package events

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

// ConsoleSink renders chat events as plain text lines for the terminal host.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (c *ConsoleSink) Publish(_ context.Context, event domain.ChatEvent) error {
	line := render(event)
	if line == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, line)
	return err
}

func render(event domain.ChatEvent) string {
	switch p := event.Payload.(type) {
	case domain.Message:
		if event.Type == domain.EventMessageAdded {
			return fmt.Sprintf("[%s] %s", senderLabel(p), p.Text)
		}
		if event.Type == domain.EventMessageRemoved {
			return fmt.Sprintf("! message not sent: %s", p.Text)
		}
	case []domain.Message:
		var b strings.Builder
		fmt.Fprintf(&b, "-- %d messages --", len(p))
		for _, m := range p {
			fmt.Fprintf(&b, "\n[%s] %s", senderLabel(m), m.Text)
		}
		return b.String()
	case *domain.AgentRef:
		if p == nil {
			return ""
		}
		state := "offline"
		if p.Online {
			state = "online"
		}
		return fmt.Sprintf("* agent %s is %s", p.Name, state)
	case domain.NotificationCounts:
		return fmt.Sprintf("* unread: %d, active conversations: %d", p.UnreadMessages, p.ActiveConversations)
	case bool:
		if event.Type == domain.EventAgentTyping && p {
			return "* agent is typing..."
		}
		return ""
	case string:
		switch event.Type {
		case domain.EventConnectionStatus:
			return "* status: " + p
		case domain.EventSendFailed:
			return "! send failed: " + p
		}
	}
	switch event.Type {
	case domain.EventConversationSet:
		return "* conversation " + event.ConversationID
	case domain.EventConversationClear:
		return "* conversation cleared"
	}
	return ""
}

func senderLabel(m domain.Message) string {
	label := string(m.Sender)
	if m.IsTemporary() {
		label += ", sending"
	}
	return label
}

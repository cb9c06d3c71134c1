package bootstrap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gitlab.com/timkado/api/support-chat-client/internal/application"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

// terminalChat is the orchestrator surface the terminal drives.
type terminalChat interface {
	Open(ctx context.Context) error
	Close(ctx context.Context)
	SendMessage(ctx context.Context, text string) (domain.Message, error)
	SendTyping(ctx context.Context, isTyping bool)
	MarkRead(ctx context.Context) (domain.MarkReadResult, error)
	SyncIdentity(ctx context.Context)
	Logout(ctx context.Context) error
	Snapshot() application.Snapshot
}

type identitySetter interface {
	Set(id *domain.Identity)
}

// Terminal turns stdin lines into chat operations. Plain lines are sent as
// messages; lines starting with a slash are commands.
type Terminal struct {
	chat     terminalChat
	identity identitySetter
	out      io.Writer
	logger   domain.Logger
}

func NewTerminal(chat terminalChat, identity identitySetter, out io.Writer, logger domain.Logger) *Terminal {
	if out == nil {
		out = io.Discard
	}
	return &Terminal{chat: chat, identity: identity, out: out, logger: logger}
}

const terminalHelp = `commands:
  /open                 open the chat and resume the last conversation
  /close                hide the chat (the conversation stays live)
  /read                 mark agent messages as read
  /typing               tell the agent you are typing
  /login <id> [token]   switch to an authenticated user
  /logout               log out and continue anonymously
  /status               show conversation and connection status
  /quit                 leave`

// Run reads lines until in is exhausted, /quit is entered or ctx is done.
func (t *Terminal) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(t.out, "type a message and press enter, /help for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := t.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle runs one input line and reports whether the user asked to quit.
func (t *Terminal) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := t.chat.SendMessage(ctx, line); err != nil && !errors.Is(err, domain.ErrSendFailed) {
			fmt.Fprintf(t.out, "! %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(t.out, terminalHelp)
	case "/open":
		if err := t.chat.Open(ctx); err != nil {
			fmt.Fprintf(t.out, "! open failed: %v\n", err)
		}
	case "/close":
		t.chat.Close(ctx)
	case "/read":
		result, err := t.chat.MarkRead(ctx)
		if err != nil {
			fmt.Fprintf(t.out, "! mark as read failed: %v\n", err)
			return false
		}
		fmt.Fprintf(t.out, "* marked %d read, %d failed\n", result.MarkedCount, result.FailedCount)
	case "/typing":
		t.chat.SendTyping(ctx, true)
	case "/login":
		if len(fields) < 2 {
			fmt.Fprintln(t.out, "usage: /login <user-id> [token]")
			return false
		}
		id := &domain.Identity{UserID: fields[1]}
		if len(fields) > 2 {
			id.Token = fields[2]
		}
		t.identity.Set(id)
		t.chat.SyncIdentity(ctx)
		if err := t.chat.Open(ctx); err != nil {
			fmt.Fprintf(t.out, "! open failed: %v\n", err)
		}
	case "/logout":
		t.identity.Set(nil)
		if err := t.chat.Logout(ctx); err != nil {
			fmt.Fprintf(t.out, "! logout failed: %v\n", err)
		}
	case "/status":
		s := t.chat.Snapshot()
		conv := "none"
		if s.Conversation != nil {
			conv = s.Conversation.ID
		}
		fmt.Fprintf(t.out, "* phase=%s status=%s conversation=%s messages=%d unread=%d\n",
			s.Phase, s.Status, conv, len(s.Messages), s.Counts.UnreadMessages)
	default:
		fmt.Fprintf(t.out, "unknown command %s, try /help\n", fields[0])
	}
	return false
}

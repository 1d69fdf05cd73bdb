package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound chat message.
type Message struct {
	ID        int
	ChatID    int64
	ChatType  string // private | group | supergroup | channel
	ThreadID  int    // forum topic thread id (0 if none)
	FromID    int64
	Username  string
	FirstName string
	LastName  string
	Text      string
}

// ChatTarget addresses a conversation.
//
// ID is opaque: a numeric chat id ("-1001234") or a public username ("@news").
type ChatTarget struct {
	ID       string
	ThreadID int
}

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return t.ID + ":" + strconv.Itoa(t.ThreadID)
	}
	return t.ID
}

// NumericID returns the chat id when ID is numeric.
func (t ChatTarget) NumericID() (int64, bool) {
	n, err := strconv.ParseInt(t.ID, 10, 64)
	return n, err == nil
}

var ErrInvalidTarget = errors.New("invalid chat target")

// ParseTarget parses "<chat>" or "<chat>:<thread>".
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, ErrInvalidTarget
	}
	id, thread, hasThread := strings.Cut(s, ":")
	t := ChatTarget{ID: strings.TrimSpace(id)}
	if t.ID == "" {
		return ChatTarget{}, ErrInvalidTarget
	}
	if hasThread {
		n, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || n <= 0 {
			return ChatTarget{}, ErrInvalidTarget
		}
		t.ThreadID = n
	}
	return t, nil
}

type MessageRef struct {
	Chat      ChatTarget
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Identity describes the connected bot account.
type Identity struct {
	ID        int64
	Username  string
	FirstName string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Identity() Identity
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to publish their command menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

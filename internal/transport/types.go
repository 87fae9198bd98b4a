package transport

import (
	"context"
	"errors"
)

// Event types published on the event bus by transport adapters.
const (
	EventReady       = "transport.ready"
	EventGroupJoined = "group.joined"
	EventGroupLeft   = "group.left"
)

// ErrChatNotFound is returned when the platform no longer knows the target chat/user.
var ErrChatNotFound = errors.New("chat not found")

// GroupEvent is the payload of group.joined / group.left.
type GroupEvent struct {
	ChatID int64  `json:"chat_id"`
	Title  string `json:"title"`
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ReactionToken is an opaque reaction identifier (an emoji for Telegram).
type ReactionToken string

// Sender is the minimal outbound surface (used by the log chat sink).
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Messenger is the messaging boundary consumed by scheduled jobs.
type Messenger interface {
	Sender
	React(ctx context.Context, ref MessageRef, token ReactionToken) error
	SendPrivate(ctx context.Context, userID int64, text string) error

	// AvailableReactions reports the reactions a chat allows. unrestricted=true means
	// the chat allows every standard reaction and tokens is empty.
	AvailableReactions(ctx context.Context, chatID int64) (tokens []ReactionToken, unrestricted bool, err error)
}

// Adapter is a running chat-platform connection.
type Adapter interface {
	Messenger
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

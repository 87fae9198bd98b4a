// Package transporttest provides an in-memory Messenger for tests.
package transporttest

import (
	"context"
	"sync"

	kit "quotebot/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Ref  kit.MessageRef
}

type Reaction struct {
	Ref   kit.MessageRef
	Token kit.ReactionToken
}

type Private struct {
	UserID int64
	Text   string
}

// Messenger records outbound calls. Error hooks, when set, fail the matching call.
type Messenger struct {
	mu sync.Mutex

	SendErr      func(to kit.ChatTarget) error
	ReactErr     error
	PrivateErr   error
	Allowed      []kit.ReactionToken
	Unrestricted bool

	nextID    int
	sent      []Sent
	reactions []Reaction
	privates  []Private
}

var _ kit.Messenger = (*Messenger)(nil)

func (m *Messenger) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		if err := m.SendErr(to); err != nil {
			return kit.MessageRef{}, err
		}
	}
	m.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.nextID}
	m.sent = append(m.sent, Sent{To: to, Text: text, Ref: ref})
	return ref, nil
}

func (m *Messenger) React(ctx context.Context, ref kit.MessageRef, token kit.ReactionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReactErr != nil {
		return m.ReactErr
	}
	m.reactions = append(m.reactions, Reaction{Ref: ref, Token: token})
	return nil
}

func (m *Messenger) SendPrivate(ctx context.Context, userID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PrivateErr != nil {
		return m.PrivateErr
	}
	m.privates = append(m.privates, Private{UserID: userID, Text: text})
	return nil
}

func (m *Messenger) AvailableReactions(ctx context.Context, chatID int64) ([]kit.ReactionToken, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kit.ReactionToken(nil), m.Allowed...), m.Unrestricted, nil
}

func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

func (m *Messenger) Reactions() []Reaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reaction(nil), m.reactions...)
}

func (m *Messenger) Privates() []Private {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Private(nil), m.privates...)
}

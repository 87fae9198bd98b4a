// Package announce posts the daily quote to a group.
package announce

import (
	"context"
	"errors"
	"fmt"

	"quotebot/internal/content"
	"quotebot/internal/storage"
	"quotebot/internal/task/engine"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

type Config struct {
	Title string
	// DefaultThreadID is the forum topic used when a group has none of its own.
	DefaultThreadID int
	Reactions       bool
}

// GroupLookup resolves the announcement target of a group.
type GroupLookup interface {
	Group(ctx context.Context, chatID int64) (storage.Group, bool, error)
}

// Content supplies quotes and reactions.
type Content interface {
	NextQuote(ctx context.Context) (content.Quote, error)
	ReactionsFor(ctx context.Context, chatID int64) ([]kit.ReactionToken, error)
	PickReaction(tokens []kit.ReactionToken) (kit.ReactionToken, bool)
}

// Payload is what one fire posts.
type Payload struct {
	Body       string
	Diagnostic bool
}

type Job struct {
	cfg     Config
	groups  GroupLookup
	content Content
	msg     kit.Messenger
	log     logx.Logger
}

func New(cfg Config, groups GroupLookup, c Content, msg kit.Messenger, log logx.Logger) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{cfg: cfg, groups: groups, content: c, msg: msg, log: log}
}

// For binds the job to one group.
func (j *Job) For(chatID int64) func(ctx context.Context) error {
	return func(ctx context.Context) error { return j.Run(ctx, chatID) }
}

// Run performs one announcement for chatID. Errors are classified for the
// engine; none of them stop the schedule.
func (j *Job) Run(ctx context.Context, chatID int64) error {
	log := j.log.With(logx.Int64("chat_id", chatID))

	g, ok, err := j.groups.Group(ctx, chatID)
	if err != nil {
		return fmt.Errorf("lookup group %d: %w", chatID, err)
	}
	if !ok || !g.Active {
		return engine.MissingTarget(fmt.Errorf("group %d is not active", chatID))
	}
	target := kit.ChatTarget{ChatID: g.ChatID, ThreadID: g.ThreadID}
	if target.ThreadID == 0 {
		target.ThreadID = j.cfg.DefaultThreadID
	}

	p, qerr := j.Compose(ctx)
	if errors.Is(qerr, content.ErrNoQuotes) {
		log.Debug("no quotes available; skipping announcement")
		return nil
	}

	ref, err := j.msg.SendText(ctx, target, p.Body, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		if errors.Is(err, kit.ErrChatNotFound) {
			return engine.MissingTarget(fmt.Errorf("post to %d: %w", chatID, err))
		}
		return engine.Delivery(fmt.Errorf("post to %d: %w", chatID, err))
	}
	if p.Diagnostic {
		return engine.Transient(fmt.Errorf("quote source: %w", qerr))
	}
	log.Info("announcement posted", logx.Int("message_id", ref.MessageID))

	if !j.cfg.Reactions {
		return nil
	}
	return j.react(ctx, ref)
}

// Compose builds the message for one fire. A source that cannot be read yields a
// diagnostic payload together with the read error; an empty source yields
// content.ErrNoQuotes and nothing to post.
func (j *Job) Compose(ctx context.Context) (Payload, error) {
	q, err := j.content.NextQuote(ctx)
	switch {
	case err == nil:
		return Payload{Body: Render(j.cfg.Title, q)}, nil
	case errors.Is(err, content.ErrNoQuotes):
		return Payload{}, err
	default:
		return Payload{Body: RenderDiagnostic("Error reading quotes: " + err.Error()), Diagnostic: true}, err
	}
}

func (j *Job) react(ctx context.Context, ref kit.MessageRef) error {
	tokens, err := j.content.ReactionsFor(ctx, ref.ChatID)
	if err != nil {
		return engine.Delivery(fmt.Errorf("reactions for %d: %w", ref.ChatID, err))
	}
	tok, ok := j.content.PickReaction(tokens)
	if !ok {
		return nil
	}
	if err := j.msg.React(ctx, ref, tok); err != nil {
		return engine.Delivery(fmt.Errorf("react %s on %d/%d: %w", tok, ref.ChatID, ref.MessageID, err))
	}
	return nil
}

package content

import (
	"context"
	"fmt"
	"strings"

	kit "quotebot/internal/transport"
)

// DefaultReactions is used when a chat allows every standard reaction.
var DefaultReactions = []kit.ReactionToken{"👍", "❤", "🔥", "👏", "🤔", "🙏", "👌", "🤩", "💯", "⚡", "🏆", "✍"}

// ReactionLister reports which reactions a chat allows.
type ReactionLister interface {
	AvailableReactions(ctx context.Context, chatID int64) (tokens []kit.ReactionToken, unrestricted bool, err error)
}

type Config struct {
	QuotesPath string
	// Reactions narrows the candidate set. Chats that allow none of them fall
	// back to whatever they do allow.
	Reactions []string
}

// Provider picks a quote and the reactions usable in a chat.
type Provider struct {
	quotes    QuoteSource
	lister    ReactionLister
	preferred []kit.ReactionToken
	rnd       *Rand
}

func New(cfg Config, lister ReactionLister, rnd *Rand) *Provider {
	if rnd == nil {
		rnd = NewRand(0)
	}
	p := &Provider{quotes: QuoteSource{Path: cfg.QuotesPath}, lister: lister, rnd: rnd}
	for _, r := range cfg.Reactions {
		if r = strings.TrimSpace(r); r != "" {
			p.preferred = append(p.preferred, kit.ReactionToken(r))
		}
	}
	return p
}

// NextQuote returns a uniformly chosen quote. ErrNoQuotes reports an empty
// source; any other error means the source could not be read or parsed.
func (p *Provider) NextQuote(ctx context.Context) (Quote, error) {
	qs, err := p.quotes.Load(ctx)
	if err != nil {
		return Quote{}, err
	}
	return qs[p.rnd.Intn(len(qs))], nil
}

// ReactionsFor lists candidate reactions for chatID. An empty result means the
// chat allows no usable reaction.
func (p *Provider) ReactionsFor(ctx context.Context, chatID int64) ([]kit.ReactionToken, error) {
	if p.lister == nil {
		return nil, nil
	}
	allowed, unrestricted, err := p.lister.AvailableReactions(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("available reactions: %w", err)
	}
	if unrestricted {
		if len(p.preferred) > 0 {
			return p.preferred, nil
		}
		return DefaultReactions, nil
	}
	if len(p.preferred) == 0 {
		return allowed, nil
	}
	set := make(map[kit.ReactionToken]struct{}, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}
	var out []kit.ReactionToken
	for _, t := range p.preferred {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return allowed, nil
	}
	return out, nil
}

// PickReaction chooses one token uniformly. ok is false for an empty set.
func (p *Provider) PickReaction(tokens []kit.ReactionToken) (kit.ReactionToken, bool) {
	if len(tokens) == 0 {
		return "", false
	}
	return tokens[p.rnd.Intn(len(tokens))], true
}

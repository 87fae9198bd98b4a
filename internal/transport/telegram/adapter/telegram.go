package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"quotebot/internal/eventbus"
	rtsup "quotebot/internal/runtime/supervisor"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

// Adapter connects to Telegram via long polling. Membership changes of the bot
// itself are published on the event bus; outbound calls are rate limited.
type Adapter struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	bot     *tele.Bot
	limiter *rate.Limiter
	http    *http.Client

	runMu   sync.Mutex
	running bool

	seenMu sync.Mutex
	seen   map[int64]struct{}

	// sup owns adapter goroutines (poll loop, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	cfg = cfg.withDefaults()
	a := newAdapter(cfg, log, bus)
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		URL:   cfg.APIURL,
		Poller: &tele.LongPoller{
			Timeout:        cfg.PollTimeout,
			AllowedUpdates: []string{"message", "my_chat_member"},
		},
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	a.log.Info("telegram bot authorized", logx.String("username", b.Me.Username), logx.Int64("id", b.Me.ID))
	a.registerHandlers()
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, bus eventbus.Bus) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec),
		http:    &http.Client{Timeout: 15 * time.Second},
		seen:    map[int64]struct{}{},
	}
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		a.onMyChatMember(c.ChatMember())
		return nil
	})
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		a.noteChat(c.Chat())
		return nil
	})
}

func isGroup(ch *tele.Chat) bool {
	return ch != nil && (ch.Type == tele.ChatGroup || ch.Type == tele.ChatSuperGroup)
}

// noteChat publishes group.joined the first time a group is seen in this
// process. Membership updates only arrive on change, so this is how groups
// joined before a restart are rediscovered.
func (a *Adapter) noteChat(ch *tele.Chat) {
	if !isGroup(ch) {
		return
	}
	a.seenMu.Lock()
	_, known := a.seen[ch.ID]
	a.seen[ch.ID] = struct{}{}
	a.seenMu.Unlock()
	if known {
		return
	}
	a.log.Debug("group discovered from message", logx.Int64("chat_id", ch.ID))
	if !a.publish(kit.EventGroupJoined, kit.GroupEvent{ChatID: ch.ID, Title: ch.Title}) {
		// Not delivered; the next message from this group tries again.
		a.seenMu.Lock()
		delete(a.seen, ch.ID)
		a.seenMu.Unlock()
	}
}

func (a *Adapter) onMyChatMember(u *tele.ChatMemberUpdate) {
	if u == nil || u.NewChatMember == nil || !isGroup(u.Chat) {
		return
	}
	var oldRole tele.MemberStatus
	if u.OldChatMember != nil {
		oldRole = u.OldChatMember.Role
	}
	typ := membershipEvent(oldRole, u.NewChatMember.Role)
	if typ == "" {
		return
	}
	ev := kit.GroupEvent{ChatID: u.Chat.ID, Title: u.Chat.Title}
	a.seenMu.Lock()
	if typ == kit.EventGroupJoined {
		a.seen[ev.ChatID] = struct{}{}
	} else {
		delete(a.seen, ev.ChatID)
	}
	a.seenMu.Unlock()
	a.log.Info("group membership changed", logx.String("event", typ), logx.Int64("chat_id", ev.ChatID), logx.String("title", ev.Title))
	a.publish(typ, ev)
}

// membershipEvent maps a change of the bot's own role to a bus event type.
// Promotions and demotions between member roles are not membership changes.
func membershipEvent(oldRole, newRole tele.MemberStatus) string {
	wasIn, isIn := isPresent(oldRole), isPresent(newRole)
	switch {
	case !wasIn && isIn:
		return kit.EventGroupJoined
	case wasIn && !isIn:
		return kit.EventGroupLeft
	default:
		return ""
	}
}

func isPresent(role tele.MemberStatus) bool {
	switch role {
	case tele.Creator, tele.Administrator, tele.Member, tele.Restricted:
		return true
	default:
		return false
	}
}

// publishWait bounds how long a control event may wait for a slow subscriber.
const publishWait = 10 * time.Second

// publish delivers a control event (ready, joined, left) without dropping it
// while subscribers keep up. It reports whether every subscriber got it.
func (a *Adapter) publish(typ string, data any) bool {
	if a.bus == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(a.runContext(), publishWait)
	defer cancel()
	if err := a.bus.PublishWait(ctx, eventbus.Event{Type: typ, Time: time.Now(), Data: data}); err != nil {
		a.log.Warn("event not delivered", logx.String("event", typ), logx.Uint64("bus_dropped", a.bus.Dropped()), logx.Err(err))
		return false
	}
	return true
}

func (a *Adapter) runContext() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return a.sup.Context()
	}
	return context.Background()
}

// Start begins long polling and publishes transport.ready once the poll loop is up.
func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.sup"))),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Telebot's Start() can return unexpectedly in some failure modes; restart it.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("poller exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)

	a.publish(kit.EventReady, a.bot.Me.Username)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

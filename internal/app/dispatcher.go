package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"quotebot/internal/eventbus"
	"quotebot/internal/storage"
	"quotebot/internal/task/scheduler"
	"quotebot/internal/timeofday"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

const (
	updateCheckKey   = "update-check"
	updateCheckOwner = "global"
)

func announceKey(chatID int64) string { return "announce:" + strconv.FormatInt(chatID, 10) }

// Scheduler is the registration surface the dispatcher needs.
// *scheduler.Service satisfies it.
type Scheduler interface {
	Schedule(key, owner string, delay, period time.Duration, job scheduler.Job, opts ...scheduler.Option) (*scheduler.Handle, error)
	Ensure(key, owner string, delay, period time.Duration, job scheduler.Job, opts ...scheduler.Option) (*scheduler.Handle, bool, error)
	Cancel(key string) bool
	Location() *time.Location
}

// Announcer runs one announcement for a group.
type Announcer interface {
	Run(ctx context.Context, chatID int64) error
}

// Checker runs one update check.
type Checker interface {
	Run(ctx context.Context) error
}

// Plan is the timing the dispatcher registers jobs with.
type Plan struct {
	At              timeofday.TimeOfDay
	AnnouncePeriod  time.Duration
	AnnounceTimeout time.Duration

	Updates       bool
	UpdatePeriod  time.Duration
	UpdateTimeout time.Duration
}

// Dispatcher turns transport events into job registrations.
//
// Registered closures resolve the announcer and checker at fire time, so a
// config reload that rebuilds them does not require re-registration.
type Dispatcher struct {
	sched  Scheduler
	groups storage.Store
	log    logx.Logger
	now    func() time.Time

	mu   sync.Mutex
	plan Plan

	announcer atomic.Pointer[Announcer]
	checker   atomic.Pointer[Checker]
}

func NewDispatcher(plan Plan, sched Scheduler, groups storage.Store, an Announcer, ck Checker, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sched: sched, groups: groups, log: log, now: time.Now, plan: plan}
	d.SetAnnouncer(an)
	d.SetChecker(ck)
	return d
}

func (d *Dispatcher) SetAnnouncer(an Announcer) { d.announcer.Store(&an) }
func (d *Dispatcher) SetChecker(ck Checker)     { d.checker.Store(&ck) }

func (d *Dispatcher) currentPlan() Plan {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plan
}

// Subscribe attaches to the bus. Call it before the transport starts so the
// ready event is not missed.
func (d *Dispatcher) Subscribe(bus eventbus.Bus) (<-chan eventbus.Event, func()) {
	return bus.Subscribe(64, kit.EventReady, kit.EventGroupJoined, kit.EventGroupLeft)
}

// Run consumes transport events until ctx is done or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			d.handle(ctx, e)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case kit.EventReady:
		d.OnReady(ctx)
	case kit.EventGroupJoined, kit.EventGroupLeft:
		ev, ok := e.Data.(kit.GroupEvent)
		if !ok {
			d.log.Warn("unexpected event payload", logx.String("type", e.Type), logx.String("data", fmt.Sprintf("%T", e.Data)))
			return
		}
		if e.Type == kit.EventGroupJoined {
			d.OnJoined(ctx, ev)
		} else {
			d.OnLeft(ctx, ev)
		}
	}
}

// OnReady registers one announcement per active group and the update check.
// Safe to call again after a reconnect: existing handles are kept.
func (d *Dispatcher) OnReady(ctx context.Context) {
	groups, err := d.groups.ActiveGroups(ctx)
	if err != nil {
		d.log.Error("list groups failed; no announcements scheduled", logx.Err(err))
	}
	if err == nil && len(groups) == 0 {
		d.log.Warn("bot is not in any groups; add it to a group to start daily announcements")
	}
	created := 0
	for _, g := range groups {
		ok, err := d.registerGroup(g.ChatID, false)
		if err != nil {
			d.log.Warn("announcement setup failed", logx.Int64("chat_id", g.ChatID), logx.String("title", g.Title), logx.Err(err))
			continue
		}
		if ok {
			created++
		}
	}
	if err := d.registerUpdates(false); err != nil {
		d.log.Warn("update check setup failed", logx.Err(err))
	}
	d.log.Info("dispatcher ready", logx.Int("groups", len(groups)), logx.Int("registered", created))
}

// OnJoined persists the group and registers its announcement once.
func (d *Dispatcher) OnJoined(ctx context.Context, ev kit.GroupEvent) {
	g := storage.Group{ChatID: ev.ChatID, Title: ev.Title}
	// Keep a topic chosen earlier for this group.
	if prev, ok, err := d.groups.Group(ctx, ev.ChatID); err == nil && ok {
		g.ThreadID = prev.ThreadID
	}
	if err := d.groups.UpsertGroup(ctx, g); err != nil {
		d.log.Warn("persist group failed", logx.Int64("chat_id", ev.ChatID), logx.Err(err))
	}
	created, err := d.registerGroup(ev.ChatID, false)
	if err != nil {
		d.log.Warn("announcement setup failed", logx.Int64("chat_id", ev.ChatID), logx.String("title", ev.Title), logx.Err(err))
		return
	}
	d.log.Info("joined group", logx.Int64("chat_id", ev.ChatID), logx.String("title", ev.Title), logx.Bool("registered", created))
}

// OnLeft marks the group inactive and cancels its announcement.
func (d *Dispatcher) OnLeft(ctx context.Context, ev kit.GroupEvent) {
	if err := d.groups.DeactivateGroup(ctx, ev.ChatID); err != nil {
		d.log.Warn("deactivate group failed", logx.Int64("chat_id", ev.ChatID), logx.Err(err))
	}
	cancelled := d.sched.Cancel(announceKey(ev.ChatID))
	d.log.Info("left group", logx.Int64("chat_id", ev.ChatID), logx.String("title", ev.Title), logx.Bool("cancelled", cancelled))
}

// Replan swaps the timing and re-registers what it affects. Announcement
// handles are replaced when retime is set (target time, period or timezone
// changed); the update check follows its own settings.
func (d *Dispatcher) Replan(ctx context.Context, plan Plan, retime bool) {
	d.mu.Lock()
	prev := d.plan
	d.plan = plan
	d.mu.Unlock()

	if retime {
		groups, err := d.groups.ActiveGroups(ctx)
		if err != nil {
			d.log.Error("list groups failed; announcements keep their old timing", logx.Err(err))
		}
		for _, g := range groups {
			if _, err := d.registerGroup(g.ChatID, true); err != nil {
				d.log.Warn("announcement re-registration failed", logx.Int64("chat_id", g.ChatID), logx.Err(err))
			}
		}
		d.log.Info("announcements rescheduled", logx.String("at", plan.At.String()), logx.Int("groups", len(groups)))
	}

	switch {
	case !plan.Updates && prev.Updates:
		d.sched.Cancel(updateCheckKey)
		d.log.Info("update check disabled")
	case plan.Updates && (!prev.Updates || prev.UpdatePeriod != plan.UpdatePeriod || prev.UpdateTimeout != plan.UpdateTimeout):
		if err := d.registerUpdates(true); err != nil {
			d.log.Warn("update check re-registration failed", logx.Err(err))
		}
	}
}

// registerGroup computes the delay to the next target time in the scheduler's
// zone. replace=false keeps an existing handle.
func (d *Dispatcher) registerGroup(chatID int64, replace bool) (bool, error) {
	if chatID == 0 {
		return false, errors.New("chat id is zero")
	}
	plan := d.currentPlan()
	now := d.now().In(d.sched.Location())
	delay := timeofday.Delay(now, plan.At)

	key := announceKey(chatID)
	owner := strconv.FormatInt(chatID, 10)
	job := func(ctx context.Context) error {
		an := d.announcer.Load()
		if an == nil || *an == nil {
			return errors.New("announcer not configured")
		}
		return (*an).Run(ctx, chatID)
	}
	opt := scheduler.WithTimeout(plan.AnnounceTimeout)

	var (
		created = true
		err     error
	)
	if replace {
		_, err = d.sched.Schedule(key, owner, delay, plan.AnnouncePeriod, job, opt)
	} else {
		_, created, err = d.sched.Ensure(key, owner, delay, plan.AnnouncePeriod, job, opt)
	}
	if err != nil {
		return false, err
	}
	if created {
		d.log.Debug("announcement scheduled",
			logx.Int64("chat_id", chatID),
			logx.Time("first", now.Add(delay)),
			logx.Duration("period", plan.AnnouncePeriod),
		)
	}
	return created, nil
}

// registerUpdates registers the process-wide update check with an immediate
// first fire. No-op when update alerts are disabled.
func (d *Dispatcher) registerUpdates(replace bool) error {
	plan := d.currentPlan()
	if !plan.Updates {
		return nil
	}
	job := func(ctx context.Context) error {
		ck := d.checker.Load()
		if ck == nil || *ck == nil {
			return errors.New("update checker not configured")
		}
		return (*ck).Run(ctx)
	}
	opt := scheduler.WithTimeout(plan.UpdateTimeout)
	if replace {
		_, err := d.sched.Schedule(updateCheckKey, updateCheckOwner, 0, plan.UpdatePeriod, job, opt)
		return err
	}
	_, _, err := d.sched.Ensure(updateCheckKey, updateCheckOwner, 0, plan.UpdatePeriod, job, opt)
	return err
}

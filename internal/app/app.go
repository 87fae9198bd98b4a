package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quotebot/internal/announce"
	"quotebot/internal/config"
	"quotebot/internal/content"
	"quotebot/internal/eventbus"
	"quotebot/internal/release"
	rtsup "quotebot/internal/runtime/supervisor"
	"quotebot/internal/storage"
	"quotebot/internal/task/engine"
	"quotebot/internal/task/scheduler"
	telegram "quotebot/internal/transport/telegram/adapter"
	"quotebot/internal/updatecheck"
	logx "quotebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	engine  *engine.Service
	sched   *scheduler.Service
	disp    *Dispatcher
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, root.With(logx.String("comp", "telegram")), bus)
	if err != nil {
		return nil, err
	}
	// The chat sink needs the transport, which needs a logger first.
	logSvc.SetSender(ad)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	if sc.Driver == "memory" {
		log.Warn("memory storage forgets groups on restart; they come back only when the bot sees a group message, which privacy mode usually hides. Use storage.driver=sqlite")
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, root.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, root.With(logx.String("comp", "scheduler")))

	plan, err := mapPlan(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  engineSvc,
		sched:   schedSvc,
	}
	a.disp = NewDispatcher(plan, schedSvc, store, a.newAnnouncer(cfg), a.newChecker(cfg), root.With(logx.String("comp", "dispatcher")))
	return a, nil
}

func (a *App) newAnnouncer(cfg *config.Config) *announce.Job {
	provider := content.New(mapContentConfig(cfg), a.adapter, content.NewRand(cfg.Announce.Seed))
	return announce.New(mapAnnounceConfig(cfg), a.store, provider, a.adapter, a.log.With(logx.String("comp", "announce")))
}

func (a *App) newChecker(cfg *config.Config) *updatecheck.Job {
	src := release.NewGitHub(mapReleaseConfig(cfg), nil)
	return updatecheck.New(mapUpdateCheckConfig(cfg), src, a.adapter, a.log.With(logx.String("comp", "updatecheck")))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// The pool outlives the app context so Stop can drain in-flight jobs.
	a.engine.Start(context.WithoutCancel(ctx))
	a.sched.Start(a.sup.Context())

	events, unsub := a.disp.Subscribe(a.bus)
	a.sup.Go("dispatcher", func(c context.Context) error {
		defer unsub()
		return a.disp.Run(c, events)
	})

	all, unsubAll := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubAll()
		a.logEvents(c, all)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}
	a.log.Info("app started", logx.String("version", release.Current()), logx.String("timezone", a.sched.Location().String()))
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if res, isTask := e.Data.(engine.Result); isTask {
				a.log.Debug("event", logx.String("type", e.Type), logx.String("task", res.Name), logx.String("kind", res.Kind.String()))
				continue
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies published configs. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	change, attrs := config.SummarizeConfigChange(prev, next)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range []string{config.SectionTelegram, config.SectionStorage, config.SectionTaskEngine} {
		if change.Has(s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	if change.Has(config.SectionLogging) {
		a.logs.Apply(mapLogConfig(next))
	}
	if change.Has(config.SectionScheduler) {
		a.sched.Apply(mapSchedulerConfig(next))
	}
	if change.Has(config.SectionAnnounce) {
		a.disp.SetAnnouncer(a.newAnnouncer(next))
	}
	if change.Has(config.SectionUpdates) {
		a.disp.SetChecker(a.newChecker(next))
	}
	if change.Has(config.SectionAnnounceTiming) || change.Has(config.SectionScheduler) || change.Has(config.SectionUpdates) {
		plan, err := mapPlan(next)
		if err != nil {
			a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
		} else {
			retime := change.Has(config.SectionAnnounceTiming) || change.Has(config.SectionScheduler)
			a.disp.Replan(ctx, plan, retime)
		}
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop dispatching and reloads before touching the jobs.
	a.sup.Cancel()

	for _, h := range a.sched.Handles() {
		a.log.Debug("scheduled handle", logx.String("key", h.Key), logx.String("owner", h.Owner), logx.Time("next", h.Next))
	}

	// Cancel every handle first, then drain the pool.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	snap := a.engine.Snapshot()
	a.log.Info("stopped",
		logx.Uint64("tasks_completed", snap.Completed),
		logx.Uint64("tasks_failed", snap.Failed),
		logx.Uint64("tasks_dropped", snap.Dropped),
		logx.Uint64("events_dropped", a.bus.Dropped()),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max (never beyond ctx's deadline).
// A step that overruns is left running and reported when it finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}

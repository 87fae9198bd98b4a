package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "quotebot/pkg/logx"
)

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		engine:      eng,
		handles:     map[string]*Handle{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Location is the scheduler time zone. Time-of-day targets are computed in it.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply updates the time zone. Registered handles keep their absolute fire
// instants; callers re-register them if the change should move fire times.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if oldTZ == newTZ {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.c != nil {
		s.restartLocked()
	}
}

// Start starts cron triggering and registers handles added before Start.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctxMu.Lock()
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.ctxMu.Unlock()
	s.c = s.newCronLocked()
	for _, h := range s.handles {
		s.addCronLocked(h)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("handles", len(s.handles)))
}

// Stop cancels every handle, then stops cron triggering. Work already handed to
// the engine is not interrupted.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	n := len(s.handles)
	for key := range s.handles {
		s.cancelLocked(key)
	}
	c := s.c
	s.c = nil
	// Release triggers still waiting for a slot, or cron's Stop would wait on them.
	s.ctxMu.Lock()
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	s.ctxMu.Unlock()
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Int("cancelled", n), logx.Duration("took", time.Since(start)))
}

func (s *Service) newCronLocked() *cron.Cron {
	clog := logx.CronLogger{L: s.log.With(logx.String("comp", "cron"))}
	return cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
}

func (s *Service) restartLocked() {
	// Fires of the old instance may be waiting for an engine slot; they finish
	// on their own and are not waited for here.
	if s.c != nil {
		s.c.Stop()
	}
	s.c = s.newCronLocked()
	for _, h := range s.handles {
		s.addCronLocked(h)
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("handles", len(s.handles)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

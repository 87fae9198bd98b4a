package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

var (
	ErrKeyRequired   = errors.New("schedule key required")
	ErrJobRequired   = errors.New("schedule job required")
	ErrInvalidPeriod = errors.New("schedule period must be positive")
	ErrNegativeDelay = errors.New("schedule initial delay must not be negative")
)

// Schedule registers job to run after delay and then every period. It is an
// upsert: an existing handle with the same key is cancelled and replaced.
func (s *Service) Schedule(key, owner string, delay, period time.Duration, job Job, opts ...Option) (*Handle, error) {
	h, err := s.newHandle(key, owner, delay, period, job, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := s.cancelLocked(h.Key)
	s.registerLocked(h)
	s.log.Debug("schedule registered",
		logx.String("key", h.Key),
		logx.String("owner", h.Owner),
		logx.String("id", h.ID.String()),
		logx.Time("first", h.First),
		logx.Duration("period", h.Period),
		logx.Bool("replaced", replaced),
	)
	return h, nil
}

// Ensure registers job only if no live handle exists for key. The bool reports
// whether a new handle was created; the existing handle is returned otherwise.
func (s *Service) Ensure(key, owner string, delay, period time.Duration, job Job, opts ...Option) (*Handle, bool, error) {
	h, err := s.newHandle(key, owner, delay, period, job, opts)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.handles[h.Key]; ok && !cur.Cancelled() {
		return cur, false, nil
	}
	s.registerLocked(h)
	s.log.Debug("schedule ensured",
		logx.String("key", h.Key),
		logx.String("owner", h.Owner),
		logx.String("id", h.ID.String()),
		logx.Time("first", h.First),
		logx.Duration("period", h.Period),
	)
	return h, true, nil
}

// Cancel prevents future fires of the handle registered under key. An invocation
// already queued or running completes. Returns false if nothing was registered.
func (s *Service) Cancel(key string) bool {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	removed := s.cancelLocked(key)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule cancelled", logx.String("key", key))
	}
	return removed
}

// Get returns the live handle for key.
func (s *Service) Get(key string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[strings.TrimSpace(key)]
	return h, ok
}

func (s *Service) newHandle(key, owner string, delay, period time.Duration, job Job, opts []Option) (*Handle, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return nil, ErrKeyRequired
	case job == nil:
		return nil, ErrJobRequired
	case period <= 0:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	case delay < 0:
		return nil, fmt.Errorf("%w: %s", ErrNegativeDelay, delay)
	}
	h := &Handle{
		ID:     uuid.New(),
		Key:    key,
		Owner:  strings.TrimSpace(owner),
		First:  time.Now().Add(delay),
		Period: period,
		job:    job,
		state:  &engine.RunState{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h, nil
}

// Call with s.mu held.
func (s *Service) registerLocked(h *Handle) {
	s.handles[h.Key] = h
	if s.c != nil {
		s.addCronLocked(h)
	}
}

// cancelLocked marks the handle cancelled and unregisters it from cron.
// Call with s.mu held.
func (s *Service) cancelLocked(key string) bool {
	h, ok := s.handles[key]
	if !ok {
		return false
	}
	h.cancelled.Store(true)
	if s.c != nil && h.entryID != 0 {
		s.c.Remove(h.entryID)
	}
	h.entryID = 0
	delete(s.handles, key)
	return true
}

// Call with s.mu held.
func (s *Service) addCronLocked(h *Handle) {
	job := cron.FuncJob(func() { s.trigger(h) })
	h.entryID = s.c.Schedule(newFixedRate(h.First, h.Period, &h.started), job)
}

func (s *Service) trigger(h *Handle) {
	// A fire racing with Cancel must not reach the engine.
	if h.Cancelled() || s.engine == nil {
		return
	}
	s.ctxMu.Lock()
	ctx := s.runCtx
	s.ctxMu.Unlock()
	if ctx == nil {
		return
	}
	// Cron runs each fire on its own goroutine, so waiting here holds back
	// only this handle. Its RunState makes later fires skip meanwhile.
	err := s.engine.Submit(ctx, engine.Task{
		Name:    h.Key,
		Owner:   h.Owner,
		Timeout: h.Timeout,
		Run:     h.job,
		State:   h.state,
	})
	if err != nil {
		s.reportEnqueueError(h.Key, err)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"quotebot/internal/eventbus"
	rtsup "quotebot/internal/runtime/supervisor"
	logx "quotebot/pkg/logx"
)

// Event types published for every finished invocation (Data is a Result).
const (
	EventTaskFinished = "task.finished"
	EventTaskFailed   = "task.failed"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool. Every invocation runs inside an error
// boundary: failures and panics become a Result, never a dead worker.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopping bool

	inFlight int32

	hmu     sync.Mutex
	history []Result

	idSeq     uint64
	completed uint64
	failed    uint64
	dropped   uint64

	lastDropWarnAt int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopping = false
	stopCh := s.stopCh
	queue := s.q
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine.sup"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		// Workers never exit on task failure; a restart only follows an engine bug.
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize), logx.Duration("default_timeout", cfg.DefaultTimeout))
}

// Stop stops accepting work and waits for in-flight invocations to finish (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	// Workers finish their current task before observing stopCh; cancel the
	// supervisor only if the caller's deadline expires first.
	err := sup.Wait(ctx)
	if err != nil && errors.Is(err, ctx.Err()) {
		sup.Cancel()
		s.log.Warn("task engine stop timed out", logx.Err(err))
	}

	s.mu.Lock()
	s.q = nil
	s.stopCh = nil
	s.sup = nil
	s.mu.Unlock()
	s.log.Info("task engine stopped")
}

// Enqueue hands a task to the pool without blocking. A full queue drops the
// task with ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	qt, q, err := s.admit(t)
	if err != nil {
		return err
	}
	select {
	case q <- qt:
		return nil
	default:
		qt.task.State.release()
		atomic.AddUint64(&s.dropped, 1)
		if s.shouldWarn(&s.lastDropWarnAt, qt.enqueuedAt) {
			s.log.Warn("task dropped: queue full", logx.String("task", qt.task.Name), logx.Int("queue_cap", cap(q)))
		}
		return ErrQueueFull
	}
}

// Submit hands a task to the pool, waiting for a queue slot until ctx is done
// or the engine stops. Scheduled fires use it so a burst of handles sharing one
// fire instant queues up instead of being dropped.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	qt, q, err := s.admit(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	select {
	case q <- qt:
		return nil
	default:
	}
	s.log.Debug("queue full; waiting for a slot", logx.String("task", qt.task.Name), logx.Int("queue_cap", cap(q)))
	select {
	case q <- qt:
		return nil
	case <-stopCh:
		qt.task.State.release()
		return ErrStopped
	case <-ctx.Done():
		qt.task.State.release()
		atomic.AddUint64(&s.dropped, 1)
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

// admit validates t and claims its RunState. On success the caller owns the
// claim and must either queue the task or release it.
func (s *Service) admit(t Task) (queuedTask, chan queuedTask, error) {
	if t.Run == nil {
		return queuedTask{}, nil, fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return queuedTask{}, nil, fmt.Errorf("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), atomic.AddUint64(&s.idSeq, 1))
	}

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopping := s.stopping
	s.mu.Unlock()

	if q == nil || stopping {
		return queuedTask{}, nil, ErrStopped
	}
	if !t.State.tryAcquire() {
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("owner", t.Owner))
		return queuedTask{}, nil, ErrOverlapSkip
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	return queuedTask{task: t, enqueuedAt: now, timeout: timeout}, q, nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	ql, qc := 0, 0
	if q != nil {
		ql, qc = len(q), cap(q)
	}
	s.hmu.Lock()
	h := make([]Result, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Workers:        cfg.Workers,
		QueueLen:       ql,
		QueueCap:       qc,
		InFlight:       int(atomic.LoadInt32(&s.inFlight)),
		Completed:      atomic.LoadUint64(&s.completed),
		Failed:         atomic.LoadUint64(&s.failed),
		Dropped:        atomic.LoadUint64(&s.dropped),
		DefaultTimeout: cfg.DefaultTimeout,
		History:        h,
	}
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

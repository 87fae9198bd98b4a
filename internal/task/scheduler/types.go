package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Vilnius"; empty means Local
}

// Job is one unit of recurring work.
type Job func(ctx context.Context) error

// Enqueuer hands triggered work to an executor. *engine.Service satisfies it.
// Submit may block until the executor has room or ctx is done.
type Enqueuer interface {
	Submit(ctx context.Context, t engine.Task) error
}

// Handle is a registered recurring job.
type Handle struct {
	ID      uuid.UUID
	Key     string
	Owner   string // group id or "global"
	First   time.Time
	Period  time.Duration
	Timeout time.Duration

	job     Job
	entryID cron.EntryID
	state   *engine.RunState

	started   atomic.Bool
	cancelled atomic.Bool
}

// Cancelled reports whether the handle was cancelled or replaced.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Option tweaks a single registration.
type Option func(*Handle)

// WithTimeout bounds each invocation; zero uses the engine default.
func WithTimeout(d time.Duration) Option {
	return func(h *Handle) { h.Timeout = d }
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	engine Enqueuer

	c       *cron.Cron
	handles map[string]*Handle

	// runCtx bounds triggers waiting for an engine slot; cancelled by Stop.
	// Guarded by ctxMu, not mu: restartLocked holds mu while cron drains fires.
	ctxMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc

	// Enqueue error throttling: key is handle key.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// HandleInfo is a read-only view of a Handle.
type HandleInfo struct {
	ID      string
	Key     string
	Owner   string
	Period  time.Duration
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Timezone string
	Handles  []HandleInfo
}

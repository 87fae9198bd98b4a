package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the job execution pool.
type Config struct {
	// Workers is the fixed pool size. Jobs are infrequent and short; 2 is plenty.
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a single invocation when Task.Timeout is 0.
	DefaultTimeout time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// RunState tracks whether a task is already queued or in-flight.
// A trigger that arrives while the previous invocation is still pending is skipped,
// so a slow job can't pile up copies of itself in the queue.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Task is one invocation of a unit of work.
type Task struct {
	ID      string
	Name    string
	Owner   string // group id or "global"
	Timeout time.Duration
	Run     func(ctx context.Context) error
	State   *RunState
}

// Result is the outcome of one invocation as seen through the error boundary.
type Result struct {
	TaskID     string        `json:"task_id"`
	Name       string        `json:"name"`
	Owner      string        `json:"owner"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Kind       Kind          `json:"kind"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Panicked   bool          `json:"panicked,omitempty"`
}

func (r Result) OK() bool { return r.Err == nil }

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed uint64
	Failed    uint64
	Dropped   uint64

	DefaultTimeout time.Duration
	History        []Result
}

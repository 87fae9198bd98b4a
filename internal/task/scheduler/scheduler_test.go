package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	fired chan engine.Task
}

func newRecorder() *recordingEnqueuer {
	return &recordingEnqueuer{fired: make(chan engine.Task, 16)}
}

func (r *recordingEnqueuer) Submit(_ context.Context, t engine.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	r.fired <- t
	return nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func noop(context.Context) error { return nil }

func TestNextFixedRate(t *testing.T) {
	t.Parallel()
	first := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	tests := []struct {
		name string
		t    time.Time
		want time.Time
	}{
		{name: "before first", t: first.Add(-time.Hour), want: first},
		{name: "at first", t: first, want: first.Add(day)},
		{name: "late wakeup stays aligned", t: first.Add(3 * time.Second), want: first.Add(day)},
		{name: "missed slots coalesce", t: first.Add(3*day + time.Hour), want: first.Add(4 * day)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := nextFixedRate(first, day, tt.t); !got.Equal(tt.want) {
				t.Fatalf("next(%s) = %s, want %s", tt.t, got, tt.want)
			}
		})
	}
}

func TestFixedRateFirstCallReturnsFirst(t *testing.T) {
	t.Parallel()
	first := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	s := newFixedRate(first, time.Hour, nil)
	// The first call wins even when t is already past first (zero delay).
	if got := s.Next(first.Add(time.Millisecond)); !got.Equal(first) {
		t.Fatalf("first Next = %s, want %s", got, first)
	}
	if got := s.Next(first.Add(time.Millisecond)); !got.Equal(first.Add(time.Hour)) {
		t.Fatalf("second Next = %s, want %s", got, first.Add(time.Hour))
	}
}

func TestZeroDelayFiresImmediately(t *testing.T) {
	rec := newRecorder()
	s := New(Config{Timezone: "UTC"}, rec, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if _, err := s.Schedule("update-check", "global", 0, 24*time.Hour, noop); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case tk := <-rec.fired:
		if tk.Name != "update-check" || tk.Owner != "global" {
			t.Fatalf("task = %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("zero-delay job did not fire")
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	rec := newRecorder()
	s := New(Config{}, rec, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	h1, created, err := s.Ensure("-100", "-100", time.Hour, 24*time.Hour, noop)
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	h2, created, err := s.Ensure("-100", "-100", time.Hour, 24*time.Hour, noop)
	if err != nil || created {
		t.Fatalf("second ensure: created=%v err=%v", created, err)
	}
	if h1.ID != h2.ID {
		t.Fatalf("ensure returned a different handle: %s vs %s", h1.ID, h2.ID)
	}
	if n := len(s.Handles()); n != 1 {
		t.Fatalf("handles = %d, want 1", n)
	}
}

func TestScheduleReplacesExisting(t *testing.T) {
	s := New(Config{}, newRecorder(), logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	old, err := s.Schedule("-100", "-100", time.Hour, 24*time.Hour, noop)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	cur, err := s.Schedule("-100", "-100", 2*time.Hour, 24*time.Hour, noop)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !old.Cancelled() || cur.Cancelled() {
		t.Fatalf("old cancelled=%v cur cancelled=%v", old.Cancelled(), cur.Cancelled())
	}
	hs := s.Handles()
	if len(hs) != 1 || hs[0].ID != cur.ID.String() {
		t.Fatalf("handles = %+v", hs)
	}
}

func TestCancelStopsFutureFires(t *testing.T) {
	rec := newRecorder()
	s := New(Config{}, rec, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	h, err := s.Schedule("-100", "-100", 200*time.Millisecond, 24*time.Hour, noop)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !s.Cancel("-100") {
		t.Fatal("cancel returned false")
	}
	if s.Cancel("-100") {
		t.Fatal("second cancel returned true")
	}
	if !h.Cancelled() {
		t.Fatal("handle not marked cancelled")
	}
	time.Sleep(400 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("fired %d times after cancel", n)
	}
}

func TestStopCancelsAll(t *testing.T) {
	s := New(Config{}, newRecorder(), logx.Nop())
	s.Start(context.Background())

	var hs []*Handle
	for _, key := range []string{"-1", "-2", "update-check"} {
		h, err := s.Schedule(key, key, time.Hour, 24*time.Hour, noop)
		if err != nil {
			t.Fatalf("schedule %s: %v", key, err)
		}
		hs = append(hs, h)
	}
	s.Stop(context.Background())
	for _, h := range hs {
		if !h.Cancelled() {
			t.Fatalf("%s still live after stop", h.Key)
		}
	}
	if n := len(s.Handles()); n != 0 {
		t.Fatalf("handles after stop = %d", n)
	}
}

func TestScheduleValidation(t *testing.T) {
	s := New(Config{}, newRecorder(), logx.Nop())
	if _, err := s.Schedule("", "x", 0, time.Hour, noop); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("empty key err = %v", err)
	}
	if _, err := s.Schedule("k", "x", 0, 0, noop); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("zero period err = %v", err)
	}
	if _, err := s.Schedule("k", "x", -time.Second, time.Hour, noop); !errors.Is(err, ErrNegativeDelay) {
		t.Fatalf("negative delay err = %v", err)
	}
	if _, err := s.Schedule("k", "x", 0, time.Hour, nil); !errors.Is(err, ErrJobRequired) {
		t.Fatalf("nil job err = %v", err)
	}
}

func TestRegisteredBeforeStartFiresAfterStart(t *testing.T) {
	rec := newRecorder()
	s := New(Config{}, rec, logx.Nop())
	if _, err := s.Schedule("early", "global", 0, time.Hour, noop); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("handle registered before Start did not fire")
	}
}

func TestSimultaneousFiresBeyondQueueAllRun(t *testing.T) {
	eng := engine.New(engine.Config{Workers: 2, QueueSize: 4}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Timezone: "UTC"}, eng, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})

	const groups = 40
	var ran atomic.Int32
	job := func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		ran.Add(1)
		return nil
	}
	for i := 0; i < groups; i++ {
		key := fmt.Sprintf("announce:-%d", 100+i)
		if _, _, err := s.Ensure(key, key, 0, time.Hour, job); err != nil {
			t.Fatalf("ensure %s: %v", key, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for ran.Load() < groups && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := ran.Load(); n != groups {
		t.Fatalf("ran = %d, want %d", n, groups)
	}
	if d := eng.Snapshot().Dropped; d != 0 {
		t.Fatalf("dropped = %d, want 0", d)
	}
}

func TestStopReleasesWaitingFires(t *testing.T) {
	eng := engine.New(engine.Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	block := make(chan struct{})
	t.Cleanup(func() {
		close(block)
		eng.Stop(context.Background())
	})

	s := New(Config{Timezone: "UTC"}, eng, logx.Nop())
	s.Start(context.Background())
	slow := func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("k%d", i)
		if _, err := s.Schedule(key, "global", 0, time.Hour, slow); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on fires waiting for an engine slot")
	}
}

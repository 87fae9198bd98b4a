package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"quotebot/internal/eventbus"
	logx "quotebot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event) Result {
	t.Helper()
	select {
	case e := <-ch:
		res, ok := e.Data.(Result)
		if !ok {
			t.Fatalf("event data = %T, want Result", e.Data)
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task event")
	}
	return Result{}
}

func TestFailureDoesNotStopSiblings(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16, EventTaskFinished, EventTaskFailed)
	defer unsub()

	var ran atomic.Int32
	tasks := []Task{
		{Name: "panics", Owner: "-100", Run: func(context.Context) error { panic("boom") }},
		{Name: "fails", Owner: "-200", Run: func(context.Context) error { return Delivery(errors.New("send")) }},
		{Name: "ok", Owner: "-300", Run: func(context.Context) error { ran.Add(1); return nil }},
	}
	for _, tk := range tasks {
		if err := s.Enqueue(tk); err != nil {
			t.Fatalf("enqueue %s: %v", tk.Name, err)
		}
	}

	got := map[string]Result{}
	for range tasks {
		r := waitEvent(t, ch)
		got[r.Name] = r
	}
	if r := got["panics"]; !r.Panicked || r.Kind != KindInternal {
		t.Fatalf("panic result = %+v", r)
	}
	if r := got["fails"]; r.Kind != KindDelivery || r.OK() {
		t.Fatalf("delivery result = %+v", r)
	}
	if r := got["ok"]; !r.OK() || ran.Load() != 1 {
		t.Fatalf("ok result = %+v ran=%d", r, ran.Load())
	}

	snap := s.Snapshot()
	if snap.Completed != 1 || snap.Failed != 2 || len(snap.History) != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestOverlapSkip(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 1})
	state := &RunState{}
	release := make(chan struct{})
	started := make(chan struct{})

	err := s.Enqueue(Task{Name: "slow", State: state, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(Task{Name: "slow", State: state, Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state.tryAcquire() {
			state.release()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run state was not released after completion")
}

func TestTimeoutIsTransient(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(4, EventTaskFailed)
	defer unsub()

	err := s.Enqueue(Task{Name: "hang", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if r := waitEvent(t, ch); r.Kind != KindTransient {
		t.Fatalf("kind = %s, want %s", r.Kind, KindTransient)
	}
}

func TestQueueFullAndStopped(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue before start = %v, want ErrStopped", err)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "busy", Run: func(context.Context) error { close(started); <-block; return nil }})
	<-started
	if err := s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("enqueue into free slot: %v", err)
	}
	if err := s.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue overflow = %v, want ErrQueueFull", err)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped = %d", s.Snapshot().Dropped)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{errors.New("x"), KindInternal},
		{Transient(errors.New("x")), KindTransient},
		{MissingTarget(errors.New("x")), KindMissingTarget},
		{context.DeadlineExceeded, KindTransient},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestSubmitWaitsForSlot(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "busy", Run: func(context.Context) error { close(started); <-block; return nil }})
	<-started
	_ = s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }})

	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- s.Submit(context.Background(), Task{Name: "late", Run: func(context.Context) error { ran.Store(true); return nil }})
	}()
	select {
	case err := <-done:
		t.Fatalf("Submit returned %v while the queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(block)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after a slot freed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !ran.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !ran.Load() {
		t.Fatal("submitted task never ran")
	}
	if d := s.Snapshot().Dropped; d != 0 {
		t.Fatalf("dropped = %d, want 0", d)
	}
}

func TestSubmitGivesUpWithContext(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "busy", Run: func(context.Context) error { close(started); <-block; return nil }})
	<-started
	_ = s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }})

	state := &RunState{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Submit(ctx, Task{Name: "late", State: state, Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit = %v, want ErrQueueFull", err)
	}
	// The claim is released, so the next fire is not treated as an overlap.
	if !state.tryAcquire() {
		t.Fatal("run state still held after Submit gave up")
	}
}

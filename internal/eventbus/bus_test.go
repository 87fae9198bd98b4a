package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4, "group.joined")
	defer unsub()

	b.Publish(Event{Type: "task.finished"})
	b.Publish(Event{Type: "group.joined", Data: int64(7)})

	select {
	case e := <-ch:
		if e.Type != "group.joined" || e.Data.(int64) != 7 {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatalf("publish should stamp time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case e := <-ch:
		t.Fatalf("filtered event leaked: %+v", e)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "x"})
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}

func TestPublishWaitDeliversBeyondBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(2, "group.joined")
	defer unsub()

	const n = 100
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := b.PublishWait(context.Background(), Event{Type: "group.joined", Data: i}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < n; i++ {
		select {
		case e := <-ch:
			if e.Data.(int) != i {
				t.Fatalf("event %d carried %v", i, e.Data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("PublishWait: %v", err)
	}
	if d := b.Dropped(); d != 0 {
		t.Fatalf("dropped = %d, want 0", d)
	}
}

func TestPublishWaitGivesUpWithContext(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	if err := b.PublishWait(context.Background(), Event{Type: "a"}); err != nil {
		t.Fatalf("first PublishWait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.PublishWait(ctx, Event{Type: "b"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PublishWait on full subscriber = %v, want deadline exceeded", err)
	}
	if d := b.Dropped(); d != 1 {
		t.Fatalf("dropped = %d, want 1", d)
	}
}

func TestPublishCountsDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})
	if d := b.Dropped(); d != 1 {
		t.Fatalf("dropped = %d, want 1", d)
	}
}

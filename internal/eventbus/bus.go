package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple the chat transport
// from the job dispatcher.
//
// Contract:
//   - Publish MUST be non-blocking; slow subscribers drop events.
//   - PublishWait blocks until every subscriber took the event or ctx is done.
//     Control signals that must not be lost use it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	PublishWait(ctx context.Context, e Event) error
	// Dropped counts deliveries lost by Publish or by an expired PublishWait.
	Dropped() uint64
	// Subscribe returns a channel receiving events whose Type is in types
	// (all events when types is empty).
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64

	dropped atomic.Uint64
}

func (b *memBus) targets(e *Event) []*sub {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			out = append(out, s)
		}
	}
	return out
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) PublishWait(ctx context.Context, e Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var lost int
	for _, s := range b.targets(&e) {
		func() {
			// Unsubscribed while we waited: nobody left to deliver to.
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
				return
			default:
			}
			select {
			case s.ch <- e:
			case <-ctx.Done():
				lost++
				b.dropped.Add(1)
			}
		}()
	}
	if lost > 0 {
		return fmt.Errorf("event %s not delivered to %d subscriber(s): %w", e.Type, lost, ctx.Err())
	}
	return nil
}

func (b *memBus) Publish(e Event) {
	for _, s := range b.targets(&e) {
		// A concurrent unsubscribe may close the channel; recover from send-on-closed.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

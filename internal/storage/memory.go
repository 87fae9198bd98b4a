package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.RWMutex
	groups map[int64]Group
	closed bool
}

// NewMemory returns a Store kept in process memory.
func NewMemory() Store {
	return &memoryStore{groups: map[int64]Group{}}
}

func (s *memoryStore) UpsertGroup(ctx context.Context, g Group) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	now := time.Now()
	if cur, ok := s.groups[g.ChatID]; ok && !cur.JoinedAt.IsZero() {
		g.JoinedAt = cur.JoinedAt
	} else if g.JoinedAt.IsZero() {
		g.JoinedAt = now
	}
	g.Active = true
	g.UpdatedAt = now
	s.groups[g.ChatID] = g
	return nil
}

func (s *memoryStore) DeactivateGroup(ctx context.Context, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if g, ok := s.groups[chatID]; ok {
		g.Active = false
		g.UpdatedAt = time.Now()
		s.groups[chatID] = g
	}
	return nil
}

func (s *memoryStore) Group(ctx context.Context, chatID int64) (Group, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Group{}, false, ErrClosed
	}
	g, ok := s.groups[chatID]
	return g, ok, nil
}

func (s *memoryStore) ActiveGroups(ctx context.Context) ([]Group, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		if g.Active {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

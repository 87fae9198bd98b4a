package scheduler

import (
	"sort"
)

// Handles lists live handles sorted by key, with cron's view of next/prev fire.
func (s *Service) Handles() []HandleInfo {
	return s.Snapshot().Handles
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]HandleInfo, 0, len(s.handles))
	for _, h := range s.handles {
		it := HandleInfo{
			ID:      h.ID.String(),
			Key:     h.Key,
			Owner:   h.Owner,
			Period:  h.Period,
			Timeout: h.Timeout,
			Next:    h.First,
		}
		if s.c != nil && h.entryID != 0 {
			e := s.c.Entry(h.entryID)
			if !e.Next.IsZero() {
				it.Next = e.Next
			}
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return Snapshot{Timezone: s.loc.String(), Handles: items}
}

package scheduler

import (
	"sync/atomic"
	"time"
)

// fixedRate is a cron.Schedule firing at first, first+period, first+2*period, ...
//
// cron calls Next from its run goroutine only, once when the entry is added and
// again after every fire. The first call returns first even when it already lies
// in the past, which makes a zero initial delay fire immediately.
type fixedRate struct {
	first   time.Time
	period  time.Duration
	started *atomic.Bool
}

func newFixedRate(first time.Time, period time.Duration, started *atomic.Bool) *fixedRate {
	if started == nil {
		started = &atomic.Bool{}
	}
	return &fixedRate{first: first, period: period, started: started}
}

func (s *fixedRate) Next(t time.Time) time.Time {
	if s.started.CompareAndSwap(false, true) {
		return s.first
	}
	return nextFixedRate(s.first, s.period, t)
}

// nextFixedRate returns the first slot first+k*period strictly after t.
// Missed slots (process suspended, clock jump) are coalesced into one fire.
func nextFixedRate(first time.Time, period time.Duration, t time.Time) time.Time {
	if period <= 0 {
		return time.Time{}
	}
	if t.Before(first) {
		return first
	}
	k := t.Sub(first)/period + 1
	return first.Add(k * period)
}

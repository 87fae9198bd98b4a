package scheduler

import (
	"errors"
	"time"

	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(key string, err error) {
	if err == nil {
		return
	}
	// The previous invocation of this handle is still pending; the next period retries.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("key", key), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("key", key), logx.Err(err))
}

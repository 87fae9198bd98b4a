package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"quotebot/internal/eventbus"
	logx "quotebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, t)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

// execOne runs a single invocation. It never returns an error and never panics:
// the outcome is recorded, logged, and published instead.
func (s *Service) execOne(ctx context.Context, qt queuedTask) Result {
	defer qt.task.State.release()

	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if qt.enqueuedAt.IsZero() || queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.String("owner", qt.task.Owner), logx.Duration("queue_delay", queueDelay))

	runCtx, cancel := context.WithTimeout(ctx, qt.timeout)
	var (
		err      error
		panicked bool
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = qt.task.Run(runCtx)
	}()
	cancel()

	res := Result{
		TaskID:     qt.task.ID,
		Name:       qt.task.Name,
		Owner:      qt.task.Owner,
		Started:    start,
		QueueDelay: queueDelay,
		Duration:   time.Since(start),
		Kind:       KindOf(err),
		Err:        err,
		Panicked:   panicked,
	}
	if panicked {
		res.Kind = KindInternal
	}
	if err != nil {
		res.Error = err.Error()
	}

	s.report(res)
	s.record(res, cfg.HistorySize)
	return res
}

func (s *Service) report(res Result) {
	fields := []logx.Field{
		logx.String("task", res.Name),
		logx.String("owner", res.Owner),
		logx.Duration("queue_delay", res.QueueDelay),
		logx.Duration("dur", res.Duration),
	}
	if res.OK() {
		atomic.AddUint64(&s.completed, 1)
		if res.Duration >= 750*time.Millisecond {
			s.log.Info("task.completed", fields...)
		} else {
			s.log.Debug("task.completed", fields...)
		}
		s.publish(EventTaskFinished, res)
		return
	}

	atomic.AddUint64(&s.failed, 1)
	fields = append(fields, logx.String("kind", res.Kind.String()), logx.Err(res.Err))
	switch res.Kind {
	case KindTransient:
		// Next period is the retry.
		s.log.Warn("task.failed", fields...)
	case KindMissingTarget, KindDelivery:
		s.log.Warn("task.failed", fields...)
	default:
		s.log.Error("task.failed", fields...)
	}
	s.publish(EventTaskFailed, res)
}

func (s *Service) publish(typ string, res Result) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: res})
}

func (s *Service) record(res Result, historySize int) {
	if historySize <= 0 {
		historySize = 200
	}
	s.hmu.Lock()
	s.history = append(s.history, res)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

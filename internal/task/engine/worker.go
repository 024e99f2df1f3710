package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"dashpulse/internal/task/retry"
	logx "dashpulse/pkg/logx"
)

const slowTaskLog = 750 * time.Millisecond

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
		case t, ok := <-queue:
			if !ok {
				return
			}
			s.stats.inFlight.Add(1)
			s.execOne(ctx, stopCh, t)
			s.stats.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) {
	start := time.Now()
	queueDelay := time.Duration(0)
	if !qt.enqueuedAt.IsZero() {
		queueDelay = start.Sub(qt.enqueuedAt)
		if queueDelay < 0 {
			queueDelay = 0
		}
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		if qt.track && qt.state != nil {
			qt.state.release()
		}
		s.dropStale(start, qt.task, queueDelay)
		s.record(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}

	s.log.Debug("task.started", logx.String("engine", s.name), logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))

	if qt.track && qt.state != nil {
		defer qt.state.release()
	}

	// Retry waits must end when the engine stops, not only when ctx does.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-rctx.Done():
		}
	}()

	policy := retry.Policy{
		MaxAttempts: 1 + qt.opt.RetryMax,
		Delay:       qt.opt.RetryBase,
		Multiplier:  2,
		MaxDelay:    qt.opt.RetryMaxDelay,
		Jitter:      qt.opt.RetryJitter,
	}
	attempts, err := retry.Do(rctx, policy, retry.Always, func(c context.Context, attempt int) error {
		if attempt > 1 {
			s.log.Debug("task retry", logx.String("task", qt.task.Name), logx.Int("attempt", attempt))
		}
		return s.runAttempt(c, qt)
	})

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, Duration: dur, QueueDelay: queueDelay, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("engine", s.name), logx.String("task", qt.task.Name), logx.Any("err", err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else if dur >= slowTaskLog {
		s.log.Info("task.completed", logx.String("engine", s.name), logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else {
		s.log.Debug("task.completed", logx.String("engine", s.name), logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	}

	s.record(item, cfg.HistorySize)
}

// runAttempt runs one attempt under the task timeout. A panic becomes an
// error so one bad task can't kill a worker.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

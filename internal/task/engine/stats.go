package engine

import (
	"sync"
	"sync/atomic"
	"time"

	logx "dashpulse/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type stats struct {
	idSeq    atomic.Uint64
	inFlight atomic.Int32

	completed        atomic.Uint64
	failed           atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64

	lastQueueFullWarn atomic.Int64
	lastStaleWarn     atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

// Snapshot reports queue depth, counters and recent history.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	var ql, qc int
	if s.run != nil {
		ql, qc = len(s.run.queue), cap(s.run.queue)
	}
	s.mu.Unlock()

	s.stats.hmu.Lock()
	h := append([]HistoryItem(nil), s.stats.history...)
	s.stats.hmu.Unlock()

	full, stale := s.stats.droppedQueueFull.Load(), s.stats.droppedStale.Load()
	return Snapshot{
		Name:             s.name,
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		QueueLen:         ql,
		QueueCap:         qc,
		InFlight:         int(s.stats.inFlight.Load()),
		Completed:        s.stats.completed.Load(),
		Failed:           s.stats.failed.Load(),
		Dropped:          full + stale,
		DroppedQueueFull: full,
		DroppedStale:     stale,
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		RetryMax:         cfg.RetryMax,
		History:          h,
	}
}

func (s *Service) record(item HistoryItem, size int) {
	switch {
	case item.Error == "":
		s.stats.completed.Add(1)
	case item.Attempts > 0:
		s.stats.failed.Add(1)
	}
	s.stats.hmu.Lock()
	defer s.stats.hmu.Unlock()
	s.stats.history = append(s.stats.history, item)
	if over := len(s.stats.history) - size; size > 0 && over > 0 {
		s.stats.history = s.stats.history[over:]
	}
}

// throttled reports whether a warning keyed by last may be logged now.
func throttled(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return true
	}
	return !last.CompareAndSwap(prev, n)
}

func (s *Service) dropQueueFull(now time.Time, t Task, q chan queuedTask) {
	n := s.stats.droppedQueueFull.Add(1)
	if throttled(&s.stats.lastQueueFullWarn, now) {
		return
	}
	s.log.Warn("task dropped: queue full",
		logx.String("task", t.Name),
		logx.String("id", t.ID),
		logx.Int("queue_len", len(q)),
		logx.Int("queue_cap", cap(q)),
		logx.Uint64("dropped_queue_full", n),
	)
}

func (s *Service) dropStale(now time.Time, t Task, queueDelay time.Duration) {
	n := s.stats.droppedStale.Add(1)
	if throttled(&s.stats.lastStaleWarn, now) {
		return
	}
	s.log.Warn("task dropped: stale queue",
		logx.String("task", t.Name),
		logx.String("id", t.ID),
		logx.Duration("queue_delay", queueDelay),
		logx.Uint64("dropped_stale", n),
	)
}

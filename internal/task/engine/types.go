package engine

import (
	"context"
	"sync"
	"time"
)

// Config sizes one engine. The app runs two: "trigger" for scheduled scans
// and retention, "dispatch" for per-item probes, notifications and metrics.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int
	// DefaultTimeout applies to tasks with no Timeout. 0 means none.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops a task that waited longer than this before a
	// worker picked it up. 0 keeps every task.
	MaxQueueDelay time.Duration
	HistorySize   int
	// RetryMax is the retry count for tasks that leave Opt.RetryMax at 0.
	RetryMax int
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning rejects a task whose state is already queued or
	// running, so a slow scan is never stacked behind itself.
	OverlapSkipIfRunning
)

const (
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 15 * time.Second
	defaultRetryJitter   = 0.2
)

type TaskOptions struct {
	Overlap OverlapPolicy
	// RetryMax > 0 overrides Config.RetryMax; < 0 disables retries.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	o.RetryMax = max(o.RetryMax, 0)
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryMaxDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultRetryJitter
	}
	switch o.Overlap {
	case OverlapAllow, OverlapSkipIfRunning:
	default:
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState is the overlap gate shared by every task with the same key.
// A nil *RunState never blocks.
type RunState struct {
	mu   sync.Mutex
	busy bool
}

func (r *RunState) tryAcquire() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return false
	}
	r.busy = true
	return true
}

func (r *RunState) release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

// Task is one unit of work. With OverlapSkipIfRunning the gate is State
// when set, else a per-engine state keyed by ConcurrencyKey or Name.
type Task struct {
	ID             string
	Name           string
	Timeout        time.Duration
	Run            func(ctx context.Context) error
	Opt            TaskOptions
	ConcurrencyKey string
	State          *RunState
}

// HistoryItem is one finished (or stale-dropped) task.
type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// Snapshot is the engine's state for health reporting. QueueCap is 0
// while the engine is not running.
type Snapshot struct {
	Name     string
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed        uint64
	Failed           uint64
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	History []HistoryItem
}

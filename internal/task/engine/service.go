package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	rtsup "dashpulse/internal/runtime/supervisor"
	logx "dashpulse/pkg/logx"
)

// Service is a bounded worker pool. Tasks go through a buffered queue and
// run under a per-task timeout with engine-level retries.
type Service struct {
	name string
	log  logx.Logger

	mu      sync.Mutex
	cfg     Config
	run     *runState
	stopped chan struct{} // closed once the current run has fully stopped

	stateMu sync.Mutex
	states  map[string]*RunState

	stats stats
}

// runState is one Start..Stop lifetime of the pool.
type runState struct {
	queue    chan queuedTask
	stopCh   chan struct{}
	sup      *rtsup.Supervisor
	stopping bool
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
	state      *RunState
	track      bool
}

// New builds an engine. name tags logs and task ids ("trigger", "dispatch").
func New(name string, cfg Config, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		name:   name,
		cfg:    cfg,
		log:    log.With(logx.String("engine", name)),
		states: make(map[string]*RunState),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Workers returns the configured pool size.
func (s *Service) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Workers
}

// Start launches the workers. It is a no-op when disabled or already
// running; a Start during Stop waits for the stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		if s.run == nil {
			break
		}
		if !s.run.stopping {
			s.mu.Unlock()
			return
		}
		wait := s.stopped
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
	}

	run := &runState{
		queue:  make(chan queuedTask, s.cfg.QueueSize),
		stopCh: make(chan struct{}),
		sup: rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			// a crashed worker restarts; it never takes the app down.
			rtsup.WithCancelOnError(false),
		),
	}
	s.run = run
	s.stopped = make(chan struct{})
	workers := s.cfg.Workers
	s.mu.Unlock()

	s.stats.inFlight.Store(0)
	for i := 0; i < workers; i++ {
		run.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, run.stopCh, run.queue)
			select {
			case <-run.stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", workers), logx.Int("queue", cap(run.queue)))
}

// Stop closes the pool. Queued tasks that have not started are abandoned.
// It returns when the workers are gone or ctx ends, whichever is first.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	run := s.run
	if run == nil {
		s.mu.Unlock()
		return
	}
	done := s.stopped
	if run.stopping {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	run.stopping = true
	close(run.stopCh)
	s.mu.Unlock()

	run.sup.Cancel()
	go func() {
		_ = run.sup.Wait(context.Background())
		s.mu.Lock()
		if s.run == run {
			s.run = nil
		}
		s.mu.Unlock()
		s.stats.inFlight.Store(0)
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue hands t to the pool without blocking; a full queue drops it.
// Use Submit for backpressure.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit blocks until t is queued, ctx ends or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	s.mu.Lock()
	cfg := s.cfg
	run := s.run
	stopping := run != nil && run.stopping
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case run == nil:
		return ErrStopped
	case stopping:
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	opt := t.Opt.withDefaults(cfg)
	st := t.State
	if st == nil {
		st = s.stateFor(t.ConcurrencyKey, t.Name)
	}

	track := opt.Overlap == OverlapSkipIfRunning
	if track && !st.tryAcquire() {
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
		return ErrOverlapSkip
	}
	undo := func() {
		if track {
			st.release()
		}
	}

	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: opt, state: st, track: track}
	if !block {
		select {
		case run.queue <- qt:
			return nil
		default:
			undo()
			s.dropQueueFull(now, t, run.queue)
			return ErrQueueFull
		}
	}

	select {
	case run.queue <- qt:
		return nil
	case <-ctx.Done():
		undo()
		return ctx.Err()
	case <-run.stopCh:
		undo()
		return ErrStopping
	}
}

func (s *Service) stateFor(concurrencyKey, name string) *RunState {
	key := strings.TrimSpace(concurrencyKey)
	if key == "" {
		key = name
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[key]
	if st == nil {
		st = &RunState{}
		s.states[key] = st
	}
	return st
}

func (s *Service) newTaskID(now time.Time) string {
	return fmt.Sprintf("%s-%x-%x", s.name, now.UnixNano(), s.stats.idSeq.Add(1))
}

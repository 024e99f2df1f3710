package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "dashpulse/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New("test", cfg, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()
	s := New("off", Config{}, logx.Nop())
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestEnqueueValidatesTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("expected error for nil Run")
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for blank name")
	}
}

func TestSubmitRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	var ran int32
	for i := 0; i < 5; i++ {
		err := s.Submit(context.Background(), Task{Name: "count", Run: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&ran) == 5 })
	waitFor(t, func() bool { return len(s.Snapshot().History) == 5 })
	if snap := s.Snapshot(); snap.Completed != 5 || snap.Failed != 0 {
		t.Fatalf("completed=%d failed=%d, want 5/0", snap.Completed, snap.Failed)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls int32
	done := make(chan struct{})
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Run: func(context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("boom")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not succeed")
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if h.Attempts != 3 || h.Error != "" {
		t.Fatalf("history = %+v, want 3 attempts without error", h)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 5})
	var calls int32
	err := s.Enqueue(Task{
		Name: "permanent",
		Opt:  TaskOptions{RetryBase: time.Millisecond},
		Run: func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return NoRetry(errors.New("bad request"))
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if h := s.Snapshot().History[0]; h.Error != "bad request" {
		t.Fatalf("error = %q, want unwrapped message", h.Error)
	}
	if got := s.Snapshot().Failed; got != 1 {
		t.Fatalf("failed = %d, want 1", got)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: -1})
	if err := s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("oops") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Error != "panic: oops" {
		t.Fatalf("error = %q", h.Error)
	}

	// The worker survives.
	ok := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(ok); return nil }})
	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{
		Name: "scan",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestTimeoutCancelsAttempt(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: -1})
	err := s.Enqueue(Task{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("error = %q", h.Error)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	s := New("stopped", Config{Enabled: true, Workers: 1}, logx.Nop())
	s.Start(context.Background())
	s.Stop(context.Background())
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestQueueFullCountsDrop(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	block := Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	if err := s.Enqueue(block); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	noop := func(context.Context) error { return nil }
	if err := s.Enqueue(Task{Name: "queued", Run: noop}); err != nil {
		t.Fatalf("Enqueue queued: %v", err)
	}
	if err := s.Enqueue(Task{Name: "overflow", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	snap := s.Snapshot()
	if snap.DroppedQueueFull != 1 || snap.Dropped != 1 {
		t.Fatalf("dropped = %d/%d, want 1/1", snap.DroppedQueueFull, snap.Dropped)
	}
}

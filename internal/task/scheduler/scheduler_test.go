package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dashpulse/internal/task/engine"
	logx "dashpulse/pkg/logx"
)

var skip = TaskOptions{Overlap: OverlapSkipIfRunning}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (r *recordingEnqueuer) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return r.err
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestAddScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recordingEnqueuer{}, logx.Nop())
	job := func(context.Context) error { return nil }

	if _, err := s.AddScheduleOpt("", "1m", 0, skip, job); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := s.AddScheduleOpt("x", "nope", 0, skip, job); err == nil {
		t.Fatal("expected error for bad schedule")
	}
	if _, err := s.AddCronOpt("x", "99 * * * *", 0, skip, job); err == nil {
		t.Fatal("expected error for bad cron")
	}
	if _, err := s.AddIntervalOpt("x", 0, 0, skip, job); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recordingEnqueuer{}, logx.Nop())
	job := func(context.Context) error { return nil }

	if _, err := s.AddScheduleOpt("scan.notify", "1m", 0, skip, job); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if _, err := s.AddScheduleOpt("scan.notify", "cron:0 3 * * *", 0, skip, job); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	got := s.Schedules()
	if len(got) != 1 || got[0].Spec != "0 3 * * *" {
		t.Fatalf("schedules = %+v", got)
	}
	if !s.Remove("scan.notify") || s.Remove("scan.notify") {
		t.Fatal("Remove should report true once")
	}
}

func TestIntervalFiresIntoEngine(t *testing.T) {
	t.Parallel()
	enq := &recordingEnqueuer{}
	s := New(Config{NoSpread: true}, enq, logx.Nop())
	if _, err := s.AddIntervalOpt("tick", time.Second, 0, skip, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for enq.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if enq.count() == 0 {
		t.Fatal("interval schedule never enqueued")
	}
	enq.mu.Lock()
	task := enq.tasks[0]
	enq.mu.Unlock()
	if task.Name != "tick" || task.State == nil || task.Opt.Overlap != OverlapSkipIfRunning {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestReportEnqueueErrorThrottles(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	s.reportEnqueueError("a", errors.New("queue full"))
	first := s.warned["a"]
	s.reportEnqueueError("a", errors.New("queue full"))
	if !s.warned["a"].Equal(first) {
		t.Fatal("second warning within throttle window should not update timestamp")
	}
	s.reportEnqueueError("b", engine.ErrOverlapSkip)
	if _, ok := s.warned["b"]; ok {
		t.Fatal("overlap skips are not warnings")
	}
}

package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/probe"
	"dashpulse/internal/sink"
	"dashpulse/internal/task/engine"
	"dashpulse/internal/task/retry"
	logx "dashpulse/pkg/logx"
)

type recorder struct {
	mu  sync.Mutex
	got map[string]domain.Outcome
}

func (r *recorder) RecordResult(_ context.Context, id string, o domain.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = map[string]domain.Outcome{}
	}
	r.got[id] = o
	return nil
}

func (r *recorder) outcome(id string) (domain.Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.got[id]
	return o, ok
}

type notifier struct {
	mu      sync.Mutex
	batches []sink.NotificationBatch
	err     error
	calls   int
}

func (n *notifier) Notify(_ context.Context, b sink.NotificationBatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.batches = append(n.batches, b)
	return nil
}

type runnerFunc func(ctx context.Context, t domain.Target) probe.Result

func (f runnerFunc) Run(ctx context.Context, t domain.Target) probe.Result { return f(ctx, t) }

type metricsSink struct {
	ch chan probe.MetricsReport
}

func (m *metricsSink) Deliver(_ context.Context, r probe.MetricsReport) error {
	m.ch <- r
	return nil
}

func startEngine(t *testing.T) *engine.Service {
	t.Helper()
	eng := engine.New("dispatch", engine.Config{Enabled: true, Workers: 3, QueueSize: 16}, logx.Nop())
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng
}

func unit(kind domain.Kind, id int64) domain.WorkUnit {
	target := domain.Target{ID: id, UID: "uid-" + string(rune('a'+id)), Name: "board", URL: "https://dash/" + string(rune('a'+id)), CheckWindow: 10 * time.Minute, IsActive: true}
	return domain.WorkUnit{
		Item:  domain.CheckItem{ID: id, Kind: kind, Target: target, Description: "look", IsActive: true},
		Event: domain.CheckEvent{ID: "ev" + string(rune('a'+id)), Kind: kind, ItemID: id, Target: target},
	}
}

func fastDelivery() retry.Policy { return retry.Fixed(3, time.Millisecond) }

func TestDispatchNotifyBatches(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := &notifier{}
	d := New(startEngine(t), rec, n, nil, nil, Config{BatchSize: 2, Delivery: fastDelivery(), ExternalURL: "https://pulse.example/"}, logx.Nop())

	units := []domain.WorkUnit{unit(domain.KindNotify, 1), unit(domain.KindNotify, 2), unit(domain.KindNotify, 3), unit(domain.KindNotify, 4), unit(domain.KindNotify, 5)}
	results := d.Dispatch(context.Background(), units)

	if len(results) != 5 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil || !r.Outcome.IsSuccess() || r.EventID != units[i].Event.ID || r.Attempts != 1 {
			t.Fatalf("result %d = %+v", i, r)
		}
		if o, ok := rec.outcome(units[i].Event.ID); !ok || string(o.Metrics) != `{"delivered":1}` {
			t.Fatalf("recorded %d = %+v", i, o)
		}
	}
	if n.calls != 3 {
		t.Fatalf("notify calls = %d, want 3", n.calls)
	}
	total := 0
	for _, b := range n.batches {
		total += len(b.Dashboards)
		for _, it := range b.Dashboards {
			if it.FakeURL != "https://pulse.example/events/"+it.EventUUID+"/resolve" || it.TimeForCheck != 10 || it.Description != "look" {
				t.Fatalf("item = %+v", it)
			}
		}
	}
	if total != 5 {
		t.Fatalf("dashboards sent = %d", total)
	}
}

func TestDispatchNotifyFailure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		err      error
		attempts int
	}{
		{"transient exhausted", domain.ErrTransient, 3},
		{"permanent", retry.NoRetry(domain.ErrPermanent), 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{}
			n := &notifier{err: tc.err}
			d := New(startEngine(t), rec, n, nil, nil, Config{Delivery: fastDelivery()}, logx.Nop())

			results := d.Dispatch(context.Background(), []domain.WorkUnit{unit(domain.KindNotify, 1), unit(domain.KindNotify, 2)})
			for _, r := range results {
				if r.Attempts != tc.attempts || r.Outcome.Reason != domain.ReasonProcessFailed || r.Err == nil {
					t.Fatalf("result = %+v", r)
				}
				if o, _ := rec.outcome(r.EventID); o.Status != domain.StatusFailure {
					t.Fatalf("recorded = %+v", o)
				}
			}
			if n.calls != tc.attempts {
				t.Fatalf("calls = %d", n.calls)
			}
		})
	}
}

func TestDispatchProbesAreIsolated(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	ms := &metricsSink{ch: make(chan probe.MetricsReport, 4)}
	audit := runnerFunc(func(_ context.Context, tg domain.Target) probe.Result {
		switch tg.ID {
		case 2:
			panic("runner exploded")
		case 3:
			o := domain.Failure(domain.ReasonTimeout, "slow")
			return probe.Result{Outcome: o, Attempts: 3, Report: probe.NewReport(tg, o, time.Now())}
		}
		o := domain.Success([]byte(`{"cls":0.1}`))
		return probe.Result{Outcome: o, Attempts: 1, Report: probe.NewReport(tg, o, time.Now())}
	})
	d := New(startEngine(t), rec, &notifier{}, ms, map[domain.Kind]probe.Runner{domain.KindAudit: audit}, Config{}, logx.Nop())

	units := []domain.WorkUnit{unit(domain.KindAudit, 1), unit(domain.KindAudit, 2), unit(domain.KindAudit, 3), unit(domain.KindHTTP, 4)}
	results := d.Dispatch(context.Background(), units)

	if !results[0].Outcome.IsSuccess() || results[0].Err != nil {
		t.Fatalf("unit 1 = %+v", results[0])
	}
	if results[1].Err == nil || !strings.Contains(results[1].Err.Error(), "panic") {
		t.Fatalf("unit 2 = %+v", results[1])
	}
	if results[2].Outcome.Reason != domain.ReasonTimeout || results[2].Attempts != 3 {
		t.Fatalf("unit 3 = %+v", results[2])
	}
	if !errors.Is(results[3].Err, domain.ErrConfiguration) {
		t.Fatalf("unit 4 = %+v", results[3])
	}
	if o, _ := rec.outcome(units[2].Event.ID); o.Reason != domain.ReasonTimeout {
		t.Fatalf("recorded timeout = %+v", o)
	}

	select {
	case r := <-ms.ch:
		if r.TargetUID != units[0].Item.Target.UID || !r.Succeeded() {
			t.Fatalf("report = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("metrics not delivered")
	}
	select {
	case r := <-ms.ch:
		t.Fatalf("unexpected second report %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchEngineStopped(t *testing.T) {
	t.Parallel()
	eng := engine.New("dispatch", engine.Config{Enabled: true}, logx.Nop())
	rec := &recorder{}
	d := New(eng, rec, &notifier{}, nil, nil, Config{}, logx.Nop())

	results := d.Dispatch(context.Background(), []domain.WorkUnit{unit(domain.KindNotify, 1), unit(domain.KindAudit, 2)})
	for _, r := range results {
		if !errors.Is(r.Err, engine.ErrStopped) {
			t.Fatalf("result = %+v", r)
		}
		if o, ok := rec.outcome(r.EventID); !ok || o.Reason != domain.ReasonUnexpected {
			t.Fatalf("event %s stored outcome = %+v (recorded=%v), want unexpected failure", r.EventID, o, ok)
		}
	}
}

type refusingEngine struct{ err error }

func (e refusingEngine) Submit(context.Context, engine.Task) error { return e.err }
func (e refusingEngine) Enqueue(engine.Task) error                 { return e.err }

type ctxRecorder struct {
	recorder
	ctxErrs []error
}

func (r *ctxRecorder) RecordResult(ctx context.Context, id string, o domain.Outcome) error {
	r.mu.Lock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()
	return r.recorder.RecordResult(ctx, id, o)
}

func TestDispatchRefusedSubmitRecordsFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &ctxRecorder{}
	d := New(refusingEngine{err: context.Canceled}, rec, &notifier{}, nil, nil, Config{}, logx.Nop())

	units := []domain.WorkUnit{unit(domain.KindNotify, 1), unit(domain.KindHTTP, 2), unit(domain.KindAudit, 3)}
	results := d.Dispatch(ctx, units)
	for i, r := range results {
		if r.Outcome.Reason != domain.ReasonUnexpected || r.Err == nil {
			t.Fatalf("result %d = %+v", i, r)
		}
		o, ok := rec.outcome(units[i].Event.ID)
		if !ok || o.Reason != domain.ReasonUnexpected {
			t.Fatalf("event %s not recorded as failure: %+v", units[i].Event.ID, o)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, err := range rec.ctxErrs {
		if err != nil {
			t.Fatalf("RecordResult ran with a cancelled context: %v", err)
		}
	}
}

func TestChunk(t *testing.T) {
	t.Parallel()
	cases := []struct {
		n, size int
		want    []int
	}{
		{0, 2, nil},
		{5, 0, []int{5}},
		{5, 2, []int{2, 2, 1}},
		{4, 4, []int{4}},
	}
	for _, tc := range cases {
		idx := make([]int, tc.n)
		got := chunk(idx, tc.size)
		if len(got) != len(tc.want) {
			t.Fatalf("chunk(%d,%d) = %d batches", tc.n, tc.size, len(got))
		}
		for i, b := range got {
			if len(b) != tc.want[i] {
				t.Fatalf("chunk(%d,%d)[%d] = %d", tc.n, tc.size, i, len(b))
			}
		}
	}
}

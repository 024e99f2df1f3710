package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/probe"
	"dashpulse/internal/sink"
	"dashpulse/internal/task/engine"
	"dashpulse/internal/task/retry"
	logx "dashpulse/pkg/logx"
)

// Engine is the part of *engine.Service the dispatcher drives.
type Engine interface {
	Submit(ctx context.Context, t engine.Task) error
	Enqueue(t engine.Task) error
}

// Recorder stores a final outcome on an event.
type Recorder interface {
	RecordResult(ctx context.Context, id string, o domain.Outcome) error
}

type Config struct {
	// BatchSize splits notify units; 0 sends them in one batch.
	BatchSize int
	// Delivery is the fixed backoff used for notification batches.
	Delivery retry.Policy
	// UnitTimeout bounds one unit task. 0 uses the engine default.
	UnitTimeout time.Duration
	// MetricsRetryMax is the engine retry budget of a metrics delivery.
	MetricsRetryMax int
	// ExternalURL prefixes the redirect link handed to reviewers.
	ExternalURL string
}

type Dispatcher struct {
	eng      Engine
	events   Recorder
	notifier sink.Notifier
	metrics  sink.MetricsSink
	runners  map[domain.Kind]probe.Runner
	cfg      Config
	log      logx.Logger
}

func New(eng Engine, events Recorder, notifier sink.Notifier, metrics sink.MetricsSink, runners map[domain.Kind]probe.Runner, cfg Config, log logx.Logger) *Dispatcher {
	if cfg.Delivery.MaxAttempts <= 0 {
		cfg.Delivery = probe.DefaultPolicy
	}
	if metrics == nil {
		metrics = sink.Discard{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		eng:      eng,
		events:   events,
		notifier: notifier,
		metrics:  metrics,
		runners:  runners,
		cfg:      cfg,
		log:      log,
	}
}

// RedirectURL is the link a reviewer follows for an event.
func RedirectURL(base, eventID string) string {
	return strings.TrimRight(base, "/") + "/events/" + eventID + "/resolve"
}

// Dispatch runs every unit and returns one result per unit, in input
// order. It blocks until all unit tasks finish or ctx ends.
func (d *Dispatcher) Dispatch(ctx context.Context, units []domain.WorkUnit) []domain.UnitResult {
	results := make([]domain.UnitResult, len(units))
	for i, u := range units {
		results[i] = pendingResult(u)
	}
	if len(units) == 0 {
		return results
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		settled = make([]bool, len(units))
		pending = len(units)
	)
	// set settles index i once; later calls for the same index are ignored.
	set := func(i int, r domain.UnitResult) {
		mu.Lock()
		if settled[i] {
			mu.Unlock()
			return
		}
		settled[i] = true
		results[i] = r
		pending--
		mu.Unlock()
		wg.Done()
	}
	open := func(i int) bool {
		mu.Lock()
		defer mu.Unlock()
		return !settled[i]
	}
	wg.Add(len(units))

	var notify []int
	for i, u := range units {
		if u.Item.Kind == domain.KindNotify {
			notify = append(notify, i)
			continue
		}
		d.submit(ctx, fmt.Sprintf("probe.%s.%d", u.Item.Kind, u.Item.ID), units, []int{i}, open, set, func(ctx context.Context) {
			set(i, d.runProbe(ctx, u))
		})
	}
	for _, batch := range chunk(notify, d.cfg.BatchSize) {
		batch := batch
		d.submit(ctx, fmt.Sprintf("notify.batch.%d", len(batch)), units, batch, open, set, func(ctx context.Context) {
			for j, r := range d.runNotify(ctx, units, batch) {
				set(batch[j], r)
			}
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("dispatch interrupted", logx.Int("units", len(units)), logx.Err(ctx.Err()))
	}

	mu.Lock()
	out := append([]domain.UnitResult(nil), results...)
	left := pending
	mu.Unlock()
	if left > 0 {
		for i := range out {
			if out[i].Outcome.IsPending() && out[i].Err == nil {
				out[i].Err = ctx.Err()
			}
		}
	}
	return out
}

// submit hands fn to the engine. Units fn did not settle are failed, and
// the failure recorded on their events, when the engine refuses the task or
// fn panics.
func (d *Dispatcher) submit(ctx context.Context, name string, units []domain.WorkUnit, idx []int, open func(int) bool, set func(int, domain.UnitResult), fn func(context.Context)) {
	fail := func(err error) {
		for _, i := range idx {
			if !open(i) {
				continue
			}
			r := pendingResult(units[i])
			r.Outcome = domain.Failure(domain.ReasonUnexpected, err.Error())
			r.Err = err
			// the scan ctx may be the reason for the refusal
			if rerr := d.events.RecordResult(context.WithoutCancel(ctx), units[i].Event.ID, r.Outcome); rerr != nil {
				d.log.Error("record unit failure", logx.String("event", units[i].Event.ID), logx.Err(rerr))
				r.Err = errors.Join(err, rerr)
			}
			set(i, r)
		}
	}

	t := engine.Task{
		Name:    name,
		Timeout: d.cfg.UnitTimeout,
		// Units retry inside the runner or the delivery policy.
		Opt: engine.TaskOptions{RetryMax: -1},
		Run: func(ctx context.Context) error {
			defer func() {
				if r := recover(); r != nil {
					fail(fmt.Errorf("panic: %v", r))
					panic(r)
				}
			}()
			fn(ctx)
			return nil
		},
	}
	if err := d.eng.Submit(ctx, t); err != nil {
		d.log.Error("unit submit failed", logx.String("task", name), logx.Err(err))
		fail(err)
	}
}

func pendingResult(u domain.WorkUnit) domain.UnitResult {
	return domain.UnitResult{
		EventID:  u.Event.ID,
		ItemID:   u.Item.ID,
		TargetID: u.Item.Target.ID,
		Kind:     u.Item.Kind,
		Outcome:  domain.Pending(),
	}
}

func chunk(idx []int, size int) [][]int {
	if len(idx) == 0 {
		return nil
	}
	if size <= 0 || size >= len(idx) {
		return [][]int{idx}
	}
	var out [][]int
	for start := 0; start < len(idx); start += size {
		end := min(start+size, len(idx))
		out = append(out, idx[start:end])
	}
	return out
}

func (d *Dispatcher) runNotify(ctx context.Context, units []domain.WorkUnit, idx []int) []domain.UnitResult {
	batch := sink.NotificationBatch{Dashboards: make([]sink.NotificationItem, 0, len(idx))}
	for _, i := range idx {
		batch.Dashboards = append(batch.Dashboards, d.notificationItem(units[i]))
	}

	attempts, err := retry.Do(ctx, d.cfg.Delivery, deliveryRetryable, func(ctx context.Context, _ int) error {
		return d.notifier.Notify(ctx, batch)
	})
	outcome := domain.Success(json.RawMessage(`{"delivered":1}`))
	if err != nil {
		outcome = domain.Failure(failureReason(err), err.Error())
		d.log.Error("notification batch exhausted",
			logx.Int("dashboards", len(idx)),
			logx.Int("attempts", attempts),
			logx.Err(err),
		)
	}

	out := make([]domain.UnitResult, len(idx))
	for j, i := range idx {
		u := units[i]
		r := pendingResult(u)
		r.Attempts = attempts
		r.Outcome = outcome
		r.Err = err
		if rerr := d.events.RecordResult(ctx, u.Event.ID, outcome); rerr != nil {
			d.log.Error("record result failed", logx.String("event", u.Event.ID), logx.Err(rerr))
			r.Err = errors.Join(r.Err, rerr)
		}
		out[j] = r
	}
	return out
}

func (d *Dispatcher) notificationItem(u domain.WorkUnit) sink.NotificationItem {
	t := u.Item.Target
	return sink.NotificationItem{
		EventUUID:    u.Event.ID,
		DashboardUID: t.UID,
		Name:         t.Name,
		Description:  u.Item.Description,
		RealURL:      t.URL,
		FakeURL:      RedirectURL(d.cfg.ExternalURL, u.Event.ID),
		TimeForCheck: t.CheckWindowMinutes(),
	}
}

func (d *Dispatcher) runProbe(ctx context.Context, u domain.WorkUnit) domain.UnitResult {
	r := pendingResult(u)
	runner, ok := d.runners[u.Item.Kind]
	if !ok {
		r.Outcome = domain.Failure(domain.ReasonUnexpected, "no runner for kind "+string(u.Item.Kind))
		r.Err = fmt.Errorf("%w: no runner for kind %q", domain.ErrConfiguration, u.Item.Kind)
		if err := d.events.RecordResult(ctx, u.Event.ID, r.Outcome); err != nil {
			r.Err = errors.Join(r.Err, err)
		}
		return r
	}

	res := runner.Run(ctx, u.Item.Target)
	r.Attempts = res.Attempts
	r.Outcome = res.Outcome
	if !res.Outcome.IsSuccess() {
		d.log.Warn("probe failed",
			logx.Int64("target", u.Item.Target.ID),
			logx.String("kind", string(u.Item.Kind)),
			logx.Int("attempts", res.Attempts),
			logx.String("reason", string(res.Outcome.Reason)),
			logx.String("message", res.Outcome.Message),
		)
	}
	if err := d.events.RecordResult(ctx, u.Event.ID, res.Outcome); err != nil {
		d.log.Error("record result failed", logx.String("event", u.Event.ID), logx.Err(err))
		r.Err = err
	}
	if res.Outcome.IsSuccess() {
		d.deliverMetrics(u, res.Report)
	}
	return r
}

// deliverMetrics queues the report without blocking the probe worker.
// Failures are logged and never touch the recorded event.
func (d *Dispatcher) deliverMetrics(u domain.WorkUnit, report probe.MetricsReport) {
	if _, discard := d.metrics.(sink.Discard); discard {
		return
	}
	err := d.eng.Enqueue(engine.Task{
		Name: fmt.Sprintf("metrics.%s.%d", u.Item.Kind, u.Item.ID),
		Opt:  engine.TaskOptions{RetryMax: d.cfg.MetricsRetryMax},
		Run: func(ctx context.Context) error {
			return d.metrics.Deliver(ctx, report)
		},
	})
	if err != nil {
		d.log.Warn("metrics delivery not queued", logx.String("event", u.Event.ID), logx.Err(err))
	}
}

func deliveryRetryable(err error) bool {
	return !errors.Is(err, domain.ErrPermanent) && !errors.Is(err, domain.ErrConfiguration)
}

func failureReason(err error) domain.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ReasonTimeout
	}
	return domain.ReasonProcessFailed
}

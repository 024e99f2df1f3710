package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dashpulse/internal/api"
	"dashpulse/internal/checklist"
	"dashpulse/internal/config"
	"dashpulse/internal/dispatch"
	"dashpulse/internal/domain"
	"dashpulse/internal/events"
	"dashpulse/internal/importer"
	"dashpulse/internal/probe"
	rtsup "dashpulse/internal/runtime/supervisor"
	"dashpulse/internal/sink"
	"dashpulse/internal/storage"
	"dashpulse/internal/task/engine"
	"dashpulse/internal/task/scheduler"
	logx "dashpulse/pkg/logx"
	"dashpulse/pkg/systemd"
)

type App struct {
	cfg *config.Config

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	closers []io.Closer

	trigger  *engine.Service
	dispatch *engine.Service
	sched    *scheduler.Service

	events     *events.Service
	checklist  *checklist.Engine
	dispatcher *dispatch.Dispatcher
	retention  *events.Retention
	notifier   sink.Notifier

	server *api.Server
	sup    *rtsup.Supervisor
}

// New wires every component from cfg. Nothing runs until Start; the CLI
// subcommands use the wired components directly.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	bootLog := logx.NewConsole(os.Stderr, cfg.Logging.Level)

	var (
		tg     *sink.Telegram
		alerts logx.AlertSender
	)
	if cfg.Notifier.Driver == "telegram" || cfg.Logging.Alerts.Enabled {
		t, err := sink.NewTelegram(mapTelegramConfig(cfg), bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		tg, alerts = t, t
	}

	logSvc, log := logx.New(mapLogging(cfg), alerts)
	a := &App{cfg: cfg, logs: logSvc, log: log.With(logx.String("comp", "app"))}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.store = store

	a.events = events.New(store, log.With(logx.String("comp", "events")))
	a.checklist = checklist.New(store, a.events, mapChecklistConfig(cfg), log.With(logx.String("comp", "checklist")))
	a.retention = events.NewRetention(store, mapRetentionConfig(cfg), log.With(logx.String("comp", "retention")))

	a.trigger = engine.New("trigger", mapTriggerEngine(cfg), log.With(logx.String("comp", "taskengine")))
	a.dispatch = engine.New("dispatch", mapDispatchEngine(cfg), log.With(logx.String("comp", "taskengine")))
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.trigger, log.With(logx.String("comp", "scheduler")))

	var notifier sink.Notifier
	switch cfg.Notifier.Driver {
	case "telegram":
		notifier = tg
	default:
		notifier = sink.NewHTTPNotifier(mapHTTPNotifierConfig(cfg), log.With(logx.String("comp", "notifier")))
	}

	a.notifier = notifier

	metrics, err := a.metricsSink(cfg)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	runners := map[domain.Kind]probe.Runner{
		domain.KindAudit: probe.NewLighthouse(mapLighthouseConfig(cfg), log.With(logx.String("comp", "lighthouse"))),
		domain.KindHTTP:  probe.NewHTTP(mapHTTPProbeConfig(cfg), log.With(logx.String("comp", "httpprobe"))),
	}
	a.dispatcher = dispatch.New(a.dispatch, a.events, notifier, metrics, runners, mapDispatchConfig(cfg), log.With(logx.String("comp", "dispatch")))

	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		router := api.NewRouter(api.Deps{
			Events:  a.events,
			Store:   store,
			Engines: []api.SnapshotSource{a.trigger, a.dispatch},
			Log:     log,
		})
		a.server = api.NewServer(mapServerConfig(cfg), router, log)
	}
	return a, nil
}

func (a *App) metricsSink(cfg *config.Config) (sink.MetricsSink, error) {
	switch cfg.Metrics.Driver {
	case "http":
		if strings.TrimSpace(cfg.Metrics.URL) == "" {
			a.log.Warn("metrics.driver is http but metrics.url is empty; reports are discarded")
			return sink.Discard{}, nil
		}
		return sink.NewHTTPMetrics(mapHTTPMetricsConfig(cfg)), nil
	case "kafka":
		k, err := sink.NewKafka(mapKafkaConfig(cfg))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, k)
		return k, nil
	default:
		return sink.Discard{}, nil
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the engines, the triggers, the HTTP API and the import
// watcher, then reports readiness to systemd.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.dispatch.Start(runCtx)
	a.trigger.Start(runCtx)

	if err := a.registerJobs(); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	if a.server != nil {
		a.server.Start(runCtx)
	}

	if path := strings.TrimSpace(a.cfg.Importer.Path); path != "" {
		rep, err := importer.ImportFile(runCtx, a.store, path, false)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		a.logImport(path, rep)
		if a.cfg.Importer.Watch {
			w := importer.NewWatcher(path, a.store, a.log.With(logx.String("comp", "importer")))
			a.sup.Go0("importer.watch", func(c context.Context) {
				if err := w.Watch(c); err != nil {
					a.log.Warn("import watch stopped", logx.Err(err))
				}
			})
		}
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.Bool("api", a.server != nil),
		logx.String("notifier", a.cfg.Notifier.Driver),
		logx.String("metrics", a.cfg.Metrics.Driver),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeAll()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Triggers first so nothing new is queued, then the engines drain.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("api", 5*time.Second, func(c context.Context) error {
		if a.server != nil {
			a.server.Stop(c)
		}
		return nil
	})
	step("trigger", 3*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("dispatch", 5*time.Second, func(c context.Context) error { a.dispatch.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.closeAll()
	return nil
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", logx.Err(err))
		}
	}
	a.closers = nil
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		a.log.Info("stopped")
		_ = a.logs.Close()
		a.logs = nil
	}
}

// Close releases resources of an app that was never started.
func (a *App) Close() { a.closeAll() }

// RunScan collects the due items of kind and dispatches them, waiting for
// every unit to settle.
func (a *App) RunScan(ctx context.Context, kind domain.Kind) error {
	units, err := a.checklist.Scan(ctx, kind, time.Now())
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return nil
	}

	results := a.dispatcher.Dispatch(ctx, units)
	failed := 0
	for _, r := range results {
		if r.Err != nil || !r.Outcome.IsSuccess() {
			failed++
		}
	}
	a.log.Info("scan dispatched",
		logx.String("kind", string(kind)),
		logx.Int("units", len(units)),
		logx.Int("failed", failed),
	)
	return ctx.Err()
}

// Sweep runs one retention pass.
func (a *App) Sweep(ctx context.Context) (int64, error) {
	return a.retention.Sweep(ctx)
}

// Import loads path into the store.
func (a *App) Import(ctx context.Context, path string, dryRun bool) (importer.Report, error) {
	rep, err := importer.ImportFile(ctx, a.store, path, dryRun)
	if err != nil {
		return rep, err
	}
	a.logImport(path, rep)
	return rep, nil
}

func (a *App) logImport(path string, rep importer.Report) {
	fields := []logx.Field{
		logx.String("path", path),
		logx.Bool("dry_run", rep.DryRun),
		logx.Int("targets_created", rep.TargetsCreated),
		logx.Int("targets_existing", rep.TargetsExisting),
		logx.Int("items_created", rep.ItemsCreated),
	}
	if err := rep.Err(); err != nil {
		a.log.Warn("import finished with failures", append(fields, logx.Err(err))...)
		return
	}
	a.log.Info("import finished", fields...)
}

var ErrUnknownAdminOp = fmt.Errorf("%w: unknown admin operation", domain.ErrValidation)

// Admin runs a bulk operation over item ids: toggle, reschedule or unescape.
func (a *App) Admin(ctx context.Context, op string, ids []int64) ([]checklist.BulkResult, error) {
	switch op {
	case "toggle":
		return a.checklist.ToggleActive(ctx, ids), nil
	case "reschedule":
		return a.checklist.RescheduleNow(ctx, ids), nil
	case "unescape":
		return a.checklist.Unescape(ctx, ids), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdminOp, op)
	}
}

// Events lists events created since the given time, newest first.
func (a *App) Events(ctx context.Context, since time.Time, limit int) ([]domain.CheckEvent, error) {
	return a.store.ListEvents(ctx, since, limit)
}

// IsUsageError reports whether err came from bad CLI input rather than
// the runtime.
func IsUsageError(err error) bool { return errors.Is(err, domain.ErrValidation) }

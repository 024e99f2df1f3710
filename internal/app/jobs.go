package app

import (
	"context"
	"fmt"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/scheduler"
	logx "dashpulse/pkg/logx"
)

// registerJobs adds one scan trigger per kind plus the retention sweep.
// Every job skips a fire while its previous run is still queued or running.
func (a *App) registerJobs() error {
	scans := []struct {
		kind     domain.Kind
		schedule string
	}{
		{domain.KindNotify, a.cfg.Scheduler.Scans.Notify},
		{domain.KindAudit, a.cfg.Scheduler.Scans.Audit},
		{domain.KindHTTP, a.cfg.Scheduler.Scans.HTTP},
	}
	opt := scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning}

	for _, s := range scans {
		spec := scanSchedule(s.schedule)
		name := "scan." + string(s.kind)
		if spec == "" {
			a.log.Info("scan disabled", logx.String("job", name))
			continue
		}
		kind := s.kind
		if _, err := a.sched.AddScheduleOpt(name, spec, 0, opt, func(ctx context.Context) error {
			return a.RunScan(ctx, kind)
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	if a.cfg.Retention.Enabled {
		if _, err := a.sched.AddScheduleOpt("events.retention", a.cfg.Retention.Schedule, 0, opt, func(ctx context.Context) error {
			_, err := a.Sweep(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("schedule events.retention: %w", err)
		}
	}
	return nil
}

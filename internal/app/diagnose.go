package app

import (
	"context"
	"strings"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/scheduler"
	logx "dashpulse/pkg/logx"
)

// Diagnosis is a point-in-time health report of a configured install.
type Diagnosis struct {
	StoreErr error

	Targets       int
	ActiveTargets int
	Items         []KindSummary
	Schedules     []scheduler.ScheduleInfo
	Events        []domain.CheckEvent

	Notifier NotifierStatus

	ExternalURL string
	Warnings    []string
}

type KindSummary struct {
	Kind    domain.Kind
	Active  int
	Due     int
	NextDue time.Time // earliest start_at among active items that are not due
}

type NotifierStatus struct {
	Driver string
	URL    string
	// Checked is false when the driver has no reachability check.
	Checked bool
	Err     error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type urlNotifier interface {
	URL() string
}

// Diagnose gathers counts, triggers, recent events and notifier
// reachability. It must run on an app that was never started: it registers
// the scan triggers to report them.
func (a *App) Diagnose(ctx context.Context, recent int) (Diagnosis, error) {
	d := Diagnosis{ExternalURL: strings.TrimSpace(a.cfg.Server.ExternalURL)}
	now := time.Now()

	if err := a.store.Ping(ctx); err != nil {
		d.StoreErr = err
		return d, err
	}

	targets, err := a.store.ListTargets(ctx)
	if err != nil {
		return d, err
	}
	d.Targets = len(targets)
	for _, t := range targets {
		if t.IsActive {
			d.ActiveTargets++
		}
	}

	for _, kind := range domain.Kinds() {
		items, err := a.store.ListActiveItems(ctx, kind)
		if err != nil {
			return d, err
		}
		ks := KindSummary{Kind: kind, Active: len(items)}
		for _, it := range items {
			if it.Due(now) {
				ks.Due++
				continue
			}
			if ks.NextDue.IsZero() || it.StartAt.Before(ks.NextDue) {
				ks.NextDue = it.StartAt
			}
		}
		d.Items = append(d.Items, ks)
	}

	if err := a.registerJobs(); err != nil {
		return d, err
	}
	d.Schedules = a.sched.Schedules()

	if recent > 0 {
		evs, err := a.store.ListEvents(ctx, time.Time{}, recent)
		if err != nil {
			return d, err
		}
		d.Events = evs
	}

	d.Notifier = a.checkNotifier(ctx)
	d.Warnings = a.settingsWarnings(d)

	a.log.Debug("diagnose finished",
		logx.Int("targets", d.Targets),
		logx.Int("schedules", len(d.Schedules)),
		logx.Bool("notifier_ok", d.Notifier.Err == nil),
	)
	return d, nil
}

func (a *App) checkNotifier(ctx context.Context) NotifierStatus {
	st := NotifierStatus{Driver: a.cfg.Notifier.Driver}
	if st.Driver == "" {
		st.Driver = "http"
	}
	if u, ok := a.notifier.(urlNotifier); ok {
		st.URL = u.URL()
	}
	if p, ok := a.notifier.(pinger); ok {
		st.Checked = true
		st.Err = p.Ping(ctx)
	}
	return st
}

func (a *App) settingsWarnings(d Diagnosis) []string {
	var out []string
	if d.ExternalURL == "" {
		out = append(out, "server.external_url is empty; resolve links cannot be built")
	} else if strings.Contains(d.ExternalURL, "localhost") {
		out = append(out, "server.external_url points at localhost; links will not open for reviewers")
	}
	if strings.Contains(d.Notifier.URL, "localhost") {
		out = append(out, "notifier url points at localhost; the bot must run on this host")
	}
	if d.Notifier.Err != nil {
		out = append(out, "notifier unreachable: "+d.Notifier.Err.Error())
	}
	return out
}

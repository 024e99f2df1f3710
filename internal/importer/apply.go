package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/schedule"
)

// Store is what Apply needs from storage.
type Store interface {
	UpsertTarget(ctx context.Context, t domain.Target) (domain.Target, bool, error)
	GetTargetByUID(ctx context.Context, uid string) (domain.Target, error)
	FindItem(ctx context.Context, targetID int64, kind domain.Kind) (domain.CheckItem, error)
	CreateItem(ctx context.Context, it domain.CheckItem) (domain.CheckItem, error)
}

type Failure struct {
	URL string
	Err error
}

// Report summarizes one Apply run. With DryRun the counters describe what
// would have been written.
type Report struct {
	DryRun          bool
	TargetsCreated  int
	TargetsExisting int
	ItemsCreated    int
	ItemsExisting   int
	Failures        []Failure
}

// Err joins the per-entry failures, nil when there were none.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.URL, f.Err))
	}
	return errors.Join(errs...)
}

// Apply creates the targets that do not exist yet, keyed by URL, and a check
// item for every entry with a schedule. Existing rows are left untouched.
// One bad entry does not stop the others.
func Apply(ctx context.Context, store Store, entries []Entry, dryRun bool) Report {
	rep := Report{DryRun: dryRun}
	now := time.Now().UTC()
	for _, e := range entries {
		if ctx.Err() != nil {
			rep.Failures = append(rep.Failures, Failure{URL: e.URL, Err: ctx.Err()})
			continue
		}
		if err := applyOne(ctx, store, e, dryRun, now, &rep); err != nil {
			rep.Failures = append(rep.Failures, Failure{URL: e.URL, Err: err})
		}
	}
	return rep
}

func applyOne(ctx context.Context, store Store, e Entry, dryRun bool, now time.Time, rep *Report) error {
	var spec domain.ScheduleSpec
	if e.Schedule != "" {
		s, err := schedule.ParseSpec(e.Schedule)
		if err != nil {
			return err
		}
		spec = s
	}

	var target domain.Target
	if dryRun {
		t, err := store.GetTargetByUID(ctx, e.URL)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			rep.TargetsCreated++
			if e.Schedule != "" {
				rep.ItemsCreated++
			}
			return nil
		case err != nil:
			return err
		}
		rep.TargetsExisting++
		target = t
	} else {
		t, created, err := store.UpsertTarget(ctx, domain.Target{
			UID:         e.URL,
			Name:        e.Name,
			URL:         e.URL,
			Description: e.Description,
			Headers:     e.Headers,
			Metadata:    e.Metadata,
			CheckWindow: e.CheckWindow,
			IsActive:    true,
		})
		if err != nil {
			return err
		}
		if created {
			rep.TargetsCreated++
		} else {
			rep.TargetsExisting++
		}
		target = t
	}

	if e.Schedule == "" {
		return nil
	}
	_, err := store.FindItem(ctx, target.ID, e.Kind)
	switch {
	case err == nil:
		rep.ItemsExisting++
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if dryRun {
		rep.ItemsCreated++
		return nil
	}
	if _, err := store.CreateItem(ctx, domain.CheckItem{
		Kind:        e.Kind,
		Target:      target,
		Description: e.Description,
		IsActive:    true,
		StartAt:     now,
		Schedule:    spec,
	}); err != nil {
		return err
	}
	rep.ItemsCreated++
	return nil
}

// ImportFile is Load followed by Apply.
func ImportFile(ctx context.Context, store Store, path string, dryRun bool) (Report, error) {
	entries, err := Load(path)
	if err != nil {
		return Report{DryRun: dryRun}, err
	}
	return Apply(ctx, store, entries, dryRun), nil
}

package checklist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/schedule"
	logx "dashpulse/pkg/logx"
)

// ErrClaimLost means another scanner advanced the item first.
var ErrClaimLost = errors.New("checklist: claim lost")

// ItemRepo is the storage the engine reads and advances.
type ItemRepo interface {
	ListActiveItems(ctx context.Context, kind domain.Kind) ([]domain.CheckItem, error)
	GetItem(ctx context.Context, id int64) (domain.CheckItem, error)
	UpdateStartAt(ctx context.Context, id int64, next time.Time) error
	ClaimStartAt(ctx context.Context, id int64, prev, next time.Time) (bool, error)
	SetItemActive(ctx context.Context, id int64, active bool) error
	UpdateItemDescription(ctx context.Context, id int64, description string) error
	UpdateTargetName(ctx context.Context, id int64, name string) error
}

// EventCreator opens a pending event for a due item.
type EventCreator interface {
	Create(ctx context.Context, item domain.CheckItem) (domain.CheckEvent, error)
}

type Config struct {
	// Claim turns the start_at write into a compare-and-set so two
	// scanners never dispatch the same item.
	Claim bool
}

type Engine struct {
	items  ItemRepo
	events EventCreator
	cfg    Config
	log    logx.Logger
	now    func() time.Time
}

func New(items ItemRepo, events EventCreator, cfg Config, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{items: items, events: events, cfg: cfg, log: log, now: time.Now}
}

// CollectDue returns the due items sorted by id. The input is not modified.
func CollectDue(items []domain.CheckItem, now time.Time) []domain.CheckItem {
	seen := make(map[int64]struct{}, len(items))
	out := make([]domain.CheckItem, 0, len(items))
	for _, it := range items {
		if !it.Due(now) {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Advance computes the next run and persists it. A configuration error is
// logged once and reported as ok=false with a nil error; storage is left
// untouched.
func (e *Engine) Advance(ctx context.Context, item domain.CheckItem, now time.Time) (time.Time, bool, error) {
	next, err := schedule.NextRun(item.Schedule, item.StartAt, now)
	if err != nil {
		if schedule.IsConfigError(err) {
			e.log.Warn("check item has no usable schedule",
				logx.Int64("item", item.ID),
				logx.String("kind", string(item.Kind)),
				logx.Int64("target", item.Target.ID),
				logx.Err(err),
			)
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	if e.cfg.Claim {
		won, err := e.items.ClaimStartAt(ctx, item.ID, item.StartAt, next)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("claim item %d: %w", item.ID, err)
		}
		if !won {
			return time.Time{}, false, ErrClaimLost
		}
		return next, true, nil
	}
	if err := e.items.UpdateStartAt(ctx, item.ID, next); err != nil {
		return time.Time{}, false, fmt.Errorf("advance item %d: %w", item.ID, err)
	}
	return next, true, nil
}

// Scan advances every due item of kind and opens an event for it. Per-item
// failures are logged and skipped; only a failed listing aborts.
func (e *Engine) Scan(ctx context.Context, kind domain.Kind, now time.Time) ([]domain.WorkUnit, error) {
	items, err := e.items.ListActiveItems(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", kind, err)
	}
	due := CollectDue(items, now)
	if len(due) == 0 {
		return nil, nil
	}

	log := e.log.With(logx.String("kind", string(kind)))
	units := make([]domain.WorkUnit, 0, len(due))
	for _, it := range due {
		if ctx.Err() != nil {
			return units, ctx.Err()
		}
		next, ok, err := e.Advance(ctx, it, now)
		switch {
		case errors.Is(err, ErrClaimLost):
			log.Debug("item claimed elsewhere", logx.Int64("item", it.ID))
			continue
		case err != nil:
			log.Error("advance failed", logx.Int64("item", it.ID), logx.Err(err))
			continue
		case !ok:
			continue
		}

		ev, err := e.events.Create(ctx, it)
		if err != nil {
			log.Error("event create failed", logx.Int64("item", it.ID), logx.Err(err))
			continue
		}
		it.StartAt = next
		units = append(units, domain.WorkUnit{Item: it, Event: ev})
	}
	log.Debug("scan done", logx.Int("due", len(due)), logx.Int("units", len(units)))
	return units, nil
}

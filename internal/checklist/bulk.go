package checklist

import (
	"context"

	"dashpulse/internal/domain"
	logx "dashpulse/pkg/logx"
	"dashpulse/pkg/tgui"
)

// BulkResult is the outcome of a bulk operation for one item.
type BulkResult struct {
	ID  int64
	Err error
}

// ToggleActive flips is_active on each item.
func (e *Engine) ToggleActive(ctx context.Context, ids []int64) []BulkResult {
	return e.bulk(ctx, "toggle", ids, func(it domain.CheckItem) error {
		return e.items.SetItemActive(ctx, it.ID, !it.IsActive)
	})
}

// RescheduleNow makes each item due immediately.
func (e *Engine) RescheduleNow(ctx context.Context, ids []int64) []BulkResult {
	now := e.now().UTC()
	return e.bulk(ctx, "reschedule", ids, func(it domain.CheckItem) error {
		return e.items.UpdateStartAt(ctx, it.ID, now)
	})
}

// Unescape strips MarkdownV2 escaping from the item description and its
// target name.
func (e *Engine) Unescape(ctx context.Context, ids []int64) []BulkResult {
	return e.bulk(ctx, "unescape", ids, func(it domain.CheckItem) error {
		if desc := tgui.Unescape(it.Description); desc != it.Description {
			if err := e.items.UpdateItemDescription(ctx, it.ID, desc); err != nil {
				return err
			}
		}
		if name := tgui.Unescape(it.Target.Name); name != it.Target.Name {
			return e.items.UpdateTargetName(ctx, it.Target.ID, name)
		}
		return nil
	})
}

func (e *Engine) bulk(ctx context.Context, op string, ids []int64, fn func(domain.CheckItem) error) []BulkResult {
	out := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		it, err := e.items.GetItem(ctx, id)
		if err == nil {
			err = fn(it)
		}
		if err != nil {
			e.log.Warn("bulk item failed", logx.String("op", op), logx.Int64("item", id), logx.Err(err))
		}
		out = append(out, BulkResult{ID: id, Err: err})
	}
	return out
}

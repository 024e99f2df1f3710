package sink

import (
	"context"

	"golang.org/x/time/rate"

	"dashpulse/internal/probe"
)

// NotificationItem is one dashboard review request.
type NotificationItem struct {
	EventUUID    string `json:"event_uuid"`
	DashboardUID string `json:"dashboard_uid"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	RealURL      string `json:"real_url"`
	FakeURL      string `json:"fake_url"`
	TimeForCheck int    `json:"time_for_check"`
}

// NotificationBatch is the body posted to the bot.
type NotificationBatch struct {
	Dashboards []NotificationItem `json:"dashboards"`
}

type Notifier interface {
	Notify(ctx context.Context, batch NotificationBatch) error
}

type MetricsSink interface {
	Deliver(ctx context.Context, report probe.MetricsReport) error
}

// newLimiter returns nil (unlimited) when perSec <= 0.
func newLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

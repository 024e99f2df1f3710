package sink

import (
	"context"

	"dashpulse/internal/probe"
)

// Discard drops every report. Used when no metrics driver is configured.
type Discard struct{}

func (Discard) Deliver(context.Context, probe.MetricsReport) error { return nil }

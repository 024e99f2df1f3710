package probe

import (
	"context"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/retry"
)

// DefaultPolicy is three attempts two seconds apart.
var DefaultPolicy = retry.Fixed(3, 2*time.Second)

type attemptFunc func(ctx context.Context) (domain.Outcome, error)

// runWithRetry retries attempt on transient failures and folds the last
// error into an Outcome.
func runWithRetry(ctx context.Context, p retry.Policy, target domain.Target, now func() time.Time, attempt attemptFunc) Result {
	if p.MaxAttempts <= 0 {
		p = DefaultPolicy
	}
	res := Result{StartedAt: now().UTC()}
	var out domain.Outcome
	n, err := retry.Do(ctx, p, retryable, func(ctx context.Context, _ int) error {
		o, err := attempt(ctx)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		out = outcomeOf(err)
	}
	res.Attempts = n
	res.Outcome = out
	res.FinishedAt = now().UTC()
	res.Report = NewReport(target, out, res.FinishedAt)
	return res
}

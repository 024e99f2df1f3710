package events

import (
	"context"
	"errors"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/retry"
	logx "dashpulse/pkg/logx"
)

const (
	DefaultMaxAge    = 180 * 24 * time.Hour
	DefaultBatchSize = 10000

	maxConsecutiveFailures = 3
)

// Deleter removes old events in bounded batches.
type Deleter interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type RetentionConfig struct {
	MaxAge    time.Duration
	BatchSize int
}

// Retention deletes events older than MaxAge.
type Retention struct {
	repo Deleter
	cfg  RetentionConfig
	now  func() time.Time
	log  logx.Logger
}

func NewRetention(repo Deleter, cfg RetentionConfig, log logx.Logger) *Retention {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retention{repo: repo, cfg: cfg, now: time.Now, log: log}
}

// Sweep deletes batch by batch until a batch removes nothing. Each batch is
// its own statement, so a later failure keeps earlier deletions.
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.cfg.MaxAge)
	var (
		total    int64
		failures int
		lastErr  error
	)
	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.repo.DeleteEventsBefore(ctx, cutoff, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			failures++
			lastErr = err
			r.log.Warn("retention batch failed",
				logx.Int("batch", batch),
				logx.Int("consecutive", failures),
				logx.Err(err),
			)
			if !sweepRetryable(err) || failures >= maxConsecutiveFailures {
				break
			}
			continue
		}
		failures = 0
		total += n
		if n == 0 {
			lastErr = nil
			break
		}
	}

	if lastErr != nil {
		r.log.Error("retention sweep aborted", logx.Int64("deleted", total), logx.Err(lastErr))
		return total, lastErr
	}
	r.log.Info("retention sweep done", logx.Int64("deleted", total), logx.Time("cutoff", cutoff))
	return total, nil
}

func sweepRetryable(err error) bool {
	if retry.IsNoRetry(err) {
		return false
	}
	return !errors.Is(err, domain.ErrPermanent) && !errors.Is(err, domain.ErrConfiguration)
}

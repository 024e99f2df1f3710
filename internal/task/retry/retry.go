// Package retry runs an operation with capped attempts and backoff.
//
// It backs both the probe runners (fixed 2s spacing, 3 attempts) and the
// task engine's per-task retries (exponential with jitter).
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	// MaxAttempts counts the first try. Values < 1 mean 1.
	MaxAttempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Multiplier grows Delay per retry. 0 or 1 gives fixed spacing.
	Multiplier float64
	// MaxDelay caps any single wait, including RetryAfter hints. 0 means no cap.
	MaxDelay time.Duration
	// Jitter spreads each wait by +/- this fraction (0.2 = 20%).
	Jitter float64
}

// Fixed returns a fixed-spacing policy.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// Exponential returns a doubling policy with 20% jitter.
func Exponential(attempts int, base, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: base, Multiplier: 2, MaxDelay: maxDelay, Jitter: 0.2}
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// ShouldRetry classifies an error. Do never retries NoRetry errors or
// context cancellation regardless of the classifier.
type ShouldRetry func(err error) bool

// Always retries every error not marked NoRetry.
func Always(error) bool { return true }

// Do runs fn until it succeeds, the policy is exhausted, the classifier
// refuses, or ctx ends. It returns the number of attempts made and the last
// error with any NoRetry marker removed.
func Do(ctx context.Context, p Policy, should ShouldRetry, fn Func) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if should == nil {
		should = Always
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if IsNoRetry(err) {
			return attempt, Unwrap(err)
		}
		if ctx.Err() != nil {
			return attempt, err
		}
		if attempt >= maxAttempts || !should(err) {
			break
		}

		wait := p.wait(attempt, err)
		if wait <= 0 {
			continue
		}
		tmr := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return attempt, err
		case <-tmr.C:
		}
	}
	return attempt, err
}

// wait returns the delay after the given failed attempt.
func (p Policy) wait(attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return p.capped(p.jittered(ra.RetryAfter()))
	}
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d > p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}
	return p.capped(p.jittered(d))
}

func (p Policy) capped(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	rngMu.Lock()
	r := (rng.Float64()*2 - 1) * p.Jitter
	rngMu.Unlock()
	return time.Duration(float64(d) * (1 + r))
}

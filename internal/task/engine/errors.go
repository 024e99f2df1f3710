package engine

import (
	"errors"

	"dashpulse/internal/task/retry"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
)

// NoRetry marks a task error as non-retryable. See retry.NoRetry.
func NoRetry(err error) error { return retry.NoRetry(err) }

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool { return retry.IsNoRetry(err) }

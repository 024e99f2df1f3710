package retry

import (
	"errors"
	"fmt"
	"time"
)

// permanent wraps an error that Do must return without another attempt.
type permanent struct{ err error }

func (p permanent) Error() string { return "no-retry: " + p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// NoRetry marks err as permanent: a 4xx response, an undecodable payload,
// a validation failure. nil stays nil.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

func IsNoRetry(err error) bool {
	return errors.As(err, new(permanent))
}

// Unwrap strips the outermost NoRetry marker.
func Unwrap(err error) error {
	var p permanent
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

// RetryAfterError carries a server-provided wait, such as a 429 Retry-After.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type hinted struct {
	err   error
	after time.Duration
}

func (h hinted) Error() string             { return fmt.Sprintf("retry after %s: %v", h.after, h.err) }
func (h hinted) Unwrap() error             { return h.err }
func (h hinted) RetryAfter() time.Duration { return h.after }

// RetryAfter attaches a wait hint to err. Policy.MaxDelay still caps it.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return hinted{err: err, after: max(after, 0)}
}

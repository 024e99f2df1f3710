package domain

import "errors"

// Error classes. Components wrap these with fmt.Errorf("%w: ...") so the
// boundary (HTTP API, CLI) can map failures with errors.Is.
var (
	// ErrConfiguration marks an unusable item or target (unset schedule,
	// missing URL). Logged and skipped, never fatal to a scan.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient marks an external failure that may succeed on retry.
	ErrTransient = errors.New("transient external error")
	// ErrPermanent marks an external failure that retrying will not fix.
	ErrPermanent = errors.New("permanent external error")
	// ErrNotFound marks an unknown event, item or target id.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input at a boundary.
	ErrValidation = errors.New("validation error")
)

package storage

import (
	"context"
	"fmt"
	"time"

	"dashpulse/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = fmt.Errorf("storage: %w", domain.ErrNotFound)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a libpq/pgx connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

type TargetStore interface {
	// UpsertTarget inserts t when its UID is unknown. An existing target is
	// returned unchanged with created=false.
	UpsertTarget(ctx context.Context, t domain.Target) (domain.Target, bool, error)
	GetTarget(ctx context.Context, id int64) (domain.Target, error)
	GetTargetByUID(ctx context.Context, uid string) (domain.Target, error)
	ListTargets(ctx context.Context) ([]domain.Target, error)
	UpdateTargetName(ctx context.Context, id int64, name string) error
}

type ItemStore interface {
	CreateItem(ctx context.Context, it domain.CheckItem) (domain.CheckItem, error)
	GetItem(ctx context.Context, id int64) (domain.CheckItem, error)
	FindItem(ctx context.Context, targetID int64, kind domain.Kind) (domain.CheckItem, error)
	// ListActiveItems returns active items of kind whose target is active too.
	ListActiveItems(ctx context.Context, kind domain.Kind) ([]domain.CheckItem, error)
	UpdateStartAt(ctx context.Context, id int64, next time.Time) error
	// ClaimStartAt moves start_at from prev to next only if it still equals
	// prev. It reports whether this caller won.
	ClaimStartAt(ctx context.Context, id int64, prev, next time.Time) (bool, error)
	SetItemActive(ctx context.Context, id int64, active bool) error
	UpdateItemDescription(ctx context.Context, id int64, description string) error
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev domain.CheckEvent) error
	GetEvent(ctx context.Context, id string) (domain.CheckEvent, error)
	// CompleteEvent writes the outcome only if none is recorded yet. It
	// reports whether the write applied.
	CompleteEvent(ctx context.Context, id string, o domain.Outcome, at time.Time) (bool, error)
	MarkReviewed(ctx context.Context, id string, noProblem bool, at time.Time) error
	// MarkSeen stamps the first visit only. It reports whether this call stamped.
	MarkSeen(ctx context.Context, id string, at time.Time) (bool, error)
	// DeleteEventsBefore removes at most limit events created before cutoff.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	// ListEvents returns events created at or after since, newest first.
	ListEvents(ctx context.Context, since time.Time, limit int) ([]domain.CheckEvent, error)
}

// Store is the full persistence API.
type Store interface {
	TargetStore
	ItemStore
	EventStore
	Ping(ctx context.Context) error
	Close() error
}

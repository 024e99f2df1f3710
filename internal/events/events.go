package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dashpulse/internal/domain"
	logx "dashpulse/pkg/logx"
)

// ErrAlreadyRecorded is returned when an outcome was already written.
var ErrAlreadyRecorded = fmt.Errorf("%w: outcome already recorded", domain.ErrValidation)

// Repo is the slice of storage the service needs.
type Repo interface {
	InsertEvent(ctx context.Context, ev domain.CheckEvent) error
	GetEvent(ctx context.Context, id string) (domain.CheckEvent, error)
	CompleteEvent(ctx context.Context, id string, o domain.Outcome, at time.Time) (bool, error)
	MarkReviewed(ctx context.Context, id string, noProblem bool, at time.Time) error
	MarkSeen(ctx context.Context, id string, at time.Time) (bool, error)
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	repo Repo
	now  func() time.Time
	log  logx.Logger
}

func New(repo Repo, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{repo: repo, now: time.Now, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewToken returns a fresh event token: 32 lowercase hex chars.
func NewToken() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")
}

// ParseID normalizes an event token. Both the bare hex and the dashed
// UUID forms are accepted.
func ParseID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty event id", domain.ErrValidation)
	}
	if len(raw) != 32 && len(raw) != 36 {
		return "", fmt.Errorf("%w: malformed event id %q", domain.ErrValidation, raw)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed event id %q", domain.ErrValidation, raw)
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}

// Create stores a pending event for item.
func (s *Service) Create(ctx context.Context, item domain.CheckItem) (domain.CheckEvent, error) {
	ev := domain.CheckEvent{
		ID:        NewToken(),
		Kind:      item.Kind,
		ItemID:    item.ID,
		Target:    item.Target,
		CreatedAt: s.now().UTC(),
		Outcome:   domain.Pending(),
		NoProblem: true,
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		return domain.CheckEvent{}, fmt.Errorf("create event for item %d: %w", item.ID, err)
	}
	return ev, nil
}

// RecordResult writes the final outcome once. A second call fails with
// ErrAlreadyRecorded and leaves the stored row alone.
func (s *Service) RecordResult(ctx context.Context, id string, o domain.Outcome) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}
	if o.IsPending() {
		return fmt.Errorf("%w: cannot record a pending outcome", domain.ErrValidation)
	}
	ok, err := s.repo.CompleteEvent(ctx, id, o, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyRecorded
	}
	return nil
}

// MarkReviewed stores reviewer feedback. hasProblem=true means the reviewer
// found a problem, so no_problem is stored inverted.
func (s *Service) MarkReviewed(ctx context.Context, id string, hasProblem bool) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}
	return s.repo.MarkReviewed(ctx, id, !hasProblem, s.now().UTC())
}

// ResolveRedirectTarget returns the target URL for an event and stamps the
// first visit. Later visits get the same URL and keep the first stamp.
func (s *Service) ResolveRedirectTarget(ctx context.Context, id string) (string, error) {
	id, err := ParseID(id)
	if err != nil {
		return "", err
	}
	ev, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(ev.Target.URL)
	if url == "" {
		return "", fmt.Errorf("%w: target %d has no url", domain.ErrConfiguration, ev.Target.ID)
	}
	if ev.Seen {
		return url, nil
	}
	first, err := s.repo.MarkSeen(ctx, id, s.now().UTC())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if first {
		s.log.Debug("event seen", logx.String("event", id), logx.Int64("target", ev.Target.ID))
	}
	return url, nil
}

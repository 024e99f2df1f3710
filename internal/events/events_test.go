package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dashpulse/internal/domain"
	logx "dashpulse/pkg/logx"
)

type memRepo struct {
	mu     sync.Mutex
	events map[string]domain.CheckEvent
	seen   int
}

func newMemRepo() *memRepo { return &memRepo{events: map[string]domain.CheckEvent{}} }

func (m *memRepo) InsertEvent(_ context.Context, ev domain.CheckEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
	return nil
}

func (m *memRepo) GetEvent(_ context.Context, id string) (domain.CheckEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return domain.CheckEvent{}, domain.ErrNotFound
	}
	return ev, nil
}

func (m *memRepo) CompleteEvent(_ context.Context, id string, o domain.Outcome, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if ev.CompletedAt != nil {
		return false, nil
	}
	ev.Outcome = o
	ev.CompletedAt = &at
	m.events[id] = ev
	return true, nil
}

func (m *memRepo) MarkReviewed(_ context.Context, id string, noProblem bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	ev.Reviewed, ev.NoProblem, ev.ReviewedAt = true, noProblem, &at
	m.events[id] = ev
	return nil
}

func (m *memRepo) MarkSeen(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if ev.Seen {
		return false, nil
	}
	m.seen++
	ev.Seen, ev.SeenAt = true, &at
	m.events[id] = ev
	return true, nil
}

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newService(repo Repo) *Service {
	return New(repo, logx.Nop(), WithClock(func() time.Time { return fixedNow }))
}

func TestParseID(t *testing.T) {
	t.Parallel()
	const hex = "0f8fad5bd9cb469fa16570867728950e"
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"hex", hex, hex, true},
		{"dashed", "0f8fad5b-d9cb-469f-a165-70867728950e", hex, true},
		{"upper", strings.ToUpper(hex), hex, true},
		{"empty", "", "", false},
		{"short", "abc", "", false},
		{"not hex", strings.Repeat("z", 32), "", false},
		{"urn", "urn:uuid:0f8fad5b-d9cb-469f-a165-70867728950e", "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseID(tc.in)
			if tc.ok {
				if err != nil || got != tc.want {
					t.Fatalf("ParseID(%q) = %q, %v", tc.in, got, err)
				}
				return
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("ParseID(%q) err = %v, want validation", tc.in, err)
			}
		})
	}
}

func TestNewTokenShape(t *testing.T) {
	t.Parallel()
	a, b := NewToken(), NewToken()
	if len(a) != 32 || a == b {
		t.Fatalf("tokens %q %q", a, b)
	}
	if _, err := ParseID(a); err != nil {
		t.Fatalf("token does not parse: %v", err)
	}
}

func TestCreateAndRecordOnce(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()

	ev, err := svc.Create(ctx, domain.CheckItem{ID: 7, Kind: domain.KindAudit, Target: domain.Target{ID: 3, URL: "https://x"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ev.Outcome.IsPending() || !ev.CreatedAt.Equal(fixedNow) || ev.ItemID != 7 {
		t.Fatalf("event = %+v", ev)
	}

	if err := svc.RecordResult(ctx, ev.ID, domain.Pending()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("pending err = %v", err)
	}
	if err := svc.RecordResult(ctx, ev.ID, domain.Success(json.RawMessage(`{"a":1}`))); err != nil {
		t.Fatalf("record: %v", err)
	}
	err = svc.RecordResult(ctx, ev.ID, domain.Failure(domain.ReasonTimeout, "late"))
	if !errors.Is(err, ErrAlreadyRecorded) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("second record err = %v", err)
	}
	stored, _ := repo.GetEvent(ctx, ev.ID)
	if !stored.Outcome.IsSuccess() {
		t.Fatalf("stored outcome changed: %+v", stored.Outcome)
	}
}

func TestMarkReviewedInvertsProblem(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()
	ev, _ := svc.Create(ctx, domain.CheckItem{ID: 1, Kind: domain.KindNotify, Target: domain.Target{ID: 1}})

	if err := svc.MarkReviewed(ctx, ev.ID, true); err != nil {
		t.Fatalf("review: %v", err)
	}
	got, _ := repo.GetEvent(ctx, ev.ID)
	if !got.Reviewed || got.NoProblem {
		t.Fatalf("problem=true must store no_problem=false, got %+v", got)
	}
	if err := svc.MarkReviewed(ctx, "bad", false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad id err = %v", err)
	}
}

func TestResolveStampsOnce(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()
	ev, _ := svc.Create(ctx, domain.CheckItem{ID: 1, Kind: domain.KindNotify, Target: domain.Target{ID: 1, URL: "https://dash/1"}})

	for i := 0; i < 2; i++ {
		url, err := svc.ResolveRedirectTarget(ctx, ev.ID)
		if err != nil || url != "https://dash/1" {
			t.Fatalf("resolve #%d = %q, %v", i, url, err)
		}
	}
	if repo.seen != 1 {
		t.Fatalf("seen stamped %d times", repo.seen)
	}

	if _, err := svc.ResolveRedirectTarget(ctx, NewToken()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown err = %v", err)
	}
	if _, err := svc.ResolveRedirectTarget(ctx, "nope"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("malformed err = %v", err)
	}

	noURL, _ := svc.Create(ctx, domain.CheckItem{ID: 2, Kind: domain.KindNotify, Target: domain.Target{ID: 2}})
	if _, err := svc.ResolveRedirectTarget(ctx, noURL.ID); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("empty url err = %v", err)
	}
	if got, _ := repo.GetEvent(ctx, noURL.ID); got.Seen {
		t.Fatalf("config error must not stamp")
	}
}

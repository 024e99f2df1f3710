package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dashpulse/internal/domain"
	logx "dashpulse/pkg/logx"
)

func openTest(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedTarget(t *testing.T, st Store, uid string) domain.Target {
	t.Helper()
	tg, created, err := st.UpsertTarget(context.Background(), domain.Target{
		UID:         uid,
		Name:        "site " + uid,
		URL:         "https://" + uid + ".example",
		Headers:     map[string]string{"X-Env": "test"},
		Metadata:    map[string]any{"chat": "ops"},
		CheckWindow: 15 * time.Minute,
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatalf("expected created")
	}
	return tg
}

func TestUpsertTargetKeepsExisting(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	first := seedTarget(t, st, "a1")
	again, created, err := st.UpsertTarget(ctx, domain.Target{UID: "a1", Name: "renamed", IsActive: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created {
		t.Fatalf("second upsert must not create")
	}
	if again.ID != first.ID || again.Name != "site a1" {
		t.Fatalf("got %+v, want existing row", again)
	}
	if again.Headers["X-Env"] != "test" || again.MetadataString("chat") != "ops" {
		t.Fatalf("json columns lost: %+v", again)
	}
	if again.CheckWindow != 15*time.Minute {
		t.Fatalf("check window = %v", again.CheckWindow)
	}

	if _, _, err := st.UpsertTarget(ctx, domain.Target{UID: "  "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank uid err = %v", err)
	}
	if _, err := st.GetTarget(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing target err = %v", err)
	}
}

func TestItemsRoundTripAndClaim(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	tg := seedTarget(t, st, "b1")

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cronItem, err := st.CreateItem(ctx, domain.CheckItem{
		Kind:     domain.KindAudit,
		Target:   tg,
		IsActive: true,
		StartAt:  start,
		Schedule: domain.ScheduleSpec{Cron: &domain.CronSpec{Minute: "0", Hour: "*/2", Timezone: "Europe/Berlin"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ivItem, err := st.CreateItem(ctx, domain.CheckItem{
		Kind:     domain.KindAudit,
		Target:   tg,
		IsActive: false,
		StartAt:  start,
		Schedule: domain.ScheduleSpec{Interval: &domain.IntervalSpec{Every: 5, Unit: domain.Minutes}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetItem(ctx, cronItem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Schedule.Cron == nil || got.Schedule.Cron.Hour != "*/2" || got.Schedule.Cron.Timezone != "Europe/Berlin" {
		t.Fatalf("cron lost: %+v", got.Schedule)
	}
	if got.Schedule.Interval != nil {
		t.Fatalf("unexpected interval")
	}
	if !got.StartAt.Equal(start) || got.Target.UID != "b1" {
		t.Fatalf("got %+v", got)
	}

	iv, err := st.GetItem(ctx, ivItem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if iv.Schedule.Interval == nil || iv.Schedule.Interval.Every != 5 || iv.Schedule.Interval.Unit != domain.Minutes {
		t.Fatalf("interval lost: %+v", iv.Schedule)
	}

	active, err := st.ListActiveItems(ctx, domain.KindAudit)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != cronItem.ID {
		t.Fatalf("active = %+v", active)
	}

	next := start.Add(2 * time.Hour)
	won, err := st.ClaimStartAt(ctx, cronItem.ID, start, next)
	if err != nil || !won {
		t.Fatalf("first claim = %v, %v", won, err)
	}
	won, err = st.ClaimStartAt(ctx, cronItem.ID, start, next.Add(time.Hour))
	if err != nil || won {
		t.Fatalf("second claim = %v, %v", won, err)
	}

	if err := st.SetItemActive(ctx, 12345, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing item err = %v", err)
	}
	if _, err := st.FindItem(ctx, tg.ID, domain.KindNotify); !errors.Is(err, ErrNotFound) {
		t.Fatalf("find err = %v", err)
	}
}

func TestEventLifecycle(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	tg := seedTarget(t, st, "c1")

	created := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	ev := domain.CheckEvent{
		ID:        "ev1",
		Kind:      domain.KindHTTP,
		Target:    tg,
		CreatedAt: created,
		Outcome:   domain.Pending(),
		Payload:   json.RawMessage(`{"k":1}`),
		NoProblem: true,
	}
	if err := st.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := st.GetEvent(ctx, "ev1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Outcome.IsPending() || got.CompletedAt != nil || string(got.Payload) != `{"k":1}` {
		t.Fatalf("got %+v", got)
	}

	at := created.Add(time.Minute)
	ok, err := st.CompleteEvent(ctx, "ev1", domain.Success(json.RawMessage(`{"p":0.9}`)), at)
	if err != nil || !ok {
		t.Fatalf("complete = %v, %v", ok, err)
	}
	ok, err = st.CompleteEvent(ctx, "ev1", domain.Failure(domain.ReasonTimeout, "late"), at)
	if err != nil || ok {
		t.Fatalf("second complete = %v, %v", ok, err)
	}
	if _, err := st.CompleteEvent(ctx, "nope", domain.Pending(), at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("complete missing err = %v", err)
	}

	got, _ = st.GetEvent(ctx, "ev1")
	if !got.Outcome.IsSuccess() || string(got.Outcome.Metrics) != `{"p":0.9}` {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
		t.Fatalf("completed_at = %v", got.CompletedAt)
	}

	if err := st.MarkReviewed(ctx, "ev1", false, at); err != nil {
		t.Fatalf("review: %v", err)
	}
	if err := st.MarkReviewed(ctx, "nope", true, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("review missing err = %v", err)
	}

	first, err := st.MarkSeen(ctx, "ev1", at)
	if err != nil || !first {
		t.Fatalf("seen = %v, %v", first, err)
	}
	first, err = st.MarkSeen(ctx, "ev1", at.Add(time.Hour))
	if err != nil || first {
		t.Fatalf("second seen = %v, %v", first, err)
	}

	got, _ = st.GetEvent(ctx, "ev1")
	if !got.Reviewed || got.NoProblem || !got.Seen || got.SeenAt == nil || !got.SeenAt.Equal(at) {
		t.Fatalf("flags = %+v", got)
	}
}

func TestDeleteEventsBefore(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	tg := seedTarget(t, st, "d1")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old1", "old2", "old3", "new1"} {
		created := base.Add(time.Duration(i) * time.Hour)
		if id == "new1" {
			created = base.AddDate(0, 1, 0)
		}
		if err := st.InsertEvent(ctx, domain.CheckEvent{ID: id, Kind: domain.KindNotify, Target: tg, CreatedAt: created, NoProblem: true}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	cutoff := base.AddDate(0, 0, 7)
	n, err := st.DeleteEventsBefore(ctx, cutoff, 2)
	if err != nil || n != 2 {
		t.Fatalf("batch 1 = %d, %v", n, err)
	}
	n, err = st.DeleteEventsBefore(ctx, cutoff, 2)
	if err != nil || n != 1 {
		t.Fatalf("batch 2 = %d, %v", n, err)
	}
	n, err = st.DeleteEventsBefore(ctx, cutoff, 2)
	if err != nil || n != 0 {
		t.Fatalf("batch 3 = %d, %v", n, err)
	}

	left, err := st.ListEvents(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].ID != "new1" {
		t.Fatalf("left = %+v", left)
	}
}

func TestRebindPostgres(t *testing.T) {
	t.Parallel()
	s := &sqlStore{dialect: dialectPostgres}
	if got := s.q("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("got %q", got)
	}
	s.dialect = dialectSQLite
	if got := s.q("a = ?"); got != "a = ?" {
		t.Fatalf("got %q", got)
	}
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"dashpulse/internal/domain"
)

const eventSelect = `SELECT e.id, e.kind, e.item_id, e.created_at, e.completed_at,
       e.status, e.reason, e.message, e.metrics, e.payload,
       e.reviewed, e.no_problem, e.reviewed_at, e.seen, e.seen_at,
       ` + targetColumns + `
  FROM check_events e
  JOIN targets t ON t.id = e.target_id`

func scanEvent(row scanner) (domain.CheckEvent, error) {
	var (
		ev                              domain.CheckEvent
		kind, status, reason            string
		itemID                          sql.NullInt64
		createdAt                       int64
		completedAt, reviewedAt, seenAt sql.NullInt64
		metrics, payload                sql.NullString
		headers, metadata               string
		windowMin                       int64
	)
	t := &ev.Target
	err := row.Scan(&ev.ID, &kind, &itemID, &createdAt, &completedAt,
		&status, &reason, &ev.Outcome.Message, &metrics, &payload,
		&ev.Reviewed, &ev.NoProblem, &reviewedAt, &ev.Seen, &seenAt,
		&t.ID, &t.UID, &t.Name, &t.URL, &t.Description, &headers, &metadata, &windowMin, &t.IsActive)
	if err != nil {
		return domain.CheckEvent{}, err
	}
	if err := decodeTargetJSON(t, headers, metadata, windowMin); err != nil {
		return domain.CheckEvent{}, err
	}
	ev.Kind = domain.Kind(kind)
	ev.ItemID = itemID.Int64
	ev.CreatedAt = fromMicros(createdAt)
	ev.CompletedAt = timePtr(completedAt)
	ev.ReviewedAt = timePtr(reviewedAt)
	ev.SeenAt = timePtr(seenAt)
	ev.Outcome.Status = domain.Status(status)
	ev.Outcome.Reason = domain.FailureReason(reason)
	if metrics.Valid {
		ev.Outcome.Metrics = json.RawMessage(metrics.String)
	}
	if payload.Valid {
		ev.Payload = json.RawMessage(payload.String)
	}
	return ev, nil
}

func (s *sqlStore) InsertEvent(ctx context.Context, ev domain.CheckEvent) error {
	status := ev.Outcome.Status
	if status == "" {
		status = domain.StatusPending
	}
	var itemID any
	if ev.ItemID != 0 {
		itemID = ev.ItemID
	}
	_, err := s.exec(ctx,
		`INSERT INTO check_events(id, kind, item_id, target_id, created_at, completed_at, status, reason, message, metrics, payload, reviewed, no_problem, seen)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, string(ev.Kind), itemID, ev.Target.ID, toMicros(ev.CreatedAt), nullMicros(ev.CompletedAt),
		string(status), string(ev.Outcome.Reason), ev.Outcome.Message, nullRaw(ev.Outcome.Metrics), nullRaw(ev.Payload),
		ev.Reviewed, ev.NoProblem, ev.Seen,
	)
	return err
}

func (s *sqlStore) GetEvent(ctx context.Context, id string) (domain.CheckEvent, error) {
	ev, err := scanEvent(s.queryRow(ctx, eventSelect+` WHERE e.id = ?`, id))
	return ev, notFound(err)
}

func (s *sqlStore) CompleteEvent(ctx context.Context, id string, o domain.Outcome, at time.Time) (bool, error) {
	ok, err := s.execCond(ctx,
		`UPDATE check_events SET completed_at = ?, status = ?, reason = ?, message = ?, metrics = ?
		 WHERE id = ? AND completed_at IS NULL`,
		toMicros(at), string(o.Status), string(o.Reason), o.Message, nullRaw(o.Metrics), id,
	)
	if err != nil || ok {
		return ok, err
	}
	return false, s.exists(ctx, id)
}

func (s *sqlStore) MarkReviewed(ctx context.Context, id string, noProblem bool, at time.Time) error {
	return s.execOne(ctx,
		`UPDATE check_events SET reviewed = ?, no_problem = ?, reviewed_at = ? WHERE id = ?`,
		true, noProblem, toMicros(at), id,
	)
}

func (s *sqlStore) MarkSeen(ctx context.Context, id string, at time.Time) (bool, error) {
	ok, err := s.execCond(ctx,
		`UPDATE check_events SET seen = ?, seen_at = ? WHERE id = ? AND NOT seen`,
		true, toMicros(at), id,
	)
	if err != nil || ok {
		return ok, err
	}
	return false, s.exists(ctx, id)
}

// exists distinguishes "condition not met" from "no such row".
func (s *sqlStore) exists(ctx context.Context, id string) error {
	var one int
	err := s.queryRow(ctx, `SELECT 1 FROM check_events WHERE id = ?`, id).Scan(&one)
	return notFound(err)
}

func (s *sqlStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 10000
	}
	res, err := s.exec(ctx,
		`DELETE FROM check_events WHERE id IN (
		   SELECT id FROM check_events WHERE created_at < ? ORDER BY created_at LIMIT ?)`,
		toMicros(cutoff), limit,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) ListEvents(ctx context.Context, since time.Time, limit int) ([]domain.CheckEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.query(ctx, eventSelect+` WHERE e.created_at >= ? ORDER BY e.created_at DESC LIMIT ?`, toMicros(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CheckEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

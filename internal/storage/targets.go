package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dashpulse/internal/domain"
)

const targetColumns = `t.id, t.uid, t.name, t.url, t.description, t.headers, t.metadata, t.check_window_min, t.is_active`

func scanTarget(row scanner, t *domain.Target) error {
	var headers, metadata string
	var windowMin int64
	if err := row.Scan(&t.ID, &t.UID, &t.Name, &t.URL, &t.Description, &headers, &metadata, &windowMin, &t.IsActive); err != nil {
		return err
	}
	return decodeTargetJSON(t, headers, metadata, windowMin)
}

func decodeTargetJSON(t *domain.Target, headers, metadata string, windowMin int64) error {
	t.Headers = map[string]string{}
	t.Metadata = map[string]any{}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &t.Headers); err != nil {
			return fmt.Errorf("target %d headers: %w", t.ID, err)
		}
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return fmt.Errorf("target %d metadata: %w", t.ID, err)
		}
	}
	t.CheckWindow = time.Duration(windowMin) * time.Minute
	return nil
}

func (s *sqlStore) UpsertTarget(ctx context.Context, t domain.Target) (domain.Target, bool, error) {
	t.UID = strings.TrimSpace(t.UID)
	if t.UID == "" {
		return domain.Target{}, false, fmt.Errorf("%w: target uid is required", domain.ErrValidation)
	}
	if t.Headers == nil {
		t.Headers = map[string]string{}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	headers, err := encodeJSON(t.Headers)
	if err != nil {
		return domain.Target{}, false, err
	}
	metadata, err := encodeJSON(t.Metadata)
	if err != nil {
		return domain.Target{}, false, err
	}

	var id int64
	err = s.queryRow(ctx,
		`INSERT INTO targets(uid, name, url, description, headers, metadata, check_window_min, is_active, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(uid) DO NOTHING
		 RETURNING id`,
		t.UID, t.Name, t.URL, t.Description, headers, metadata, t.CheckWindowMinutes(), t.IsActive, toMicros(time.Now()),
	).Scan(&id)
	switch {
	case err == nil:
		t.ID = id
		return t, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := s.GetTargetByUID(ctx, t.UID)
		return existing, false, err
	default:
		return domain.Target{}, false, err
	}
}

func (s *sqlStore) GetTarget(ctx context.Context, id int64) (domain.Target, error) {
	var t domain.Target
	err := scanTarget(s.queryRow(ctx, `SELECT `+targetColumns+` FROM targets t WHERE t.id = ?`, id), &t)
	return t, notFound(err)
}

func (s *sqlStore) GetTargetByUID(ctx context.Context, uid string) (domain.Target, error) {
	var t domain.Target
	err := scanTarget(s.queryRow(ctx, `SELECT `+targetColumns+` FROM targets t WHERE t.uid = ?`, uid), &t)
	return t, notFound(err)
}

func (s *sqlStore) ListTargets(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.query(ctx, `SELECT `+targetColumns+` FROM targets t ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		var t domain.Target
		if err := scanTarget(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateTargetName(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, `UPDATE targets SET name = ? WHERE id = ?`, name, id)
}

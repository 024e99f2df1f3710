package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dashpulse/internal/domain"
)

const itemSelect = `SELECT i.id, i.kind, i.description, i.is_active, i.start_at,
       i.interval_every, i.interval_unit,
       i.cron_minute, i.cron_hour, i.cron_dom, i.cron_month, i.cron_dow, i.cron_tz,
       ` + targetColumns + `
  FROM check_items i
  JOIN targets t ON t.id = i.target_id`

func scanItem(row scanner) (domain.CheckItem, error) {
	var (
		it                                 domain.CheckItem
		kind                               string
		startAt                            int64
		every                              sql.NullInt64
		unit                               sql.NullString
		cMin, cHour, cDom, cMon, cDow, cTZ sql.NullString
		headers, metadata                  string
		windowMin                          int64
	)
	t := &it.Target
	err := row.Scan(&it.ID, &kind, &it.Description, &it.IsActive, &startAt,
		&every, &unit,
		&cMin, &cHour, &cDom, &cMon, &cDow, &cTZ,
		&t.ID, &t.UID, &t.Name, &t.URL, &t.Description, &headers, &metadata, &windowMin, &t.IsActive)
	if err != nil {
		return domain.CheckItem{}, err
	}
	if err := decodeTargetJSON(t, headers, metadata, windowMin); err != nil {
		return domain.CheckItem{}, err
	}
	it.Kind = domain.Kind(kind)
	it.StartAt = fromMicros(startAt)
	if every.Valid {
		it.Schedule.Interval = &domain.IntervalSpec{Every: uint(every.Int64), Unit: domain.TimeUnit(unit.String)}
	}
	if cMin.Valid {
		it.Schedule.Cron = &domain.CronSpec{
			Minute:      cMin.String,
			Hour:        cHour.String,
			DayOfMonth:  cDom.String,
			MonthOfYear: cMon.String,
			DayOfWeek:   cDow.String,
			Timezone:    cTZ.String,
		}
	}
	return it, nil
}

func (s *sqlStore) CreateItem(ctx context.Context, it domain.CheckItem) (domain.CheckItem, error) {
	if it.Target.ID == 0 {
		return domain.CheckItem{}, fmt.Errorf("%w: item target is required", domain.ErrValidation)
	}
	if _, err := domain.ParseKind(string(it.Kind)); err != nil {
		return domain.CheckItem{}, err
	}

	var every, unit any
	if iv := it.Schedule.Interval; iv != nil {
		every, unit = int64(iv.Every), string(iv.Unit)
	}
	var cMin, cHour, cDom, cMon, cDow, cTZ any
	if cs := it.Schedule.Cron; cs != nil {
		cMin, cHour, cDom, cMon, cDow, cTZ = cs.Minute, cs.Hour, cs.DayOfMonth, cs.MonthOfYear, cs.DayOfWeek, cs.Timezone
	}

	err := s.queryRow(ctx,
		`INSERT INTO check_items(kind, target_id, description, is_active, start_at,
		   interval_every, interval_unit, cron_minute, cron_hour, cron_dom, cron_month, cron_dow, cron_tz)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 RETURNING id`,
		string(it.Kind), it.Target.ID, it.Description, it.IsActive, toMicros(it.StartAt),
		every, unit, cMin, cHour, cDom, cMon, cDow, cTZ,
	).Scan(&it.ID)
	if err != nil {
		return domain.CheckItem{}, err
	}
	it.StartAt = it.StartAt.UTC()
	return it, nil
}

func (s *sqlStore) GetItem(ctx context.Context, id int64) (domain.CheckItem, error) {
	it, err := scanItem(s.queryRow(ctx, itemSelect+` WHERE i.id = ?`, id))
	return it, notFound(err)
}

func (s *sqlStore) FindItem(ctx context.Context, targetID int64, kind domain.Kind) (domain.CheckItem, error) {
	it, err := scanItem(s.queryRow(ctx, itemSelect+` WHERE i.target_id = ? AND i.kind = ? ORDER BY i.id LIMIT 1`, targetID, string(kind)))
	return it, notFound(err)
}

func (s *sqlStore) ListActiveItems(ctx context.Context, kind domain.Kind) ([]domain.CheckItem, error) {
	rows, err := s.query(ctx, itemSelect+` WHERE i.kind = ? AND i.is_active AND t.is_active ORDER BY i.id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CheckItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateStartAt(ctx context.Context, id int64, next time.Time) error {
	return s.execOne(ctx, `UPDATE check_items SET start_at = ? WHERE id = ?`, toMicros(next), id)
}

func (s *sqlStore) ClaimStartAt(ctx context.Context, id int64, prev, next time.Time) (bool, error) {
	return s.execCond(ctx, `UPDATE check_items SET start_at = ? WHERE id = ? AND start_at = ?`, toMicros(next), id, toMicros(prev))
}

func (s *sqlStore) SetItemActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, `UPDATE check_items SET is_active = ? WHERE id = ?`, active, id)
}

func (s *sqlStore) UpdateItemDescription(ctx context.Context, id int64, description string) error {
	return s.execOne(ctx, `UPDATE check_items SET description = ? WHERE id = ?`, description, id)
}

package postgres

import (
	"context"
	"errors"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"

	"github.com/jackc/pgx/v5"
)

const resourceColumns = `ref, name, kind, weekdays, start_hour, end_hour, weekly_hours, timezone, is_active, same_day_allowed,
	min_notice_minutes, max_daily_bookings, default_duration_minutes, notify_chat_id, created_at, updated_at`

func scanResource(row pgx.Row) (*models.Resource, error) {
	var (
		r                           models.Resource
		kind, weekdays, weeklyHours string
	)
	err := row.Scan(
		&r.Ref, &r.Name, &kind, &weekdays, &r.Calendar.DailyStartHour, &r.Calendar.DailyEndHour,
		&weeklyHours, &r.Timezone, &r.IsActive, &r.SameDayAllowed, &r.MinNoticeMinutes, &r.MaxDailyBookings,
		&r.DefaultDurationMinutes, &r.NotifyChatID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Kind = models.ResourceKind(kind)
	if r.Calendar.AllowedWeekdays, err = models.ParseWeekdays(weekdays); err != nil {
		return nil, err
	}
	if r.Calendar.WeeklyHours, err = models.ParseWeeklyHours(weeklyHours); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetResource(ctx context.Context, ref string) (*models.Resource, error) {
	r, err := scanResource(s.q.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "get resource", "resource %s not found", ref)
	}
	if err != nil {
		return nil, mapError("get resource", err)
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context, activeOnly bool) ([]*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY ref`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, mapError("list resources", err)
	}
	defer rows.Close()

	var out []*models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, mapError("list resources", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list resources", err)
	}
	return out, nil
}

func (s *Store) UpsertResource(ctx context.Context, r *models.Resource) error {
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	weeklyHours, err := models.FormatWeeklyHours(r.Calendar.WeeklyHours)
	if err != nil {
		return domain.E(domain.KindInvalidInput, "upsert resource", err)
	}
	now := time.Now().UTC()
	_, err = s.q.Exec(ctx, `INSERT INTO resources (`+resourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (ref) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			weekdays = EXCLUDED.weekdays,
			start_hour = EXCLUDED.start_hour,
			end_hour = EXCLUDED.end_hour,
			weekly_hours = EXCLUDED.weekly_hours,
			timezone = EXCLUDED.timezone,
			is_active = EXCLUDED.is_active,
			same_day_allowed = EXCLUDED.same_day_allowed,
			min_notice_minutes = EXCLUDED.min_notice_minutes,
			max_daily_bookings = EXCLUDED.max_daily_bookings,
			default_duration_minutes = EXCLUDED.default_duration_minutes,
			notify_chat_id = EXCLUDED.notify_chat_id,
			updated_at = EXCLUDED.updated_at`,
		r.Ref, r.Name, string(r.Kind), models.FormatWeekdays(r.Calendar.AllowedWeekdays),
		r.Calendar.DailyStartHour, r.Calendar.DailyEndHour, weeklyHours, r.Timezone, r.IsActive, r.SameDayAllowed,
		r.MinNoticeMinutes, r.MaxDailyBookings, r.DefaultDurationMinutes, r.NotifyChatID, now,
	)
	if err != nil {
		return mapError("upsert resource", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return nil
}

func (s *Store) SetResourceActive(ctx context.Context, ref string, active bool) error {
	tag, err := s.q.Exec(ctx, `UPDATE resources SET is_active = $1, updated_at = now() WHERE ref = $2`, active, ref)
	if err != nil {
		return mapError("set resource active", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "set resource active", "resource %s not found", ref)
	}
	return nil
}

func (s *Store) CreateBlock(ctx context.Context, b *models.AvailabilityBlock) error {
	if b.Reason == "" {
		b.Reason = models.BlockOther
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	err := s.q.QueryRow(ctx, `INSERT INTO availability_blocks (resource_ref, start_at, end_at, reason, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		b.ResourceRef, b.Window.Start, b.Window.End, b.Reason, b.Notes, b.CreatedAt,
	).Scan(&b.ID)
	return mapError("create block", err)
}

func (s *Store) FindBlocks(ctx context.Context, resourceRef string, w models.Window) ([]*models.AvailabilityBlock, error) {
	return s.ListBlocks(ctx, resourceRef, w.Start, w.End)
}

// ListBlocks returns blocks intersecting [from, to). Zero bounds are open.
func (s *Store) ListBlocks(ctx context.Context, resourceRef string, from, to time.Time) ([]*models.AvailabilityBlock, error) {
	var fromArg, toArg any
	if !from.IsZero() {
		fromArg = from
	}
	if !to.IsZero() {
		toArg = to
	}
	rows, err := s.q.Query(ctx, `SELECT id, resource_ref, start_at, end_at, reason, notes, created_at
		FROM availability_blocks
		WHERE resource_ref = $1
		  AND ($2::timestamptz IS NULL OR start_at < $2)
		  AND ($3::timestamptz IS NULL OR end_at > $3)
		ORDER BY start_at`, resourceRef, toArg, fromArg)
	if err != nil {
		return nil, mapError("list blocks", err)
	}
	defer rows.Close()

	var out []*models.AvailabilityBlock
	for rows.Next() {
		var b models.AvailabilityBlock
		if err := rows.Scan(&b.ID, &b.ResourceRef, &b.Window.Start, &b.Window.End, &b.Reason, &b.Notes, &b.CreatedAt); err != nil {
			return nil, mapError("list blocks", err)
		}
		b.Window = b.Window.Normalize()
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list blocks", err)
	}
	return out, nil
}

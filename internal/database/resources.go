package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"
)

func (s *store) GetResource(ctx context.Context, ref string) (*models.Resource, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE ref = ?`, ref)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "get resource", "resource %s not found", ref)
	}
	if err != nil {
		return nil, domain.Storage("get resource", fmt.Errorf("failed to get resource: %w", err))
	}
	return r, nil
}

func (s *store) ListResources(ctx context.Context, activeOnly bool) ([]*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.Storage("list resources", fmt.Errorf("failed to list resources: %w", err))
	}
	defer rows.Close()

	var resources []*models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, domain.Storage("list resources", fmt.Errorf("failed to scan resource: %w", err))
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// UpsertResource inserts the resource or overwrites every editable field.
func (s *store) UpsertResource(ctx context.Context, r *models.Resource) error {
	now := time.Now().UTC().Truncate(time.Second)
	var sameDay sql.NullBool
	if r.SameDayAllowed != nil {
		sameDay = sql.NullBool{Bool: *r.SameDayAllowed, Valid: true}
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	weeklyHours, err := models.FormatWeeklyHours(r.Calendar.WeeklyHours)
	if err != nil {
		return domain.E(domain.KindInvalidInput, "upsert resource", err)
	}

	query := `INSERT INTO resources (` + resourceColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(ref) DO UPDATE SET
                name = excluded.name,
                kind = excluded.kind,
                weekdays = excluded.weekdays,
                start_hour = excluded.start_hour,
                end_hour = excluded.end_hour,
                weekly_hours = excluded.weekly_hours,
                timezone = excluded.timezone,
                is_active = excluded.is_active,
                same_day_allowed = excluded.same_day_allowed,
                min_notice_minutes = excluded.min_notice_minutes,
                max_daily_bookings = excluded.max_daily_bookings,
                default_duration_minutes = excluded.default_duration_minutes,
                notify_chat_id = excluded.notify_chat_id,
                updated_at = excluded.updated_at`
	_, err = s.q.ExecContext(ctx, query,
		r.Ref,
		r.Name,
		r.Kind,
		models.FormatWeekdays(r.Calendar.AllowedWeekdays),
		r.Calendar.DailyStartHour,
		r.Calendar.DailyEndHour,
		weeklyHours,
		r.Timezone,
		r.IsActive,
		sameDay,
		r.MinNoticeMinutes,
		r.MaxDailyBookings,
		r.DefaultDurationMinutes,
		r.NotifyChatID,
		unix(now),
		unix(now),
	)
	if err != nil {
		return domain.Storage("upsert resource", fmt.Errorf("failed to upsert resource: %w", err))
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return nil
}

func (s *store) SetResourceActive(ctx context.Context, ref string, active bool) error {
	result, err := s.q.ExecContext(ctx, `UPDATE resources SET is_active = ?, updated_at = ? WHERE ref = ?`,
		active, unix(time.Now()), ref)
	if err != nil {
		return domain.Storage("set resource active", fmt.Errorf("failed to update resource: %w", err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.Errorf(domain.KindNotFound, "set resource active", "resource %s not found", ref)
	}
	return nil
}

func (s *store) CreateBlock(ctx context.Context, b *models.AvailabilityBlock) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if b.Reason == "" {
		b.Reason = models.BlockOther
	}
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO availability_blocks (resource_ref, start_at, end_at, reason, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ResourceRef, unix(b.Window.Start), unix(b.Window.End), b.Reason, b.Notes, unix(b.CreatedAt))
	if err != nil {
		return domain.Storage("create block", fmt.Errorf("failed to create availability block: %w", err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.Storage("create block", fmt.Errorf("failed to get last insert id: %w", err))
	}
	b.ID = id
	return nil
}

// FindBlocks returns blocks on the resource overlapping w.
func (s *store) FindBlocks(ctx context.Context, resourceRef string, w models.Window) ([]*models.AvailabilityBlock, error) {
	return s.queryBlocks(ctx, resourceRef, w.Start, w.End)
}

// ListBlocks is FindBlocks with optional bounds.
func (s *store) ListBlocks(ctx context.Context, resourceRef string, from, to time.Time) ([]*models.AvailabilityBlock, error) {
	return s.queryBlocks(ctx, resourceRef, from, to)
}

func (s *store) queryBlocks(ctx context.Context, resourceRef string, from, to time.Time) ([]*models.AvailabilityBlock, error) {
	query := `SELECT id, resource_ref, start_at, end_at, reason, notes, created_at
              FROM availability_blocks WHERE resource_ref = ?`
	args := []interface{}{resourceRef}
	if !to.IsZero() {
		query += ` AND start_at < ?`
		args = append(args, unix(to))
	}
	if !from.IsZero() {
		query += ` AND end_at > ?`
		args = append(args, unix(from))
	}
	query += ` ORDER BY start_at ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage("list blocks", fmt.Errorf("failed to list availability blocks: %w", err))
	}
	defer rows.Close()

	var blocks []*models.AvailabilityBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, domain.Storage("list blocks", fmt.Errorf("failed to scan availability block: %w", err))
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

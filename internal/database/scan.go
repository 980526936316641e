package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"slotdesk/internal/models"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// store runs queries against either the pool or an open transaction.
type store struct {
	q queryer
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

const bookingColumns = `id, booking_reference, resource_ref, subject_ref, client_name, client_phone,
	client_email, start_at, end_at, status, notes, channel, reminder_sent_at, created_at, updated_at, version`

func scanBooking(r rowScanner) (*models.Booking, error) {
	var (
		b                models.Booking
		start, end       int64
		created, updated int64
		status           string
		reminderSentAt   sql.NullInt64
	)
	err := r.Scan(
		&b.ID, &b.BookingReference, &b.ResourceRef, &b.SubjectRef, &b.Client.Name, &b.Client.Phone,
		&b.Client.Email, &start, &end, &status, &b.Notes, &b.Channel, &reminderSentAt, &created, &updated, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Window = models.NewWindow(fromUnix(start), fromUnix(end))
	b.Status = models.Status(status)
	b.ReminderSentAt = fromNullUnix(reminderSentAt)
	b.CreatedAt = fromUnix(created)
	b.UpdatedAt = fromUnix(updated)
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()
	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

const resourceColumns = `ref, name, kind, weekdays, start_hour, end_hour, weekly_hours, timezone, is_active, same_day_allowed,
	min_notice_minutes, max_daily_bookings, default_duration_minutes, notify_chat_id, created_at, updated_at`

func scanResource(r rowScanner) (*models.Resource, error) {
	var (
		res              models.Resource
		kind, weekdays   string
		weeklyHours      string
		sameDay          sql.NullBool
		created, updated int64
	)
	err := r.Scan(
		&res.Ref, &res.Name, &kind, &weekdays, &res.Calendar.DailyStartHour, &res.Calendar.DailyEndHour,
		&weeklyHours, &res.Timezone, &res.IsActive, &sameDay, &res.MinNoticeMinutes, &res.MaxDailyBookings,
		&res.DefaultDurationMinutes, &res.NotifyChatID, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	res.Kind = models.ResourceKind(kind)
	if res.Calendar.AllowedWeekdays, err = models.ParseWeekdays(weekdays); err != nil {
		return nil, err
	}
	if res.Calendar.WeeklyHours, err = models.ParseWeeklyHours(weeklyHours); err != nil {
		return nil, err
	}
	if sameDay.Valid {
		v := sameDay.Bool
		res.SameDayAllowed = &v
	}
	res.CreatedAt = fromUnix(created)
	res.UpdatedAt = fromUnix(updated)
	return &res, nil
}

func scanBlock(r rowScanner) (*models.AvailabilityBlock, error) {
	var (
		b                   models.AvailabilityBlock
		start, end, created int64
	)
	if err := r.Scan(&b.ID, &b.ResourceRef, &start, &end, &b.Reason, &b.Notes, &created); err != nil {
		return nil, err
	}
	b.Window = models.NewWindow(fromUnix(start), fromUnix(end))
	b.CreatedAt = fromUnix(created)
	return &b, nil
}

func scanTask(r rowScanner) (models.NotificationTask, error) {
	var (
		t                    models.NotificationTask
		created              int64
		processed, nextRetry sql.NullInt64
		lastError            sql.NullString
	)
	err := r.Scan(&t.ID, &t.EventKind, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount, &lastError,
		&created, &processed, &nextRetry)
	if err != nil {
		return t, err
	}
	if lastError.Valid {
		s := lastError.String
		t.LastError = &s
	}
	t.CreatedAt = fromUnix(created)
	t.ProcessedAt = fromNullUnix(processed)
	t.NextRetryAt = fromNullUnix(nextRetry)
	return t, nil
}

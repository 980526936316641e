package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"
)

func (s *store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "get booking", "booking %s not found", id)
	}
	if err != nil {
		return nil, domain.Storage("get booking", fmt.Errorf("failed to get booking: %w", err))
	}
	return b, nil
}

// FindActiveBookings returns non-cancelled bookings on the resource overlapping w.
func (s *store) FindActiveBookings(ctx context.Context, resourceRef string, w models.Window) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE resource_ref = ? AND status <> ? AND start_at < ? AND end_at > ?
              ORDER BY start_at ASC`
	rows, err := s.q.QueryContext(ctx, query, resourceRef, models.StatusCancelled, unix(w.End), unix(w.Start))
	if err != nil {
		return nil, domain.Storage("find active bookings", fmt.Errorf("failed to find active bookings: %w", err))
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, domain.Storage("find active bookings", err)
	}
	return bookings, nil
}

// CountActiveBookings counts non-cancelled bookings starting in [from, to).
func (s *store) CountActiveBookings(ctx context.Context, resourceRef string, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM bookings
              WHERE resource_ref = ? AND status <> ? AND start_at >= ? AND start_at < ?`
	var count int
	err := s.q.QueryRowContext(ctx, query, resourceRef, models.StatusCancelled, unix(from), unix(to)).Scan(&count)
	if err != nil {
		return 0, domain.Storage("count bookings", fmt.Errorf("failed to count bookings: %w", err))
	}
	return count, nil
}

func (s *store) InsertBooking(ctx context.Context, b *models.Booking) error {
	if b.Version == 0 {
		b.Version = 1
	}
	query := `INSERT INTO bookings (` + bookingColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		b.ID,
		b.BookingReference,
		b.ResourceRef,
		b.SubjectRef,
		b.Client.Name,
		b.Client.Phone,
		b.Client.Email,
		unix(b.Window.Start),
		unix(b.Window.End),
		b.Status,
		b.Notes,
		b.Channel,
		nullUnix(b.ReminderSentAt),
		unix(b.CreatedAt),
		unix(b.UpdatedAt),
		b.Version,
	)
	if err != nil {
		return domain.Storage("insert booking", fmt.Errorf("failed to create booking: %w", err))
	}
	return nil
}

// UpdateBooking applies patch if the stored version still equals version.
func (s *store) UpdateBooking(ctx context.Context, id string, version int64, patch models.BookingPatch) (*models.Booking, error) {
	sets := []string{"version = version + 1"}
	var args []interface{}

	if patch.ResourceRef != nil {
		sets = append(sets, "resource_ref = ?")
		args = append(args, *patch.ResourceRef)
	}
	if patch.Window != nil {
		sets = append(sets, "start_at = ?", "end_at = ?")
		args = append(args, unix(patch.Window.Start), unix(patch.Window.End))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.ReminderSentAt != nil {
		sets = append(sets, "reminder_sent_at = ?")
		args = append(args, unix(*patch.ReminderSentAt))
	}
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, unix(updatedAt), id, version)

	query := `UPDATE bookings SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND version = ?`
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage("update booking", fmt.Errorf("failed to update booking: %w", err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, domain.Storage("update booking", err)
	}
	if rows == 0 {
		// distinguish a missing row from a lost race
		if _, err := s.GetBooking(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.Errorf(domain.KindConcurrentModification, "update booking", "booking %s changed since version %d", id, version)
	}
	return s.GetBooking(ctx, id)
}

func (s *store) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ResourceRef != "" {
		where = append(where, "resource_ref = ?")
		args = append(args, f.ResourceRef)
	}
	if !f.From.IsZero() {
		where = append(where, "end_at > ?")
		args = append(args, unix(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, unix(f.To))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_at ASC, created_at ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage("list bookings", fmt.Errorf("failed to list bookings: %w", err))
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, domain.Storage("list bookings", err)
	}
	return bookings, nil
}

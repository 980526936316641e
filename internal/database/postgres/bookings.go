package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"

	"github.com/jackc/pgx/v5"
)

const bookingColumns = `id, booking_reference, resource_ref, subject_ref, client_name, client_phone,
	client_email, start_at, end_at, status, notes, channel, reminder_sent_at, created_at, updated_at, version`

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var (
		b      models.Booking
		status string
	)
	err := row.Scan(
		&b.ID, &b.BookingReference, &b.ResourceRef, &b.SubjectRef, &b.Client.Name, &b.Client.Phone,
		&b.Client.Email, &b.Window.Start, &b.Window.End, &status, &b.Notes, &b.Channel, &b.ReminderSentAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.Status(status)
	b.Window = b.Window.Normalize()
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*models.Booking, error) {
	defer rows.Close()
	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(s.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "get booking", "booking %s not found", id)
	}
	if err != nil {
		return nil, mapError("get booking", err)
	}
	return b, nil
}

func (s *Store) FindActiveBookings(ctx context.Context, resourceRef string, w models.Window) ([]*models.Booking, error) {
	rows, err := s.q.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE resource_ref = $1 AND status <> 'cancelled' AND start_at < $2 AND end_at > $3
		ORDER BY start_at`, resourceRef, w.End, w.Start)
	if err != nil {
		return nil, mapError("find bookings", err)
	}
	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, mapError("find bookings", err)
	}
	return bookings, nil
}

func (s *Store) CountActiveBookings(ctx context.Context, resourceRef string, from, to time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM bookings
		WHERE resource_ref = $1 AND status <> 'cancelled' AND start_at >= $2 AND start_at < $3`,
		resourceRef, from, to).Scan(&n)
	if err != nil {
		return 0, mapError("count bookings", err)
	}
	return n, nil
}

func (s *Store) InsertBooking(ctx context.Context, b *models.Booking) error {
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := s.q.Exec(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		b.ID, b.BookingReference, b.ResourceRef, b.SubjectRef, b.Client.Name, b.Client.Phone,
		b.Client.Email, b.Window.Start, b.Window.End, string(b.Status), b.Notes, b.Channel, b.ReminderSentAt,
		b.CreatedAt, b.UpdatedAt, b.Version,
	)
	return mapError("insert booking", err)
}

// UpdateBooking applies patch if the stored version still equals version.
func (s *Store) UpdateBooking(ctx context.Context, id string, version int64, patch models.BookingPatch) (*models.Booking, error) {
	sets := []string{"version = version + 1"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.ResourceRef != nil {
		sets = append(sets, "resource_ref = "+arg(*patch.ResourceRef))
	}
	if patch.Window != nil {
		sets = append(sets, "start_at = "+arg(patch.Window.Start), "end_at = "+arg(patch.Window.End))
	}
	if patch.Status != nil {
		sets = append(sets, "status = "+arg(string(*patch.Status)))
	}
	if patch.ReminderSentAt != nil {
		sets = append(sets, "reminder_sent_at = "+arg(*patch.ReminderSentAt))
	}
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	sets = append(sets, "updated_at = "+arg(updatedAt))

	query := `UPDATE bookings SET ` + strings.Join(sets, ", ") +
		` WHERE id = ` + arg(id) + ` AND version = ` + arg(version) +
		` RETURNING ` + bookingColumns

	b, err := scanBooking(s.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// distinguish a missing row from a lost race
		if _, getErr := s.GetBooking(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.Errorf(domain.KindConcurrentModification, "update booking", "booking %s changed since version %d", id, version)
	}
	if err != nil {
		return nil, mapError("update booking", err)
	}
	return b, nil
}

func (s *Store) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ResourceRef != "" {
		where = append(where, "resource_ref = "+arg(f.ResourceRef))
	}
	if !f.From.IsZero() {
		where = append(where, "end_at > "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "start_at < "+arg(f.To))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_at, created_at`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list bookings", err)
	}
	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, mapError("list bookings", err)
	}
	return bookings, nil
}

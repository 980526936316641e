package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookingCols = []string{"id", "booking_reference", "resource_ref", "subject_ref", "client_name", "client_phone",
	"client_email", "start_at", "end_at", "status", "notes", "channel", "reminder_sent_at", "created_at", "updated_at", "version"}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, New(mock, nil)
}

func bookingRow(id string, version int64, status models.Status) *pgxmock.Rows {
	start := time.Date(2030, 1, 8, 10, 0, 0, 0, time.UTC)
	sent := start.Add(-24 * time.Hour)
	return pgxmock.NewRows(bookingCols).AddRow(
		id, "BK-20300107-1", "barber", "", "Anna", "+7", "",
		start, start.Add(30*time.Minute), string(status), "", "website", &sent,
		start.Add(-48*time.Hour), start.Add(-48*time.Hour), version,
	)
}

// anyArgs matches a statement with n bound arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func testBooking() *models.Booking {
	start := time.Date(2030, 1, 8, 10, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:               "b1",
		BookingReference: "BK-20300107-1",
		ResourceRef:      "barber",
		Client:           models.ClientInfo{Name: "Anna", Phone: "+7"},
		Window:           models.NewWindow(start, start.Add(30*time.Minute)),
		Status:           models.StatusPending,
		CreatedAt:        start,
		UpdatedAt:        start,
	}
}

func TestStore_GetBooking(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM bookings WHERE id").WithArgs("b1").WillReturnRows(bookingRow("b1", 2, models.StatusConfirmed))
	b, err := s.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, int64(2), b.Version)
	assert.Equal(t, 30, b.Window.DurationMinutes())
	require.NotNil(t, b.ReminderSentAt)

	mock.ExpectQuery("FROM bookings WHERE id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	_, err = s.GetBooking(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectQuery("FROM bookings WHERE id").WithArgs("b2").WillReturnError(errors.New("conn reset"))
	_, err = s.GetBooking(ctx, "b2")
	assert.ErrorIs(t, err, domain.ErrStorageFailure)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_ExclusionViolation(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bookings").WithArgs(anyArgs(16)...).
		WillReturnError(&pgconn.PgError{Code: codeExclusionViolation, ConstraintName: "bookings_no_overlap"})
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx domain.BookingStore) error {
		return tx.InsertBooking(ctx, testBooking())
	})
	assert.ErrorIs(t, err, domain.ErrSlotConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_Commit(t *testing.T) {
	mock, s := newMock(t)
	b := testBooking()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WithArgs("barber", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO bookings").WithArgs(anyArgs(16)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx domain.BookingStore) error {
		n, err := tx.CountActiveBookings(ctx, "barber", b.Window.Start, b.Window.End)
		if err != nil {
			return err
		}
		if n != 0 {
			return errors.New("unexpected count")
		}
		return tx.InsertBooking(ctx, b)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_BeginFails(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

	err := s.InTx(context.Background(), func(ctx context.Context, tx domain.BookingStore) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
}

func TestStore_UpdateBooking(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()
	st := models.StatusConfirmed

	mock.ExpectQuery("UPDATE bookings SET version = version \\+ 1, status = \\$1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
		WithArgs("confirmed", pgxmock.AnyArg(), "b1", int64(1)).
		WillReturnRows(bookingRow("b1", 2, models.StatusConfirmed))
	b, err := s.UpdateBooking(ctx, "b1", 1, models.BookingPatch{Status: &st})
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Version)

	// stale version
	mock.ExpectQuery("UPDATE bookings").WithArgs("confirmed", pgxmock.AnyArg(), "b1", int64(1)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM bookings WHERE id").WithArgs("b1").WillReturnRows(bookingRow("b1", 2, models.StatusConfirmed))
	_, err = s.UpdateBooking(ctx, "b1", 1, models.BookingPatch{Status: &st})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	// missing row
	mock.ExpectQuery("UPDATE bookings").WithArgs("confirmed", pgxmock.AnyArg(), "b9", int64(1)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM bookings WHERE id").WithArgs("b9").WillReturnError(pgx.ErrNoRows)
	_, err = s.UpdateBooking(ctx, "b9", 1, models.BookingPatch{Status: &st})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// moving into an occupied window
	w := models.NewWindow(time.Date(2030, 1, 8, 11, 0, 0, 0, time.UTC), time.Date(2030, 1, 8, 12, 0, 0, 0, time.UTC))
	mock.ExpectQuery("UPDATE bookings SET version = version \\+ 1, start_at = \\$1, end_at = \\$2").
		WithArgs(w.Start, w.End, pgxmock.AnyArg(), "b1", int64(2)).
		WillReturnError(&pgconn.PgError{Code: codeExclusionViolation})
	_, err = s.UpdateBooking(ctx, "b1", 2, models.BookingPatch{Window: &w})
	assert.ErrorIs(t, err, domain.ErrSlotConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListBookings(t *testing.T) {
	mock, s := newMock(t)
	from := time.Date(2030, 1, 8, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM bookings\\s+WHERE resource_ref = \\$1 AND end_at > \\$2 AND status = ANY\\(\\$3\\) ORDER BY start_at").
		WithArgs("barber", from, []string{"pending", "confirmed"}).
		WillReturnRows(bookingRow("b1", 1, models.StatusPending))

	bookings, err := s.ListBookings(context.Background(), models.BookingFilter{
		ResourceRef: "barber",
		From:        from,
		Statuses:    []models.Status{models.StatusPending, models.StatusConfirmed},
	})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "b1", bookings[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindActiveBookings(t *testing.T) {
	mock, s := newMock(t)
	w := testBooking().Window

	mock.ExpectQuery("status <> 'cancelled' AND start_at < \\$2 AND end_at > \\$3").
		WithArgs("barber", w.End, w.Start).
		WillReturnRows(bookingRow("b1", 1, models.StatusPending))

	bookings, err := s.FindActiveBookings(context.Background(), "barber", w)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestStore_Resources(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	r := &models.Resource{Ref: "barber", Name: "Barber", Kind: models.ResourceService, Calendar: models.DefaultCalendar(), IsActive: true}
	mock.ExpectExec("INSERT INTO resources").
		WithArgs("barber", "Barber", "service", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "", "UTC", true, pgxmock.AnyArg(), 0, 0, 0, int64(0), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.UpsertResource(ctx, r))
	assert.Equal(t, "UTC", r.Timezone)
	assert.False(t, r.CreatedAt.IsZero())

	mock.ExpectExec("UPDATE resources SET is_active").WithArgs(false, "barber").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, s.SetResourceActive(ctx, "barber", false))

	mock.ExpectExec("UPDATE resources SET is_active").WithArgs(true, "ghost").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, s.SetResourceActive(ctx, "ghost", true), domain.ErrNotFound)

	created := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM resources WHERE ref").WithArgs("barber").
		WillReturnRows(pgxmock.NewRows([]string{"ref", "name", "kind", "weekdays", "start_hour", "end_hour", "weekly_hours",
			"timezone", "is_active", "same_day_allowed", "min_notice_minutes", "max_daily_bookings",
			"default_duration_minutes", "notify_chat_id", "created_at", "updated_at"}).
			AddRow("barber", "Barber", "service", "1,2,3,4,5", 9, 18, `{"saturday":null,"friday":{"start":"10:00","end":"14:30"}}`,
				"UTC", true, nil, 0, 0, 30, int64(0), created, created))
	got, err := s.GetResource(ctx, "barber")
	require.NoError(t, err)
	assert.Len(t, got.Calendar.AllowedWeekdays, 5)
	require.Contains(t, got.Calendar.WeeklyHours, "saturday")
	assert.Nil(t, got.Calendar.WeeklyHours["saturday"])
	assert.Equal(t, "14:30", got.Calendar.WeeklyHours["friday"].End)

	mock.ExpectQuery("FROM resources WHERE ref").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	_, err = s.GetResource(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateBlock(t *testing.T) {
	mock, s := newMock(t)
	b := &models.AvailabilityBlock{ResourceRef: "barber", Window: testBooking().Window}

	mock.ExpectQuery("INSERT INTO availability_blocks").
		WithArgs("barber", b.Window.Start, b.Window.End, models.BlockOther, "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, s.CreateBlock(context.Background(), b))
	assert.Equal(t, int64(7), b.ID)
	assert.Equal(t, models.BlockOther, b.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NotificationQueue(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()
	created := time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC)

	task := &models.NotificationTask{EventKind: "booking_created", BookingID: "b1", Payload: "{}"}
	mock.ExpectQuery("INSERT INTO notification_queue").
		WithArgs("booking_created", "b1", "{}", models.TaskPending, 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), created))
	require.NoError(t, s.CreateNotificationTask(ctx, task))
	assert.Equal(t, int64(3), task.ID)
	assert.Equal(t, models.TaskPending, task.Status)

	next := created.Add(time.Minute)
	mock.ExpectExec("retry_count = retry_count \\+ 1").
		WithArgs(models.TaskRetry, pgxmock.AnyArg(), &next, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateNotificationTaskStatus(ctx, 3, models.TaskRetry, "boom", &next))

	mock.ExpectExec("processed_at = now\\(\\)").
		WithArgs(models.TaskCompleted, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateNotificationTaskStatus(ctx, 3, models.TaskCompleted, "", nil))

	mock.ExpectQuery("SELECT .* FROM notification_queue WHERE id").WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)
	_, err := s.GetNotificationTask(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Migrate(t *testing.T) {
	mock, s := newMock(t)
	for range schema {
		mock.ExpectExec(".+").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("CREATE EXTENSION").WillReturnError(errors.New("permission denied"))
	assert.Error(t, s.Migrate(context.Background()))
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("op", nil))
	assert.ErrorIs(t, mapError("op", &pgconn.PgError{Code: codeUniqueViolation}), domain.ErrInvalidInput)
	assert.ErrorIs(t, mapError("op", &pgconn.PgError{Code: "40001"}), domain.ErrStorageFailure)
}

package database

import (
	"context"
	"testing"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := newBooking("agent-1", monday(10, 0), 30)
	b.SubjectRef = "property-7"
	b.Client.Email = "a@example.com"
	b.Notes = "gate code 42"
	b.Channel = models.ChannelTelegram
	require.NoError(t, db.InsertBooking(ctx, b))
	assert.Equal(t, int64(1), b.Version)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.BookingReference, got.BookingReference)
	assert.Equal(t, "property-7", got.SubjectRef)
	assert.Equal(t, b.Client, got.Client)
	assert.True(t, got.Window.Start.Equal(b.Window.Start))
	assert.True(t, got.Window.End.Equal(b.Window.End))
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "gate code 42", got.Notes)
	assert.Equal(t, models.ChannelTelegram, got.Channel)
	assert.Nil(t, got.ReminderSentAt)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindActiveBookings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	a := newBooking("r1", monday(10, 0), 30)
	cancelled := newBooking("r1", monday(10, 0), 30)
	cancelled.Status = models.StatusCancelled
	completed := newBooking("r1", monday(12, 0), 60)
	completed.Status = models.StatusCompleted
	other := newBooking("r2", monday(10, 0), 30)
	for _, b := range []*models.Booking{a, cancelled, completed, other} {
		require.NoError(t, db.InsertBooking(ctx, b))
	}

	t.Run("OverlapFound", func(t *testing.T) {
		found, err := db.FindActiveBookings(ctx, "r1", models.NewWindow(monday(10, 15), monday(10, 45)))
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, a.ID, found[0].ID)
	})

	t.Run("BackToBackIsFree", func(t *testing.T) {
		found, err := db.FindActiveBookings(ctx, "r1", models.NewWindow(monday(10, 30), monday(11, 0)))
		require.NoError(t, err)
		assert.Empty(t, found)

		found, err = db.FindActiveBookings(ctx, "r1", models.NewWindow(monday(9, 30), monday(10, 0)))
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("CompletedStillBlocks", func(t *testing.T) {
		found, err := db.FindActiveBookings(ctx, "r1", models.NewWindow(monday(12, 30), monday(13, 30)))
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, completed.ID, found[0].ID)
	})
}

func TestCountActiveBookings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertBooking(ctx, newBooking("r1", monday(9, 0), 30)))
	require.NoError(t, db.InsertBooking(ctx, newBooking("r1", monday(15, 0), 30)))
	c := newBooking("r1", monday(16, 0), 30)
	c.Status = models.StatusCancelled
	require.NoError(t, db.InsertBooking(ctx, c))
	require.NoError(t, db.InsertBooking(ctx, newBooking("r1", monday(9, 0).AddDate(0, 0, 1), 30)))

	n, err := db.CountActiveBookings(ctx, "r1", monday(0, 0), monday(0, 0).AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpdateBooking(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := newBooking("r1", monday(10, 0), 30)
	require.NoError(t, db.InsertBooking(ctx, b))

	status := models.StatusConfirmed
	newWindow := models.NewWindow(monday(14, 0), monday(14, 30))
	ref := "r2"
	sentAt := monday(9, 0)
	updatedAt := monday(8, 0)

	updated, err := db.UpdateBooking(ctx, b.ID, 1, models.BookingPatch{
		Status:         &status,
		Window:         &newWindow,
		ResourceRef:    &ref,
		ReminderSentAt: &sentAt,
		UpdatedAt:      updatedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, "r2", updated.ResourceRef)
	assert.True(t, updated.Window.Start.Equal(newWindow.Start))
	require.NotNil(t, updated.ReminderSentAt)
	assert.True(t, updated.ReminderSentAt.Equal(sentAt))
	assert.True(t, updated.UpdatedAt.Equal(updatedAt))
	assert.Equal(t, int64(2), updated.Version)

	t.Run("StaleVersion", func(t *testing.T) {
		_, err := db.UpdateBooking(ctx, b.ID, 1, models.BookingPatch{Status: &status})
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := db.UpdateBooking(ctx, "nope", 1, models.BookingPatch{Status: &status})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestListBookings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	early := newBooking("r1", monday(9, 0), 30)
	late := newBooking("r1", monday(15, 0), 30)
	late.Status = models.StatusConfirmed
	otherDay := newBooking("r1", monday(9, 0).AddDate(0, 0, 2), 30)
	otherRes := newBooking("r2", monday(9, 0), 30)
	for _, b := range []*models.Booking{late, early, otherDay, otherRes} {
		require.NoError(t, db.InsertBooking(ctx, b))
	}

	all, err := db.ListBookings(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byResource, err := db.ListBookings(ctx, models.BookingFilter{ResourceRef: "r1"})
	require.NoError(t, err)
	require.Len(t, byResource, 3)
	assert.Equal(t, early.ID, byResource[0].ID, "ordered by start")

	day, err := db.ListBookings(ctx, models.BookingFilter{
		ResourceRef: "r1",
		From:        monday(0, 0),
		To:          monday(0, 0).Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, day, 2)

	confirmed, err := db.ListBookings(ctx, models.BookingFilter{Statuses: []models.Status{models.StatusConfirmed}})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, late.ID, confirmed[0].ID)
}

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

func TestNotificationQueue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	task := &models.NotificationTask{
		EventKind: "booking_created",
		BookingID: "b-100",
		Payload:   `{"test": true}`,
	}

	require.NoError(t, db.CreateNotificationTask(ctx, task))
	assert.Equal(t, models.TaskPending, task.Status)

	tasks, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b-100", tasks[0].BookingID)

	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, tasks[0].ID, models.TaskCompleted, "", nil))

	tasks, _ = db.GetPendingNotificationTasks(ctx, 10)
	assert.Len(t, tasks, 0)

	done, err := db.GetNotificationTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, done.Status)
	assert.NotNil(t, done.ProcessedAt)

	_, err = db.GetNotificationTask(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t.Run("Failed", func(t *testing.T) {
		errMsg := "some error"
		require.NoError(t, db.CreateNotificationTask(ctx, &models.NotificationTask{
			EventKind: "test", BookingID: "b-101", Status: models.TaskFailed, LastError: &errMsg,
		}))
		failed, err := db.GetFailedNotificationTasks(ctx)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "some error", *failed[0].LastError)
	})

	t.Run("Retry", func(t *testing.T) {
		task2 := &models.NotificationTask{EventKind: "retry_test", BookingID: "b-102"}
		require.NoError(t, db.CreateNotificationTask(ctx, task2))

		nextRetry := time.Now().Add(time.Hour)
		require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task2.ID, models.TaskRetry, "temporary error", &nextRetry))

		tasks, _ := db.GetPendingNotificationTasks(ctx, 10)
		for _, tk := range tasks {
			assert.NotEqual(t, task2.ID, tk.ID, "task with future retry should not be pending")
		}

		pastRetry := time.Now().Add(-time.Hour)
		require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task2.ID, models.TaskRetry, "temporary error", &pastRetry))
		tasks, _ = db.GetPendingNotificationTasks(ctx, 10)
		found := false
		for _, tk := range tasks {
			if tk.ID == task2.ID {
				found = true
				assert.Equal(t, 2, tk.RetryCount)
				require.NotNil(t, tk.LastError)
				assert.Equal(t, "temporary error", *tk.LastError)
			}
		}
		assert.True(t, found)
	})
}

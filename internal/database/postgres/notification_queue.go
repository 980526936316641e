package postgres

import (
	"context"
	"errors"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"

	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, event_kind, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func scanTask(row pgx.Row) (models.NotificationTask, error) {
	var t models.NotificationTask
	err := row.Scan(&t.ID, &t.EventKind, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError,
		&t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt)
	return t, err
}

func (s *Store) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	err := s.q.QueryRow(ctx, `INSERT INTO notification_queue (event_kind, booking_id, payload, status, retry_count, last_error, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		task.EventKind, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, task.NextRetryAt,
	).Scan(&task.ID, &task.CreatedAt)
	return mapError("create notification task", err)
}

func (s *Store) GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error) {
	t, err := scanTask(s.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM notification_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "get notification task", "task %d not found", id)
	}
	if err != nil {
		return nil, mapError("get notification task", err)
	}
	return &t, nil
}

// GetPendingNotificationTasks returns pending and due retry tasks, oldest first.
func (s *Store) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	rows, err := s.q.Query(ctx, `SELECT `+taskColumns+` FROM notification_queue
		WHERE status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at, id LIMIT $3`, models.TaskPending, models.TaskRetry, limit)
	if err != nil {
		return nil, mapError("pending notification tasks", err)
	}
	defer rows.Close()

	var out []models.NotificationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, mapError("pending notification tasks", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("pending notification tasks", err)
	}
	return out, nil
}

func (s *Store) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}

	var query string
	switch status {
	case models.TaskRetry:
		query = `UPDATE notification_queue SET status = $1, last_error = $2, next_retry_at = $3, retry_count = retry_count + 1 WHERE id = $4`
	case models.TaskCompleted, models.TaskFailed:
		query = `UPDATE notification_queue SET status = $1, last_error = $2, next_retry_at = $3, processed_at = now() WHERE id = $4`
	default:
		query = `UPDATE notification_queue SET status = $1, last_error = $2, next_retry_at = $3 WHERE id = $4`
	}
	_, err := s.q.Exec(ctx, query, status, lastErr, nextRetryAt, id)
	return mapError("update notification task", err)
}

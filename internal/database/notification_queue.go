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

const taskColumns = `id, event_kind, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (s *store) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	now := time.Now().UTC().Truncate(time.Second)
	query := `INSERT INTO notification_queue (event_kind, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.q.ExecContext(ctx, query,
		task.EventKind,
		task.BookingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		unix(now),
		nullUnix(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (s *store) GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM notification_queue WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "get notification task", "task %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification task: %w", err)
	}
	return &t, nil
}

// GetPendingNotificationTasks returns pending and due retry tasks, oldest first.
func (s *store) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	query := `SELECT ` + taskColumns + `
              FROM notification_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := s.q.QueryContext(ctx, query, models.TaskPending, models.TaskRetry, unix(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notification tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *store) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_queue WHERE status = ? ORDER BY created_at DESC, id DESC`
	rows, err := s.q.QueryContext(ctx, query, models.TaskFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed notification tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *store) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	var lastErr sql.NullString
	if errMsg != "" {
		lastErr = sql.NullString{String: errMsg, Valid: true}
	}

	switch status {
	case models.TaskRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, nullUnix(nextRetryAt), id}
	case models.TaskCompleted, models.TaskFailed:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nullUnix(nextRetryAt), unix(now), id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nullUnix(nextRetryAt), id}
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]models.NotificationTask, error) {
	defer rows.Close()
	var tasks []models.NotificationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

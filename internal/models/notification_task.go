package models

import "time"

const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskRetry      = "retry"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// NotificationTask is an outbox row for a booking notification.
type NotificationTask struct {
	ID          int64      `json:"id"`
	EventKind   string     `json:"event_kind"`
	BookingID   string     `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

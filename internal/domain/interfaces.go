package domain

import (
	"context"
	"time"

	"slotdesk/internal/models"
)

// BookingStore is the storage surface the scheduler works against.
// Inside Repository.InTx every call runs on the same transaction.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetResource(ctx context.Context, ref string) (*models.Resource, error)
	FindActiveBookings(ctx context.Context, resourceRef string, w models.Window) ([]*models.Booking, error)
	FindBlocks(ctx context.Context, resourceRef string, w models.Window) ([]*models.AvailabilityBlock, error)
	CountActiveBookings(ctx context.Context, resourceRef string, from, to time.Time) (int, error)
	InsertBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, id string, version int64, patch models.BookingPatch) (*models.Booking, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
}

type Repository interface {
	BookingStore
	InTx(ctx context.Context, fn func(ctx context.Context, tx BookingStore) error) error
}

type ResourceRepository interface {
	GetResource(ctx context.Context, ref string) (*models.Resource, error)
	ListResources(ctx context.Context, activeOnly bool) ([]*models.Resource, error)
	UpsertResource(ctx context.Context, r *models.Resource) error
	SetResourceActive(ctx context.Context, ref string, active bool) error
	CreateBlock(ctx context.Context, b *models.AvailabilityBlock) error
	ListBlocks(ctx context.Context, resourceRef string, from, to time.Time) ([]*models.AvailabilityBlock, error)
}

// NotificationQueue persists outgoing notifications until delivered.
type NotificationQueue interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error)
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Notifier delivers booking events to clients and resource owners. Best effort.
type Notifier interface {
	Notify(ctx context.Context, event string, booking *models.Booking) error
}

// Locker serializes writers on a key across goroutines or instances.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Clock func() time.Time

package models

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// AllStatuses lists every booking status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// Active bookings occupy their window for conflict purposes.
func (s Status) Active() bool {
	return s != StatusCancelled
}

type ResourceKind string

const (
	ResourceService ResourceKind = "service"
	ResourceAgent   ResourceKind = "agent"
)

const (
	ChannelWebsite  = "website"
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
	ChannelAdmin    = "admin"
)

const (
	BlockMaintenance = "maintenance"
	BlockOccupied    = "occupied"
	BlockRenovation  = "renovation"
	BlockOther       = "other"
)

const (
	// DefaultDurationMinutes длительность бронирования, если конец не указан
	DefaultDurationMinutes = 30

	// DefaultStartHour / DefaultEndHour рабочие часы по умолчанию
	DefaultStartHour = 9
	DefaultEndHour   = 18

	// ReminderHour час, в который отправляются напоминания
	ReminderHour = 9

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// DefaultExportRangeMonthsBefore/After диапазон экспорта по умолчанию
	DefaultExportRangeMonthsBefore = 1
	DefaultExportRangeMonthsAfter  = 2
)

// DefaultWeekdays is Monday through Saturday.
var DefaultWeekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

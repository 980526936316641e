package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotdesk/internal/events"
)

// Message is what senders deliver: a booking event snapshot plus routing data.
type Message struct {
	Event   string                     `json:"event"`
	Booking events.BookingEventPayload `json:"booking"`
	// ChatID is the Telegram chat of the resource owner, zero if none.
	ChatID int64     `json:"chat_id,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Sender delivers a message over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

var eventTitles = map[string]string{
	events.EventBookingCreated:     "Новая бронь",
	events.EventBookingConfirmed:   "Бронь подтверждена",
	events.EventBookingRescheduled: "Бронь перенесена",
	events.EventBookingCancelled:   "Бронь отменена",
	events.EventBookingCompleted:   "Бронь завершена",
	events.EventBookingNoShow:      "Клиент не пришёл",
	events.EventBookingReassigned:  "Бронь передана",
	events.EventBookingReminder:    "Напоминание: завтра у вас бронь",
}

// FormatText renders a short human-readable message body.
func FormatText(msg Message) string {
	title, ok := eventTitles[msg.Event]
	if !ok {
		title = msg.Event
	}
	b := msg.Booking

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%s · %s\n", b.BookingReference, b.ResourceRef)
	fmt.Fprintf(&sb, "%s – %s\n", b.Start.Format("02.01.2006 15:04"), b.End.Format("15:04"))
	sb.WriteString(b.ClientName)
	if b.ClientPhone != "" {
		sb.WriteString(" " + b.ClientPhone)
	}
	if b.PrevResourceRef != "" {
		fmt.Fprintf(&sb, "\nбыло: %s", b.PrevResourceRef)
	}
	return sb.String()
}

package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"slotdesk/internal/models"
)

// Booking event kinds. The same strings are handed to notification senders.
const (
	EventBookingCreated     = "booking_created"
	EventBookingConfirmed   = "booking_confirmed"
	EventBookingRescheduled = "booking_rescheduled"
	EventBookingCancelled   = "booking_cancelled"
	EventBookingCompleted   = "booking_completed"
	EventBookingNoShow      = "booking_no_show"
	EventBookingReassigned  = "booking_reassigned"
	EventBookingReminder    = "booking_reminder"
)

// Wildcard subscribers receive every event type.
const Wildcard = "*"

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID        string    `json:"booking_id"`
	BookingReference string    `json:"booking_reference"`
	ResourceRef      string    `json:"resource_ref"`
	PrevResourceRef  string    `json:"prev_resource_ref,omitempty"`
	ClientName       string    `json:"client_name"`
	ClientPhone      string    `json:"client_phone,omitempty"`
	ClientEmail      string    `json:"client_email,omitempty"`
	Status           string    `json:"status"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Channel          string    `json:"channel,omitempty"`
	Notes            string    `json:"notes,omitempty"`
}

func PayloadFromBooking(b *models.Booking) BookingEventPayload {
	return BookingEventPayload{
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		ResourceRef:      b.ResourceRef,
		ClientName:       b.Client.Name,
		ClientPhone:      b.Client.Phone,
		ClientEmail:      b.Client.Email,
		Status:           string(b.Status),
		Start:            b.Window.Start,
		End:              b.Window.End,
		Channel:          b.Channel,
		Notes:            b.Notes,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type, or Wildcard for all of them.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every matching handler synchronously and joins their errors.
// A failing handler does not stop the others.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	if event.Type != Wildcard {
		handlers = append(handlers, b.subscribers[Wildcard]...)
	}
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

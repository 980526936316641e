package models

import (
	"fmt"
	"strings"
	"time"
)

type ClientInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// HasContact reports whether at least one way to reach the client is known.
func (c ClientInfo) HasContact() bool {
	return strings.TrimSpace(c.Phone) != "" || strings.TrimSpace(c.Email) != ""
}

type Booking struct {
	ID               string     `json:"id"`
	BookingReference string     `json:"booking_reference"`
	ResourceRef      string     `json:"resource_ref"`
	SubjectRef       string     `json:"subject_ref,omitempty"`
	Client           ClientInfo `json:"client"`
	Window           Window     `json:"window"`
	Status           Status     `json:"status"`
	Notes            string     `json:"notes,omitempty"`
	Channel          string     `json:"channel,omitempty"`
	ReminderSentAt   *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// Clone returns a copy that shares no pointers with b.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.ReminderSentAt != nil {
		t := *b.ReminderSentAt
		c.ReminderSentAt = &t
	}
	return &c
}

// GenerateReference builds a human-readable reference like VW-20250106-1736150400.
func GenerateReference(prefix string, at time.Time) string {
	if prefix == "" {
		prefix = "BK"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, at.Format("20060102"), at.Unix())
}

// BookingFilter narrows ListBookings. Zero values mean "any".
type BookingFilter struct {
	ResourceRef string
	From        time.Time
	To          time.Time
	Statuses    []Status
}

// Matches is used by in-memory callers; SQL stores translate the filter to WHERE clauses.
func (f BookingFilter) Matches(b *Booking) bool {
	if f.ResourceRef != "" && b.ResourceRef != f.ResourceRef {
		return false
	}
	if !f.From.IsZero() && !b.Window.End.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !b.Window.Start.Before(f.To) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if b.Status == s {
			return true
		}
	}
	return false
}

// BookingPatch lists the fields an update may change. Nil means unchanged.
type BookingPatch struct {
	ResourceRef    *string
	Window         *Window
	Status         *Status
	ReminderSentAt *time.Time
	UpdatedAt      time.Time
}

// Apply returns a copy of b with the patch applied and the version bumped.
func (p BookingPatch) Apply(b *Booking) *Booking {
	out := b.Clone()
	if p.ResourceRef != nil {
		out.ResourceRef = *p.ResourceRef
	}
	if p.Window != nil {
		out.Window = *p.Window
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.ReminderSentAt != nil {
		t := *p.ReminderSentAt
		out.ReminderSentAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		out.UpdatedAt = p.UpdatedAt
	}
	out.Version++
	return out
}

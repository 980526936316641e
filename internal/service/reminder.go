package service

import (
	"context"
	"fmt"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/events"
	"slotdesk/internal/models"

	"github.com/rs/zerolog"
)

// ReminderService sends a reminder once per confirmed booking the day before it starts.
type ReminderService struct {
	repo     domain.Repository
	notifier domain.Notifier
	hour     int
	minute   int
	loc      *time.Location
	now      domain.Clock
	logger   *zerolog.Logger
}

// NewReminderService parses at as "15:04". Reminders run daily at that local time.
func NewReminderService(repo domain.Repository, notifier domain.Notifier, at string, loc *time.Location, logger *zerolog.Logger) (*ReminderService, error) {
	hour, minute := models.ReminderHour, 0
	if at != "" {
		if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
			return nil, fmt.Errorf("invalid reminder time %q: %w", at, err)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid reminder time %q", at)
		}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReminderService{
		repo:     repo,
		notifier: notifier,
		hour:     hour,
		minute:   minute,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Start waits until the next reminder time, then ticks every 24h until ctx is done.
func (s *ReminderService) Start(ctx context.Context) {
	if s == nil || s.notifier == nil {
		return
	}

	go func() {
		timer := time.NewTimer(s.untilNext())
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if _, err := s.SendTomorrowReminders(ctx); err != nil {
					s.logger.Error().Err(err).Msg("reminder: run failed")
				}
				timer.Reset(s.untilNext())
			}
		}
	}()
}

// SendTomorrowReminders notifies every confirmed booking starting tomorrow
// that has not been reminded yet and returns how many were sent.
func (s *ReminderService) SendTomorrowReminders(ctx context.Context) (int, error) {
	now := s.now()
	local := now.In(s.loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
	to := from.AddDate(0, 0, 1)

	bookings, err := s.repo.ListBookings(ctx, models.BookingFilter{
		From:     from,
		To:       to,
		Statuses: []models.Status{models.StatusConfirmed},
	})
	if err != nil {
		return 0, domain.Storage("reminders", err)
	}

	sent := 0
	for _, b := range bookings {
		if b.ReminderSentAt != nil || b.Window.Start.Before(from) {
			continue
		}
		if err := s.notifier.Notify(ctx, events.EventBookingReminder, b); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("reminder: notify error")
			continue
		}

		ts := now.UTC().Truncate(time.Second)
		if _, err := s.repo.UpdateBooking(ctx, b.ID, b.Version, models.BookingPatch{ReminderSentAt: &ts, UpdatedAt: ts}); err != nil {
			// the booking changed meanwhile; it is picked up again on the next run if still eligible
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("reminder: mark sent error")
		}
		sent++
	}

	s.logger.Info().Int("sent", sent).Time("day", from).Msg("Reminders sent")
	return sent, nil
}

func (s *ReminderService) untilNext() time.Duration {
	now := s.now().In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

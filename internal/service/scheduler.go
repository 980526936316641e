package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/events"
	"slotdesk/internal/metrics"
	"slotdesk/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type SchedulerOptions struct {
	SameDayAllowed        bool
	CompletionRequiresEnd bool
	// ReferencePrefixes overrides the per-kind booking reference prefix.
	ReferencePrefixes map[models.ResourceKind]string
	Now               domain.Clock
}

type CreateInput struct {
	ResourceRef      string
	SubjectRef       string
	Client           models.ClientInfo
	Window           models.Window // zero End means the resource's default duration
	Notes            string
	Channel          string
	BookingReference string
}

// RescheduleInput moves a booking. A zero End keeps the current duration.
type RescheduleInput struct {
	Start time.Time
	End   time.Time
}

// AvailabilityResult answers a read-only availability query.
type AvailabilityResult struct {
	Available bool
	Reason    domain.Kind
	Conflicts ConflictReport
}

// Scheduler creates and mutates bookings. Every write runs the conflict check
// and the store update under the resource lock and one storage transaction.
type Scheduler struct {
	repo      domain.Repository
	locker    domain.Locker
	notifier  domain.Notifier
	eventBus  domain.EventPublisher
	calendar  Calendar
	lifecycle Lifecycle
	detector  ConflictDetector
	opts      SchedulerOptions
	now       domain.Clock
	logger    *zerolog.Logger
}

func NewScheduler(
	repo domain.Repository,
	locker domain.Locker,
	notifier domain.Notifier,
	eventBus domain.EventPublisher,
	opts SchedulerOptions,
	logger *zerolog.Logger,
) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		repo:      repo,
		locker:    locker,
		notifier:  notifier,
		eventBus:  eventBus,
		calendar:  Calendar{SameDayDefault: opts.SameDayAllowed},
		lifecycle: Lifecycle{CompletionRequiresEnd: opts.CompletionRequiresEnd},
		opts:      opts,
		now:       now,
		logger:    logger,
	}
}

func (s *Scheduler) Create(ctx context.Context, in CreateInput) (*models.Booking, error) {
	const op = "create"
	started := time.Now()

	b, err := s.create(ctx, in)
	s.observe(op, started, err)
	if err != nil {
		s.logRejection(op, in.ResourceRef, "", err)
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("reference", b.BookingReference).
		Str("resource", b.ResourceRef).
		Time("start", b.Window.Start).
		Msg("Booking created")
	s.afterCommit(ctx, events.EventBookingCreated, b, "")
	return b, nil
}

func (s *Scheduler) create(ctx context.Context, in CreateInput) (*models.Booking, error) {
	const op = "create"

	if strings.TrimSpace(in.ResourceRef) == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "resource ref is required")
	}
	if strings.TrimSpace(in.Client.Name) == "" || !in.Client.HasContact() {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "client name and a phone or email are required")
	}
	if in.Window.Start.IsZero() || (!in.Window.End.IsZero() && !in.Window.Valid()) {
		return nil, domain.Errorf(domain.KindInvalidWindow, op, "window end must be after start")
	}

	unlock, err := s.lock(ctx, op, in.ResourceRef)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var created *models.Booking

	err = s.repo.InTx(ctx, func(ctx context.Context, tx domain.BookingStore) error {
		res, err := tx.GetResource(ctx, in.ResourceRef)
		if err != nil {
			return err
		}
		if !res.IsActive {
			return domain.Errorf(domain.KindResourceInactive, op, "resource %s is not accepting bookings", res.Ref)
		}

		w := in.Window
		if w.End.IsZero() {
			w.End = w.Start.Add(res.Duration())
		}
		w = w.Normalize()
		if !w.Valid() {
			return domain.Errorf(domain.KindInvalidWindow, op, "window is shorter than one second")
		}

		if err := s.calendar.Validate(res, w, now); err != nil {
			return err
		}
		if err := s.ensureAvailable(ctx, tx, op, res.Ref, w, ""); err != nil {
			return err
		}
		if err := s.checkDailyCap(ctx, tx, op, res, w, nil); err != nil {
			return err
		}

		ts := now.UTC().Truncate(time.Second)
		b := &models.Booking{
			ID:               uuid.NewString(),
			BookingReference: in.BookingReference,
			ResourceRef:      res.Ref,
			SubjectRef:       in.SubjectRef,
			Client:           trimClient(in.Client),
			Window:           w,
			Status:           models.StatusPending,
			Notes:            in.Notes,
			Channel:          in.Channel,
			CreatedAt:        ts,
			UpdatedAt:        ts,
			Version:          1,
		}
		if b.BookingReference == "" {
			b.BookingReference = models.GenerateReference(s.prefixFor(res), now)
		}
		if b.Channel == "" {
			b.Channel = models.ChannelWebsite
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	return created, nil
}

func (s *Scheduler) Reschedule(ctx context.Context, id string, in RescheduleInput) (*models.Booking, error) {
	const op = "reschedule"
	started := time.Now()

	b, err := s.reschedule(ctx, id, in)
	s.observe(op, started, err)
	if err != nil {
		s.logRejection(op, "", id, err)
		return nil, err
	}

	s.logger.Info().Str("booking_id", b.ID).Time("start", b.Window.Start).Msg("Booking rescheduled")
	s.afterCommit(ctx, events.EventBookingRescheduled, b, "")
	return b, nil
}

func (s *Scheduler) reschedule(ctx context.Context, id string, in RescheduleInput) (*models.Booking, error) {
	const op = "reschedule"

	if in.Start.IsZero() || (!in.End.IsZero() && !in.End.After(in.Start)) {
		return nil, domain.Errorf(domain.KindInvalidWindow, op, "window end must be after start")
	}

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	if err := s.lifecycle.CanModify(current); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, op, current.ResourceRef)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var updated *models.Booking

	err = s.repo.InTx(ctx, func(ctx context.Context, tx domain.BookingStore) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.ResourceRef != current.ResourceRef {
			return domain.Errorf(domain.KindConcurrentModification, op, "booking %s was reassigned", id)
		}
		if err := s.lifecycle.CanModify(b); err != nil {
			return err
		}

		res, err := tx.GetResource(ctx, b.ResourceRef)
		if err != nil {
			return err
		}

		w := models.NewWindow(in.Start, in.End)
		if in.End.IsZero() {
			w = b.Window.Shift(in.Start)
		}
		w = w.Normalize()
		if !w.Valid() {
			return domain.Errorf(domain.KindInvalidWindow, op, "window is shorter than one second")
		}

		if err := s.calendar.Validate(res, w, now); err != nil {
			return err
		}
		if err := s.ensureAvailable(ctx, tx, op, res.Ref, w, b.ID); err != nil {
			return err
		}
		if err := s.checkDailyCap(ctx, tx, op, res, w, b); err != nil {
			return err
		}

		updated, err = tx.UpdateBooking(ctx, b.ID, b.Version, models.BookingPatch{
			Window:    &w,
			UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	return updated, nil
}

func (s *Scheduler) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	return s.transition(ctx, "cancel", id, models.StatusCancelled, events.EventBookingCancelled)
}

// Complete marks the booking done. With CompletionRequiresEnd the window must be over.
func (s *Scheduler) Complete(ctx context.Context, id string) (*models.Booking, error) {
	return s.transition(ctx, "complete", id, models.StatusCompleted, events.EventBookingCompleted)
}

func (s *Scheduler) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	return s.transition(ctx, "confirm", id, models.StatusConfirmed, events.EventBookingConfirmed)
}

func (s *Scheduler) MarkNoShow(ctx context.Context, id string) (*models.Booking, error) {
	return s.transition(ctx, "no_show", id, models.StatusNoShow, events.EventBookingNoShow)
}

func (s *Scheduler) transition(ctx context.Context, op, id string, to models.Status, event string) (*models.Booking, error) {
	started := time.Now()
	now := s.now()
	var updated *models.Booking

	err := s.repo.InTx(ctx, func(ctx context.Context, tx domain.BookingStore) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := s.lifecycle.CanTransition(b, to, now); err != nil {
			return err
		}
		updated, err = tx.UpdateBooking(ctx, b.ID, b.Version, models.BookingPatch{
			Status:    &to,
			UpdatedAt: now,
		})
		return err
	})
	err = domain.Storage(op, err)
	s.observe(op, started, err)
	if err != nil {
		s.logRejection(op, "", id, err)
		return nil, err
	}

	s.logger.Info().Str("booking_id", id).Str("status", string(to)).Msg("Booking status changed")
	s.afterCommit(ctx, event, updated, "")
	return updated, nil
}

// Reassign moves a booking to another resource keeping its window and status.
func (s *Scheduler) Reassign(ctx context.Context, id, newResourceRef string) (*models.Booking, error) {
	const op = "reassign"
	started := time.Now()

	b, prev, err := s.reassign(ctx, id, newResourceRef)
	s.observe(op, started, err)
	if err != nil {
		s.logRejection(op, newResourceRef, id, err)
		return nil, err
	}
	if prev == b.ResourceRef {
		return b, nil
	}

	s.logger.Info().Str("booking_id", b.ID).Str("from", prev).Str("to", b.ResourceRef).Msg("Booking reassigned")
	s.afterCommit(ctx, events.EventBookingReassigned, b, prev)
	return b, nil
}

func (s *Scheduler) reassign(ctx context.Context, id, newResourceRef string) (*models.Booking, string, error) {
	const op = "reassign"

	if strings.TrimSpace(newResourceRef) == "" {
		return nil, "", domain.Errorf(domain.KindInvalidInput, op, "target resource ref is required")
	}

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, "", domain.Storage(op, err)
	}
	if err := s.lifecycle.CanModify(current); err != nil {
		return nil, "", err
	}
	if current.ResourceRef == newResourceRef {
		return current, current.ResourceRef, nil
	}

	unlock, err := s.lock(ctx, op, newResourceRef)
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	now := s.now()
	var (
		updated *models.Booking
		prev    string
	)

	err = s.repo.InTx(ctx, func(ctx context.Context, tx domain.BookingStore) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := s.lifecycle.CanModify(b); err != nil {
			return err
		}
		prev = b.ResourceRef

		target, err := tx.GetResource(ctx, newResourceRef)
		if err != nil {
			return err
		}
		if !target.IsActive {
			return domain.Errorf(domain.KindResourceInactive, op, "resource %s is not accepting bookings", target.Ref)
		}
		if err := s.ensureAvailable(ctx, tx, op, target.Ref, b.Window, b.ID); err != nil {
			return err
		}

		updated, err = tx.UpdateBooking(ctx, b.ID, b.Version, models.BookingPatch{
			ResourceRef: &target.Ref,
			UpdatedAt:   now,
		})
		return err
	})
	if err != nil {
		return nil, "", domain.Storage(op, err)
	}
	return updated, prev, nil
}

// CheckAvailability runs the same calendar and conflict checks as Create
// without writing. excludeID lets a booking being rescheduled ignore itself.
func (s *Scheduler) CheckAvailability(ctx context.Context, resourceRef string, w models.Window, excludeID string) (*AvailabilityResult, error) {
	const op = "check_availability"

	if !w.Valid() {
		return nil, domain.Errorf(domain.KindInvalidWindow, op, "window end must be after start")
	}
	w = w.Normalize()
	if !w.Valid() {
		return nil, domain.Errorf(domain.KindInvalidWindow, op, "window is shorter than one second")
	}

	res, err := s.repo.GetResource(ctx, resourceRef)
	if err != nil {
		return nil, domain.Storage(op, err)
	}

	if !res.IsActive {
		return &AvailabilityResult{Reason: domain.KindResourceInactive}, nil
	}
	if err := s.calendar.Validate(res, w, s.now()); err != nil {
		return &AvailabilityResult{Reason: domain.KindOf(err)}, nil
	}

	report, err := s.detector.Check(ctx, s.repo, res.Ref, w, excludeID)
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	if !report.Available() {
		return &AvailabilityResult{Reason: domain.KindSlotConflict, Conflicts: report}, nil
	}

	var existing *models.Booking
	if excludeID != "" {
		existing, err = s.repo.GetBooking(ctx, excludeID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Storage(op, err)
		}
	}
	if err := s.checkDailyCap(ctx, s.repo, op, res, w, existing); err != nil {
		if domain.KindOf(err) != domain.KindDailyLimitReached {
			return nil, domain.Storage(op, err)
		}
		return &AvailabilityResult{Reason: domain.KindDailyLimitReached, Conflicts: report}, nil
	}
	return &AvailabilityResult{Available: true, Conflicts: report}, nil
}

func (s *Scheduler) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, domain.Storage("get booking", err)
	}
	return b, nil
}

func (s *Scheduler) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, domain.Errorf(domain.KindInvalidInput, "list bookings", "unknown status %q", st)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return nil, domain.Errorf(domain.KindInvalidWindow, "list bookings", "range end must be after start")
	}
	bookings, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, domain.Storage("list bookings", err)
	}
	return bookings, nil
}

func (s *Scheduler) ensureAvailable(ctx context.Context, tx domain.BookingStore, op, resourceRef string, w models.Window, excludeID string) error {
	report, err := s.detector.Check(ctx, tx, resourceRef, w, excludeID)
	if err != nil {
		return err
	}
	if report.Available() {
		return nil
	}
	if len(report.Bookings) > 0 {
		return domain.Errorf(domain.KindSlotConflict, op, "overlaps booking %s", report.Bookings[0].ID)
	}
	return domain.Errorf(domain.KindSlotConflict, op, "resource blocked (%s)", report.Blocks[0].Reason)
}

// checkDailyCap counts active bookings starting on the same local day.
// existing is the booking being moved, which must not count against itself.
func (s *Scheduler) checkDailyCap(ctx context.Context, tx domain.BookingStore, op string, res *models.Resource, w models.Window, existing *models.Booking) error {
	if res.MaxDailyBookings <= 0 {
		return nil
	}
	from, to := startOfDay(w.Start, res.Location())
	n, err := tx.CountActiveBookings(ctx, res.Ref, from, to)
	if err != nil {
		return err
	}
	if existing != nil && existing.ResourceRef == res.Ref && !existing.Window.Start.Before(from) && existing.Window.Start.Before(to) {
		n--
	}
	if n >= res.MaxDailyBookings {
		return domain.Errorf(domain.KindDailyLimitReached, op, "%s already has %d bookings that day", res.Ref, n)
	}
	return nil
}

func (s *Scheduler) lock(ctx context.Context, op, resourceRef string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, "resource:"+resourceRef)
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	return unlock, nil
}

func (s *Scheduler) prefixFor(res *models.Resource) string {
	if p := s.opts.ReferencePrefixes[res.Kind]; p != "" {
		return p
	}
	return res.ReferencePrefix()
}

// afterCommit publishes the event and notifies. Failures are logged and
// never reach the caller: the booking change is already committed.
func (s *Scheduler) afterCommit(ctx context.Context, event string, b *models.Booking, prevResourceRef string) {
	if s.eventBus != nil {
		payload := events.PayloadFromBooking(b)
		payload.PrevResourceRef = prevResourceRef
		if err := s.eventBus.PublishJSON(event, payload); err != nil {
			s.logger.Error().Err(err).Str("event_type", event).Str("booking_id", b.ID).Msg("publish event error")
		}
	}

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, b.Clone()); err != nil {
		metrics.IncNotification("enqueue", "failed")
		s.logger.Error().Err(err).Str("event_type", event).Str("booking_id", b.ID).Msg("notification error")
	}
}

func (s *Scheduler) observe(op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
		if domain.KindOf(err) == domain.KindSlotConflict {
			metrics.IncConflict(op)
		}
	}
	metrics.ObserveOperation(op, result, started)
}

func (s *Scheduler) logRejection(op, resourceRef, bookingID string, err error) {
	ev := s.logger.Warn()
	if domain.KindOf(err) == domain.KindStorageFailure {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Str("operation", op).
		Str("resource", resourceRef).
		Str("booking_id", bookingID).
		Str("kind", string(domain.KindOf(err))).
		Msg("Booking operation rejected")
}

func trimClient(c models.ClientInfo) models.ClientInfo {
	return models.ClientInfo{
		Name:  strings.TrimSpace(c.Name),
		Phone: strings.TrimSpace(c.Phone),
		Email: strings.TrimSpace(c.Email),
	}
}

package service

import (
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"
)

var transitions = map[models.Status][]models.Status{
	models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled, models.StatusCompleted},
	models.StatusConfirmed: {models.StatusCancelled, models.StatusCompleted, models.StatusNoShow},
}

// Lifecycle is the booking status state machine.
type Lifecycle struct {
	CompletionRequiresEnd bool
}

// CanTransition returns nil if b may move to the target status at now.
func (l Lifecycle) CanTransition(b *models.Booking, to models.Status, now time.Time) error {
	if err := l.CanModify(b); err != nil {
		return err
	}
	if !allowed(b.Status, to) {
		return domain.Errorf(domain.KindInvalidTransition, "lifecycle", "%s -> %s is not allowed", b.Status, to)
	}

	switch to {
	case models.StatusNoShow:
		if b.Window.End.After(now) {
			return domain.Errorf(domain.KindInvalidTransition, "lifecycle", "no-show only after the booking ended")
		}
	case models.StatusCompleted:
		if l.CompletionRequiresEnd && b.Window.End.After(now) {
			return domain.Errorf(domain.KindInvalidTransition, "lifecycle", "completion only after the booking ended")
		}
	}
	return nil
}

// CanModify guards window and resource changes.
func (Lifecycle) CanModify(b *models.Booking) error {
	if b.Status.Terminal() {
		return domain.Errorf(domain.KindAlreadyFinalized, "lifecycle", "booking %s is %s", b.ID, b.Status)
	}
	return nil
}

func allowed(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

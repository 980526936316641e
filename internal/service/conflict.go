package service

import (
	"context"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"
)

// ConflictReport lists what occupies a candidate window.
type ConflictReport struct {
	Bookings []*models.Booking
	Blocks   []*models.AvailabilityBlock
}

func (r ConflictReport) Available() bool {
	return len(r.Bookings) == 0 && len(r.Blocks) == 0
}

// ConflictDetector finds active bookings and availability blocks overlapping a window.
// Pass the transaction store so the check is atomic with the write that follows.
type ConflictDetector struct{}

func (ConflictDetector) Check(ctx context.Context, store domain.BookingStore, resourceRef string, w models.Window, excludeID string) (ConflictReport, error) {
	var report ConflictReport

	bookings, err := store.FindActiveBookings(ctx, resourceRef, w)
	if err != nil {
		return report, err
	}
	for _, b := range bookings {
		// stores filter already; re-check so a lax store cannot leak a false conflict
		if b.ID == excludeID || !b.Status.Active() || !b.Window.Overlaps(w) {
			continue
		}
		report.Bookings = append(report.Bookings, b)
	}

	blocks, err := store.FindBlocks(ctx, resourceRef, w)
	if err != nil {
		return report, err
	}
	for _, bl := range blocks {
		if bl.Window.Overlaps(w) {
			report.Blocks = append(report.Blocks, bl)
		}
	}
	return report, nil
}

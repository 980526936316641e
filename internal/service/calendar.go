package service

import (
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/models"
)

// Calendar validates candidate start times against a resource's business calendar.
type Calendar struct {
	// SameDayDefault applies to resources without their own same-day policy.
	SameDayDefault bool
}

// Validate checks, in order: weekday, hour, future, lead time.
func (c Calendar) Validate(res *models.Resource, w models.Window, now time.Time) error {
	if err := c.CheckOpen(res, w.Start); err != nil {
		return err
	}
	if err := c.CheckFuture(res, w.Start, now); err != nil {
		return err
	}
	return c.CheckNotice(res, w.Start, now)
}

// CheckOpen evaluates the instant in the resource's own timezone, using the
// day's override from WeeklyHours when there is one.
func (c Calendar) CheckOpen(res *models.Resource, t time.Time) error {
	local := t.In(res.Location())
	start, end, open := res.Calendar.OpenMinutes(local.Weekday())
	if !open {
		return domain.Errorf(domain.KindClosedDay, "calendar", "%s is closed on %s", res.Ref, local.Weekday())
	}
	if m := local.Hour()*60 + local.Minute(); m < start || m >= end {
		return domain.Errorf(domain.KindOutsideHours, "calendar", "%s accepts bookings %s-%s on %s, got %s",
			res.Ref, models.FormatClock(start), models.FormatClock(end), local.Weekday(), local.Format("15:04"))
	}
	return nil
}

// CheckFuture compares against local midnight when same-day bookings are
// allowed and against now otherwise.
func (c Calendar) CheckFuture(res *models.Resource, t, now time.Time) error {
	if res.SameDay(c.SameDayDefault) {
		loc := res.Location()
		localNow := now.In(loc)
		midnight := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
		if t.Before(midnight) {
			return domain.Errorf(domain.KindInPast, "calendar", "start %s is before today", t.In(loc).Format(time.RFC3339))
		}
		return nil
	}
	if t.Before(now) {
		return domain.Errorf(domain.KindInPast, "calendar", "start %s is in the past", t.Format(time.RFC3339))
	}
	return nil
}

func (c Calendar) CheckNotice(res *models.Resource, t, now time.Time) error {
	if res.MinNoticeMinutes <= 0 {
		return nil
	}
	earliest := now.Add(time.Duration(res.MinNoticeMinutes) * time.Minute)
	if t.Before(earliest) {
		return domain.Errorf(domain.KindTooSoon, "calendar", "%s requires %d minutes notice", res.Ref, res.MinNoticeMinutes)
	}
	return nil
}

// startOfDay returns the local midnight bounding t's day and the next one.
func startOfDay(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}

package models

import "time"

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewWindow(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

// Valid reports whether End is strictly after Start.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.End.After(w.Start)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps treats touching windows (one ends exactly when the other starts) as disjoint.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && w.End.After(other.Start)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) DurationMinutes() int {
	return int(w.Duration() / time.Minute)
}

// Shift moves the window so that it starts at start, keeping its duration.
func (w Window) Shift(start time.Time) Window {
	return Window{Start: start, End: start.Add(w.Duration())}
}

func (w Window) In(loc *time.Location) Window {
	return Window{Start: w.Start.In(loc), End: w.End.In(loc)}
}

// Normalize converts to UTC and drops sub-second precision, matching what storage keeps.
func (w Window) Normalize() Window {
	return Window{Start: w.Start.UTC().Truncate(time.Second), End: w.End.UTC().Truncate(time.Second)}
}

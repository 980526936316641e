package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BusinessCalendar describes when a resource accepts bookings.
// Hours are evaluated in the resource's own location.
type BusinessCalendar struct {
	AllowedWeekdays []time.Weekday `yaml:"weekdays" json:"weekdays"`
	DailyStartHour  int            `yaml:"start_hour" json:"start_hour"`
	DailyEndHour    int            `yaml:"end_hour" json:"end_hour"`
	// WeeklyHours replaces the default hours for the named days
	// ("monday".."sunday"). A day mapped to null is closed.
	WeeklyHours map[string]*DayHours `yaml:"weekly_hours,omitempty" json:"weekly_hours,omitempty"`
}

// DayHours is the open range of one day as "HH:MM"; End may be "24:00".
type DayHours struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Minutes returns the range as minutes since midnight.
func (h DayHours) Minutes() (int, int, error) {
	start, err := ParseClock(h.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseClock(h.End)
	if err != nil {
		return 0, 0, err
	}
	if start >= end {
		return 0, 0, fmt.Errorf("hours %s-%s: start must be before end", h.Start, h.End)
	}
	return start, end, nil
}

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(s string) (int, error) {
	if s == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// WeekdayName is the lowercase English day name used as a WeeklyHours key.
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

func DefaultCalendar() BusinessCalendar {
	days := make([]time.Weekday, len(DefaultWeekdays))
	copy(days, DefaultWeekdays)
	return BusinessCalendar{
		AllowedWeekdays: days,
		DailyStartHour:  DefaultStartHour,
		DailyEndHour:    DefaultEndHour,
	}
}

// WithDefaults fills an unset calendar with the default weekdays and hours.
// Per-day overrides are kept.
func (c BusinessCalendar) WithDefaults() BusinessCalendar {
	if len(c.AllowedWeekdays) > 0 || c.DailyStartHour != 0 || c.DailyEndHour != 0 {
		return c
	}
	def := DefaultCalendar()
	def.WeeklyHours = c.WeeklyHours
	return def
}

// Validate checks the default hours and every per-day override.
func (c BusinessCalendar) Validate() error {
	if c.DailyStartHour < 0 || c.DailyEndHour > 24 || c.DailyStartHour >= c.DailyEndHour {
		return fmt.Errorf("invalid hours %d-%d", c.DailyStartHour, c.DailyEndHour)
	}
	for _, d := range c.AllowedWeekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	for name, h := range c.WeeklyHours {
		if _, ok := weekdayByName[name]; !ok {
			return fmt.Errorf("unknown day %q in weekly hours", name)
		}
		if h == nil {
			continue
		}
		if _, _, err := h.Minutes(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// OpenMinutes returns the day's open range in minutes since midnight.
// A per-day override wins over AllowedWeekdays and the default hours.
func (c BusinessCalendar) OpenMinutes(d time.Weekday) (start, end int, open bool) {
	if h, ok := c.WeeklyHours[WeekdayName(d)]; ok {
		if h == nil {
			return 0, 0, false
		}
		s, e, err := h.Minutes()
		if err != nil {
			return 0, 0, false
		}
		return s, e, true
	}
	if !c.IsWorkingDay(d) {
		return 0, 0, false
	}
	return c.DailyStartHour * 60, c.DailyEndHour * 60, true
}

func (c BusinessCalendar) IsWorkingDay(d time.Weekday) bool {
	for _, wd := range c.AllowedWeekdays {
		if wd == d {
			return true
		}
	}
	return false
}

func (c BusinessCalendar) WithinHours(hour int) bool {
	return hour >= c.DailyStartHour && hour < c.DailyEndHour
}

// IsOpenAt expects t already converted to the resource's location.
func (c BusinessCalendar) IsOpenAt(t time.Time) bool {
	start, end, open := c.OpenMinutes(t.Weekday())
	m := t.Hour()*60 + t.Minute()
	return open && m >= start && m < end
}

type Resource struct {
	Ref                    string           `yaml:"ref" json:"ref"`
	Name                   string           `yaml:"name" json:"name"`
	Kind                   ResourceKind     `yaml:"kind" json:"kind"`
	Calendar               BusinessCalendar `yaml:"calendar" json:"calendar"`
	Timezone               string           `yaml:"timezone" json:"timezone"`
	IsActive               bool             `yaml:"is_active" json:"is_active"`
	SameDayAllowed         *bool            `yaml:"same_day_allowed" json:"same_day_allowed,omitempty"`
	MinNoticeMinutes       int              `yaml:"min_notice_minutes" json:"min_notice_minutes"`
	MaxDailyBookings       int              `yaml:"max_daily_bookings" json:"max_daily_bookings"`
	DefaultDurationMinutes int              `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	NotifyChatID           int64            `yaml:"notify_chat_id" json:"notify_chat_id,omitempty"`
	CreatedAt              time.Time        `yaml:"-" json:"created_at"`
	UpdatedAt              time.Time        `yaml:"-" json:"updated_at"`
}

// Location falls back to UTC for an empty or unknown timezone.
func (r *Resource) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReferencePrefix returns the booking reference prefix for the resource kind.
func (r *Resource) ReferencePrefix() string {
	if r.Kind == ResourceAgent {
		return "VW"
	}
	return "BK"
}

// SameDay resolves the per-resource override against the global default.
func (r *Resource) SameDay(def bool) bool {
	if r.SameDayAllowed != nil {
		return *r.SameDayAllowed
	}
	return def
}

func (r *Resource) Duration() time.Duration {
	if r.DefaultDurationMinutes > 0 {
		return time.Duration(r.DefaultDurationMinutes) * time.Minute
	}
	return DefaultDurationMinutes * time.Minute
}

// AvailabilityBlock takes a resource out of service for a window.
type AvailabilityBlock struct {
	ID          int64     `json:"id"`
	ResourceRef string    `json:"resource_ref"`
	Window      Window    `json:"window"`
	Reason      string    `json:"reason"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FormatWeekdays encodes weekdays as "1,2,3" for storage.
func FormatWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func ParseWeekdays(raw string) ([]time.Weekday, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q: %w", p, err)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

var weekdayByName = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		m[WeekdayName(d)] = d
	}
	return m
}()

// FormatWeeklyHours encodes per-day overrides as JSON; none gives "".
func FormatWeeklyHours(hours map[string]*DayHours) (string, error) {
	if len(hours) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(hours)
	if err != nil {
		return "", fmt.Errorf("encode weekly hours: %w", err)
	}
	return string(raw), nil
}

func ParseWeeklyHours(raw string) (map[string]*DayHours, error) {
	if raw == "" {
		return nil, nil
	}
	var hours map[string]*DayHours
	if err := json.Unmarshal([]byte(raw), &hours); err != nil {
		return nil, fmt.Errorf("decode weekly hours: %w", err)
	}
	return hours, nil
}

// Package schedule holds the pure send-window and pacing rules.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

// DefaultStartHour is used for next-day scheduling when a campaign has no window.
const DefaultStartHour = 9

// WeekdaySet is a bitmask over time.Weekday. The zero value allows every day.
type WeekdaySet uint8

func (s WeekdaySet) Has(d time.Weekday) bool {
	if s == 0 {
		return true
	}
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet { return s | 1<<uint(d) }

var dayCodes = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// ParseWeekdays parses a comma separated list of MON..SUN codes.
// An empty string yields the zero set (every day).
func ParseWeekdays(s string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, part := range strings.Split(s, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		d, ok := dayCodes[code]
		if !ok {
			return 0, fmt.Errorf("schedule: unknown weekday code %q", part)
		}
		set = set.With(d)
	}
	return set, nil
}

// Window is a daily [Start, End) send window evaluated in Location.
type Window struct {
	Enabled     bool
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
	Days        WeekdaySet
	Location    *time.Location
}

// FromConfig validates a campaign's stored window. fallback is used when the
// campaign carries no timezone of its own.
func FromConfig(c campaign.WindowConfig, fallback *time.Location) (Window, error) {
	w := Window{Location: fallback}
	if w.Location == nil {
		w.Location = time.UTC
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Window{}, fmt.Errorf("schedule: timezone %q: %w", tz, err)
		}
		w.Location = loc
	}

	days, err := ParseWeekdays(c.AllowedDays)
	if err != nil {
		return Window{}, err
	}
	w.Days = days

	if c.StartHour == nil || c.EndHour == nil {
		return w, nil
	}
	w.Enabled = true
	w.StartHour, w.StartMinute = *c.StartHour, c.StartMinute
	w.EndHour, w.EndMinute = *c.EndHour, c.EndMinute

	if !validClock(w.StartHour, w.StartMinute) || !validClock(w.EndHour, w.EndMinute) {
		return Window{}, fmt.Errorf("schedule: window %02d:%02d-%02d:%02d out of range",
			w.StartHour, w.StartMinute, w.EndHour, w.EndMinute)
	}
	if w.startMinutes() >= w.endMinutes() {
		return Window{}, fmt.Errorf("schedule: window start %02d:%02d is not before end %02d:%02d",
			w.StartHour, w.StartMinute, w.EndHour, w.EndMinute)
	}
	return w, nil
}

func validClock(h, m int) bool { return h >= 0 && h <= 24 && m >= 0 && m < 60 && h*60+m <= 24*60 }

func (w Window) startMinutes() int { return w.StartHour*60 + w.StartMinute }
func (w Window) endMinutes() int   { return w.EndHour*60 + w.EndMinute }

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// IsWithinWindow reports whether t may be used as a send instant.
// Without a configured window every instant is allowed.
func IsWithinWindow(t time.Time, w Window) bool {
	if !w.Enabled {
		return true
	}
	lt := t.In(w.loc())
	if !w.Days.Has(lt.Weekday()) {
		return false
	}
	m := lt.Hour()*60 + lt.Minute()
	return m >= w.startMinutes() && m < w.endMinutes()
}

// NextValidInstant returns t unchanged when it is inside the window, otherwise
// the window start on the next allowed day strictly after t's date. A later
// time on the same day is never considered.
func NextValidInstant(t time.Time, w Window) time.Time {
	if IsWithinWindow(t, w) {
		return t
	}
	return NextWindowStart(t, w)
}

// NextWindowStart is the window start on the first allowed day after t's
// calendar date. Campaigns without a window start at DefaultStartHour.
func NextWindowStart(t time.Time, w Window) time.Time {
	loc := w.loc()
	lt := t.In(loc)
	h, m := DefaultStartHour, 0
	if w.Enabled {
		h, m = w.StartHour, w.StartMinute
	}
	for i := 1; i <= 7; i++ {
		day := time.Date(lt.Year(), lt.Month(), lt.Day()+i, h, m, 0, 0, loc)
		if w.Days.Has(day.Weekday()) {
			return day
		}
	}
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, h, m, 0, 0, loc)
}

// StartOfDay is midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// Package clock abstracts wall-clock time and the fixed daily trading window
// so that every time-sensitive decision in the engine can be tested with an
// injected clock.
package clock

import (
	"fmt"
	"time"
)

// Clock supplies the current time. Production code uses System; tests use
// Fixed and advance it by hand.
type Clock interface {
	Now() time.Time
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a settable clock for tests.
type Fixed struct {
	now time.Time
}

// NewFixed creates a fixed clock starting at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{now: t.UTC()} }

func (f *Fixed) Now() time.Time { return f.now }

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) { f.now = t.UTC() }

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.now = f.now.Add(d) }

// Schedule holds the daily open/close boundaries in market-local time.
// The zero value is not usable; build one with NewSchedule.
type Schedule struct {
	openHour, openMin   int
	closeHour, closeMin int
	loc                 *time.Location
}

// NewSchedule parses "HH:MM" opening and closing times interpreted at the
// given fixed UTC offset (hours). The original market runs 09:00–18:00 JST.
func NewSchedule(opening, closing string, utcOffsetHours int) (*Schedule, error) {
	oh, om, err := parseHHMM(opening)
	if err != nil {
		return nil, fmt.Errorf("opening time: %w", err)
	}
	ch, cm, err := parseHHMM(closing)
	if err != nil {
		return nil, fmt.Errorf("closing time: %w", err)
	}
	if oh*60+om >= ch*60+cm {
		return nil, fmt.Errorf("opening %s must be before closing %s", opening, closing)
	}
	name := fmt.Sprintf("UTC%+d", utcOffsetHours)
	return &Schedule{
		openHour: oh, openMin: om,
		closeHour: ch, closeMin: cm,
		loc: time.FixedZone(name, utcOffsetHours*3600),
	}, nil
}

// Bounds returns the open and close timestamps (UTC) of the round on the
// given market-local date ("YYYY-MM-DD").
func (s *Schedule) Bounds(date string) (open, close time.Time, err error) {
	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("round date %q: %w", date, err)
	}
	open = time.Date(day.Year(), day.Month(), day.Day(), s.openHour, s.openMin, 0, 0, s.loc).UTC()
	close = time.Date(day.Year(), day.Month(), day.Day(), s.closeHour, s.closeMin, 0, 0, s.loc).UTC()
	return open, close, nil
}

// DateAt returns the market-local date string for the instant t.
func (s *Schedule) DateAt(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// NextDate returns the market-local date of the next round to schedule:
// today while the market has not opened yet, otherwise tomorrow.
func (s *Schedule) NextDate(now time.Time) string {
	today := s.DateAt(now)
	open, _, err := s.Bounds(today)
	if err == nil && now.Before(open) {
		return today
	}
	return s.DateAt(now.Add(24 * time.Hour))
}

func parseHHMM(v string) (h, m int, err error) {
	if _, err = fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", v)
	}
	return h, m, nil
}

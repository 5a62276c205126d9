package clock_test

import (
	"testing"
	"time"

	"github.com/kumanofoo/tako/internal/clock"
)

func mustSchedule(t *testing.T, opening, closing string, offset int) *clock.Schedule {
	t.Helper()
	s, err := clock.NewSchedule(opening, closing, offset)
	if err != nil {
		t.Fatalf("NewSchedule(%s, %s, %d): %v", opening, closing, offset, err)
	}
	return s
}

func TestScheduleBounds_JST(t *testing.T) {
	s := mustSchedule(t, "09:00", "18:00", 9)

	open, close, err := s.Bounds("2026-08-29")
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	// 09:00 JST == 00:00 UTC.
	wantOpen := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	wantClose := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	if !open.Equal(wantOpen) {
		t.Errorf("open = %v, want %v", open, wantOpen)
	}
	if !close.Equal(wantClose) {
		t.Errorf("close = %v, want %v", close, wantClose)
	}
}

func TestScheduleBounds_BadDate(t *testing.T) {
	s := mustSchedule(t, "09:00", "18:00", 9)
	if _, _, err := s.Bounds("29-08-2026"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestNewSchedule_Invalid(t *testing.T) {
	cases := []struct {
		opening, closing string
	}{
		{"18:00", "09:00"}, // inverted
		{"09:00", "09:00"}, // empty window
		{"25:00", "18:00"}, // bad hour
		{"nine", "18:00"},  // not a time
	}
	for _, c := range cases {
		if _, err := clock.NewSchedule(c.opening, c.closing, 9); err == nil {
			t.Errorf("NewSchedule(%s, %s) should fail", c.opening, c.closing)
		}
	}
}

func TestNextDate_BeforeOpen(t *testing.T) {
	s := mustSchedule(t, "09:00", "18:00", 9)

	// 08:00 JST: today's round has not opened yet.
	now := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC) // 2026-08-29 08:00 JST
	if got := s.NextDate(now); got != "2026-08-29" {
		t.Errorf("NextDate before open = %s, want 2026-08-29", got)
	}
}

func TestNextDate_AfterOpen(t *testing.T) {
	s := mustSchedule(t, "09:00", "18:00", 9)

	// 10:00 JST: today is already trading, schedule tomorrow.
	now := time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC)
	if got := s.NextDate(now); got != "2026-08-30" {
		t.Errorf("NextDate after open = %s, want 2026-08-30", got)
	}
}

func TestDateAt_CrossesMidnight(t *testing.T) {
	s := mustSchedule(t, "09:00", "18:00", 9)

	// 23:30 UTC is already the next day in JST.
	now := time.Date(2026, 8, 29, 23, 30, 0, 0, time.UTC)
	if got := s.DateAt(now); got != "2026-08-30" {
		t.Errorf("DateAt = %s, want 2026-08-30", got)
	}
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(start)

	if !clk.Now().Equal(start) {
		t.Errorf("Now = %v, want %v", clk.Now(), start)
	}
	clk.Advance(time.Hour)
	if !clk.Now().Equal(start.Add(time.Hour)) {
		t.Errorf("after Advance, Now = %v", clk.Now())
	}
	clk.Set(start)
	if !clk.Now().Equal(start) {
		t.Errorf("after Set, Now = %v", clk.Now())
	}
}

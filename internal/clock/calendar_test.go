package clock

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		EntryOpenIST:  "09:25",
		EntryCloseIST: "15:10",
		ForceFlatIST:  "15:25",
	}
}

func mustCalendar(t *testing.T, holidays map[string]string) *Calendar {
	t.Helper()
	c, err := NewCalendarFromHolidays(holidays, testConfig())
	if err != nil {
		t.Fatalf("NewCalendarFromHolidays: %v", err)
	}
	return c
}

func istTime(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestIsTradingDay_WeekendExcluded(t *testing.T) {
	c := mustCalendar(t, nil)

	saturday := istTime(2026, time.January, 3, 10, 0) // 2026-01-03 is a Saturday
	if c.IsTradingDay(saturday) {
		t.Errorf("expected Saturday to not be a trading day")
	}
}

func TestIsTradingDay_HolidayExcluded(t *testing.T) {
	holidays := map[string]string{"2026-01-26": "Republic Day"}
	c := mustCalendar(t, holidays)

	republicDay := istTime(2026, time.January, 26, 10, 0) // a Monday
	if c.IsTradingDay(republicDay) {
		t.Errorf("expected holiday to not be a trading day")
	}
	if reason := c.HolidayReason(republicDay); reason != "Republic Day" {
		t.Errorf("HolidayReason = %q, want %q", reason, "Republic Day")
	}
}

func TestWithinSession(t *testing.T) {
	c := mustCalendar(t, nil)
	monday := istTime(2026, time.January, 5, 0, 0)

	cases := []struct {
		hh, mm int
		want   bool
	}{
		{9, 14, false},
		{9, 15, true},
		{12, 0, true},
		{15, 29, true},
		{15, 30, false},
	}
	for _, tc := range cases {
		got := c.WithinSession(istTime(monday.Year(), monday.Month(), monday.Day(), tc.hh, tc.mm))
		if got != tc.want {
			t.Errorf("WithinSession(%02d:%02d) = %v, want %v", tc.hh, tc.mm, got, tc.want)
		}
	}
}

func TestWithinEntryWindow(t *testing.T) {
	c := mustCalendar(t, nil)
	monday := istTime(2026, time.January, 5, 0, 0)

	if c.WithinEntryWindow(istTime(monday.Year(), monday.Month(), monday.Day(), 9, 24)) {
		t.Errorf("expected 09:24 to be before entry window")
	}
	if !c.WithinEntryWindow(istTime(monday.Year(), monday.Month(), monday.Day(), 9, 25)) {
		t.Errorf("expected 09:25 to be within entry window")
	}
	if c.WithinEntryWindow(istTime(monday.Year(), monday.Month(), monday.Day(), 15, 10)) {
		t.Errorf("expected 15:10 to be at entry close (exclusive)")
	}
}

func TestAtOrAfterForceFlat(t *testing.T) {
	c := mustCalendar(t, nil)
	d := istTime(2026, time.January, 5, 0, 0)

	if c.AtOrAfterForceFlat(istTime(d.Year(), d.Month(), d.Day(), 15, 24)) {
		t.Errorf("15:24 should be before force-flat")
	}
	if !c.AtOrAfterForceFlat(istTime(d.Year(), d.Month(), d.Day(), 15, 25)) {
		t.Errorf("15:25 should be at-or-after force-flat")
	}
}

func TestNextTradingDay_SkipsWeekend(t *testing.T) {
	c := mustCalendar(t, nil)
	friday := istTime(2026, time.January, 2, 0, 0) // a Friday

	next := c.NextTradingDay(friday)
	if next.Weekday() != time.Monday {
		t.Errorf("NextTradingDay(Friday) = %v, want a Monday", next.Weekday())
	}
}

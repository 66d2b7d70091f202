// Package clock provides exchange-local time predicates and the NSE
// trading calendar. Every decision the engine makes about session
// windows, entry eligibility, and force-flat is a pure function of
// wall time routed through this package; nothing here mutates state.
package clock

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// IST is the Indian Standard Time location all session predicates are
// evaluated in.
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(fmt.Sprintf("clock: failed to load IST timezone: %v", err))
	}
}

// Session window, fixed per NSE cash/derivatives hours.
const (
	sessionOpenHour  = 9
	sessionOpenMin   = 15
	sessionCloseHour = 15
	sessionCloseMin  = 30
)

// Calendar carries the NSE holiday table and the session-window
// predicates built on top of it.
type Calendar struct {
	holidays map[string]string // "YYYY-MM-DD" -> reason

	entryOpen   hhmm
	entryClose  hhmm
	forceFlat   hhmm
	sessionOpen hhmm
	sessionEnd  hhmm
}

type hhmm struct {
	hour, min int
}

func parseHHMM(s string) (hhmm, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return hhmm{}, fmt.Errorf("clock: invalid HH:MM %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return hhmm{}, fmt.Errorf("clock: out-of-range HH:MM %q", s)
	}
	return hhmm{hour: h, min: m}, nil
}

func (t hhmm) minutes() int { return t.hour*60 + t.min }

// HolidayEntry is one row of the NSE holiday JSON file.
type HolidayEntry struct {
	Date   string `json:"date"`   // YYYY-MM-DD
	Reason string `json:"reason"` // e.g. "Republic Day", "Diwali"
}

// Config carries the entry/force-flat window strings from EngineConfig
// (SPEC_FULL §3); NewCalendar parses and validates them once at startup.
type Config struct {
	EntryOpenIST   string
	EntryCloseIST  string
	ForceFlatIST   string
	SessionOpenIST string // defaults to 09:15 if empty
	SessionEndIST  string // defaults to 15:30 if empty
}

// NewCalendar loads the NSE holiday table from a JSON file and builds a
// Calendar bound to the given session-window configuration.
func NewCalendar(holidayFilePath string, cfg Config) (*Calendar, error) {
	data, err := os.ReadFile(holidayFilePath)
	if err != nil {
		return nil, fmt.Errorf("clock: read holidays file: %w", err)
	}

	var entries []HolidayEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("clock: parse holidays: %w", err)
	}

	holidays := make(map[string]string, len(entries))
	for _, e := range entries {
		holidays[e.Date] = e.Reason
	}

	return newCalendar(holidays, cfg)
}

// NewCalendarFromHolidays builds a Calendar directly from a holiday map,
// bypassing the file. Used by tests.
func NewCalendarFromHolidays(holidays map[string]string, cfg Config) (*Calendar, error) {
	return newCalendar(holidays, cfg)
}

func newCalendar(holidays map[string]string, cfg Config) (*Calendar, error) {
	if cfg.SessionOpenIST == "" {
		cfg.SessionOpenIST = "09:15"
	}
	if cfg.SessionEndIST == "" {
		cfg.SessionEndIST = "15:30"
	}

	entryOpen, err := parseHHMM(cfg.EntryOpenIST)
	if err != nil {
		return nil, err
	}
	entryClose, err := parseHHMM(cfg.EntryCloseIST)
	if err != nil {
		return nil, err
	}
	forceFlat, err := parseHHMM(cfg.ForceFlatIST)
	if err != nil {
		return nil, err
	}
	sessionOpen, err := parseHHMM(cfg.SessionOpenIST)
	if err != nil {
		return nil, err
	}
	sessionEnd, err := parseHHMM(cfg.SessionEndIST)
	if err != nil {
		return nil, err
	}

	return &Calendar{
		holidays:    holidays,
		entryOpen:   entryOpen,
		entryClose:  entryClose,
		forceFlat:   forceFlat,
		sessionOpen: sessionOpen,
		sessionEnd:  sessionEnd,
	}, nil
}

// NowUTC returns the current wall time in UTC.
func (c *Calendar) NowUTC() time.Time { return time.Now().UTC() }

// NowIST returns the current wall time in IST.
func (c *Calendar) NowIST() time.Time { return time.Now().In(IST) }

// IsWeekday reports whether the given IST instant falls on Mon-Fri.
func (c *Calendar) IsWeekday(dayIST time.Time) bool {
	d := dayIST.Weekday()
	return d != time.Saturday && d != time.Sunday
}

// IsTradingDay reports whether dayIST is a weekday that is not an NSE
// holiday.
func (c *Calendar) IsTradingDay(dayIST time.Time) bool {
	d := dayIST.In(IST)
	if !c.IsWeekday(d) {
		return false
	}
	_, isHoliday := c.holidays[d.Format("2006-01-02")]
	return !isHoliday
}

// HolidayReason returns the reason dayIST is a holiday, or "" if it isn't.
func (c *Calendar) HolidayReason(dayIST time.Time) string {
	return c.holidays[dayIST.In(IST).Format("2006-01-02")]
}

// WithinSession reports whether nowIST falls inside [09:15, 15:30) IST
// on a trading day.
func (c *Calendar) WithinSession(nowIST time.Time) bool {
	t := nowIST.In(IST)
	if !c.IsTradingDay(t) {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= c.sessionOpen.minutes() && mins < c.sessionEnd.minutes()
}

// WithinEntryWindow reports whether nowIST falls inside
// [entryOpenIST, entryCloseIST) on a trading day.
func (c *Calendar) WithinEntryWindow(nowIST time.Time) bool {
	t := nowIST.In(IST)
	if !c.IsTradingDay(t) {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= c.entryOpen.minutes() && mins < c.entryClose.minutes()
}

// AtOrAfterForceFlat reports whether nowIST is at or past forceFlatIST.
// This is an unconditional cutoff independent of IsTradingDay: if a
// position is somehow still open past this wall-clock time, it must be
// closed regardless.
func (c *Calendar) AtOrAfterForceFlat(nowIST time.Time) bool {
	t := nowIST.In(IST)
	mins := t.Hour()*60 + t.Minute()
	return mins >= c.forceFlat.minutes()
}

// DateIST returns the IST calendar date (midnight IST) for t, used as
// the RiskBook/day_stats rollover key.
func DateIST(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
}

// NextTradingDay returns the next trading day strictly after dayIST.
func (c *Calendar) NextTradingDay(dayIST time.Time) time.Time {
	candidate := dayIST.In(IST).AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

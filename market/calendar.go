package market

import (
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NSE SESSION CALENDAR - IST clock, phases, holidays
// ═══════════════════════════════════════════════════════════════════════════════

// IST is the exchange timezone. NSE publishes all session timings in
// Asia/Kolkata and never observes DST.
var IST = mustLoadIST()

func mustLoadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// UTC+5:30, no DST
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

// Phase is the named slice of the trading day that gates strategy activity.
type Phase string

const (
	PhasePreMarket   Phase = "PRE_MARKET"
	PhaseOpening     Phase = "OPENING"      // 09:15 - 09:30
	PhaseEntryWindow Phase = "ENTRY_WINDOW" // 09:30 - 09:45
	PhaseContinuous  Phase = "CONTINUOUS"   // 09:45 - 14:30
	PhaseWindDown    Phase = "WIND_DOWN"    // 14:30 - 15:30, exits only
	PhasePostMarket  Phase = "POST_MARKET"
)

// Session timings in minutes from midnight IST.
const (
	minuteMarketOpen    = 9*60 + 15  // 09:15
	minuteEntryWindow   = 9*60 + 30  // 09:30
	minuteRangeLock     = 9*60 + 45  // 09:45
	minuteSignalCutoff  = 14*60 + 30 // 14:30
	minuteExitReminder  = 15*60 + 0  // 15:00
	minuteMandatoryExit = 15*60 + 15 // 15:15
	minuteMarketClose   = 15*60 + 30 // 15:30
)

// PhaseAt returns the session phase for a wall-clock instant.
func PhaseAt(t time.Time) Phase {
	m := minuteOfDay(t)
	switch {
	case m < minuteMarketOpen:
		return PhasePreMarket
	case m < minuteEntryWindow:
		return PhaseOpening
	case m < minuteRangeLock:
		return PhaseEntryWindow
	case m < minuteSignalCutoff:
		return PhaseContinuous
	case m < minuteMarketClose:
		return PhaseWindDown
	default:
		return PhasePostMarket
	}
}

// SignalPhase reports whether strategies may emit new signals in this phase.
func (p Phase) SignalPhase() bool {
	return p == PhaseOpening || p == PhaseEntryWindow || p == PhaseContinuous
}

func minuteOfDay(t time.Time) int {
	ist := t.In(IST)
	return ist.Hour()*60 + ist.Minute()
}

// Calendar answers trading-day questions against a per-year holiday set.
type Calendar struct {
	holidays map[string]bool // "2006-01-02" -> true
}

// NSE trading holidays. Extend per year; weekends are excluded structurally.
var defaultHolidays = []string{
	// 2025
	"2025-02-26", "2025-03-14", "2025-03-31", "2025-04-10", "2025-04-14",
	"2025-04-18", "2025-05-01", "2025-08-15", "2025-08-27", "2025-10-02",
	"2025-10-21", "2025-10-22", "2025-11-05", "2025-12-25",
	// 2026
	"2026-01-26", "2026-03-03", "2026-03-20", "2026-04-01", "2026-04-03",
	"2026-04-14", "2026-05-01", "2026-08-15", "2026-09-14", "2026-10-02",
	"2026-11-09", "2026-11-10", "2026-12-25",
}

// NewCalendar builds a calendar from the built-in holiday table plus extras.
func NewCalendar(extra ...string) *Calendar {
	c := &Calendar{holidays: make(map[string]bool)}
	for _, d := range defaultHolidays {
		c.holidays[d] = true
	}
	for _, d := range extra {
		c.holidays[d] = true
	}
	return c
}

// IsTradingDay reports whether the market is open on the given date.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	if ist.Weekday() == time.Saturday || ist.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[ist.Format("2006-01-02")]
}

// IsHoliday reports whether the date is a listed exchange holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.In(IST).Format("2006-01-02")]
}

// ParseClock converts an "HH:MM" string into minutes from midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// BeforeClock reports whether t is strictly before the "HH:MM" IST wall time.
// Malformed clock strings fail open (return false) and are caught by config
// validation at startup.
func BeforeClock(t time.Time, clock string) bool {
	m, err := ParseClock(clock)
	if err != nil {
		return false
	}
	return minuteOfDay(t) < m
}

// AtOrAfterClock reports whether t has reached the "HH:MM" IST wall time.
func AtOrAfterClock(t time.Time, clock string) bool {
	m, err := ParseClock(clock)
	if err != nil {
		return false
	}
	return minuteOfDay(t) >= m
}

// Day returns the trading-date key in IST, used for daily-uniqueness checks.
func Day(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// CandleBucket aligns a timestamp to its 15-minute bucket start.
func CandleBucket(t time.Time) time.Time {
	ist := t.In(IST)
	bucketMin := (ist.Minute() / 15) * 15
	return time.Date(ist.Year(), ist.Month(), ist.Day(), ist.Hour(), bucketMin, 0, 0, IST)
}

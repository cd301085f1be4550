package sched

import (
	"testing"
	"time"

	"nse-signal-engine/market"
)

func istClock(year int, month time.Month, day, h, m int) time.Time {
	return time.Date(year, month, day, h, m, 0, 0, market.IST)
}

func TestFireOncePerDay(t *testing.T) {
	fired := 0
	s := New(market.NewCalendar())
	s.Add(Job{Name: "open", At: "09:15", TradingDayOnly: true, Run: func() { fired++ }})

	// Tuesday 2026-03-10.
	s.fire(istClock(2026, 3, 10, 9, 14))
	if fired != 0 {
		t.Fatalf("fired before the mark: %d", fired)
	}

	s.fire(istClock(2026, 3, 10, 9, 16))
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// Later polls the same day stay quiet.
	s.fire(istClock(2026, 3, 10, 9, 17))
	s.fire(istClock(2026, 3, 10, 14, 0))
	if fired != 1 {
		t.Fatalf("refired same day: %d", fired)
	}

	// Next trading day fires again.
	s.fire(istClock(2026, 3, 11, 9, 16))
	if fired != 2 {
		t.Fatalf("fired = %d, want 2 across two days", fired)
	}
}

func TestTradingDayOnlySkipsClosedDays(t *testing.T) {
	fired := 0
	s := New(market.NewCalendar())
	s.Add(Job{Name: "open", At: "09:15", TradingDayOnly: true, Run: func() { fired++ }})

	// Saturday and a listed holiday (Republic Day): skipped without running,
	// and without retry storms later the same day.
	s.fire(istClock(2026, 3, 7, 9, 30))
	s.fire(istClock(2026, 3, 7, 10, 0))
	s.fire(istClock(2026, 1, 26, 9, 30))
	if fired != 0 {
		t.Fatalf("fired on closed day: %d", fired)
	}
}

func TestWeekdayPinnedJob(t *testing.T) {
	fired := 0
	s := New(market.NewCalendar())
	s.Add(Job{Name: "rebalance", At: "18:00", Weekday: On(time.Sunday), Run: func() { fired++ }})

	// Tuesday evening: pinned to Sunday, stays quiet.
	s.fire(istClock(2026, 3, 10, 18, 5))
	if fired != 0 {
		t.Fatalf("weekday-pinned job fired on Tuesday")
	}

	// Sunday is not a trading day, but the job is not trading-day-gated.
	s.fire(istClock(2026, 3, 8, 18, 5))
	if fired != 1 {
		t.Fatalf("fired = %d, want 1 on Sunday", fired)
	}
}

func TestMarkPastSuppressesReplay(t *testing.T) {
	var ran []string
	s := New(market.NewCalendar())
	s.Add(
		Job{Name: "news", At: "08:30", TradingDayOnly: true, Run: func() { ran = append(ran, "news") }},
		Job{Name: "cutoff", At: "14:30", TradingDayOnly: true, Run: func() { ran = append(ran, "cutoff") }},
	)

	// Process (re)started at 11:00: the morning marks must not replay.
	s.markPast(istClock(2026, 3, 10, 11, 0))
	s.fire(istClock(2026, 3, 10, 11, 0))
	if len(ran) != 0 {
		t.Fatalf("replayed past jobs: %v", ran)
	}

	// The afternoon mark still fires on schedule.
	s.fire(istClock(2026, 3, 10, 14, 31))
	if len(ran) != 1 || ran[0] != "cutoff" {
		t.Fatalf("ran = %v, want [cutoff]", ran)
	}
}

func TestAddRejectsBadJobs(t *testing.T) {
	s := New(market.NewCalendar())
	s.Add(
		Job{Name: "bad-clock", At: "25:99", Run: func() {}},
		Job{Name: "nil-run", At: "10:00"},
		Job{Name: "good", At: "10:00", Run: func() {}},
	)
	if len(s.jobs) != 1 || s.jobs[0].Name != "good" {
		t.Fatalf("jobs = %+v, want only the valid entry", s.jobs)
	}
}

func TestJobPanicContained(t *testing.T) {
	fired := 0
	s := New(market.NewCalendar())
	s.Add(
		Job{Name: "boom", At: "09:15", Run: func() { panic("job blew up") }},
		Job{Name: "after", At: "09:15", Run: func() { fired++ }},
	)

	s.fire(istClock(2026, 3, 10, 9, 16))
	if fired != 1 {
		t.Fatalf("job after the panicking one did not run")
	}
}

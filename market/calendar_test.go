package market

import (
	"testing"
	"time"
)

func TestPhaseAt(t *testing.T) {
	tests := []struct {
		name string
		h, m int
		want Phase
	}{
		{"before open", 9, 14, PhasePreMarket},
		{"opening bell", 9, 15, PhaseOpening},
		{"opening range forming", 9, 29, PhaseOpening},
		{"entry window start", 9, 30, PhaseEntryWindow},
		{"entry window end", 9, 44, PhaseEntryWindow},
		{"continuous start", 9, 45, PhaseContinuous},
		{"midday", 12, 0, PhaseContinuous},
		{"wind down start", 14, 30, PhaseWindDown},
		{"last trading minute", 15, 29, PhaseWindDown},
		{"market close", 15, 30, PhasePostMarket},
		{"evening", 18, 0, PhasePostMarket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := time.Date(2026, 3, 10, tt.h, tt.m, 30, 0, IST)
			if got := PhaseAt(ts); got != tt.want {
				t.Errorf("PhaseAt(%02d:%02d) = %s, want %s", tt.h, tt.m, got, tt.want)
			}
		})
	}
}

func TestPhaseAtConvertsZone(t *testing.T) {
	// 04:00 UTC is 09:30 IST.
	ts := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	if got := PhaseAt(ts); got != PhaseEntryWindow {
		t.Errorf("PhaseAt(04:00 UTC) = %s, want ENTRY_WINDOW", got)
	}
}

func TestSignalPhase(t *testing.T) {
	tests := []struct {
		phase Phase
		want  bool
	}{
		{PhasePreMarket, false},
		{PhaseOpening, false},
		{PhaseEntryWindow, true},
		{PhaseContinuous, true},
		{PhaseWindDown, false},
		{PhasePostMarket, false},
	}
	for _, tt := range tests {
		if got := tt.phase.SignalPhase(); got != tt.want {
			t.Errorf("%s.SignalPhase() = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestIsTradingDay(t *testing.T) {
	cal := NewCalendar()
	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"tuesday", time.Date(2026, 3, 10, 10, 0, 0, 0, IST), true},
		{"saturday", time.Date(2026, 3, 14, 10, 0, 0, 0, IST), false},
		{"sunday", time.Date(2026, 3, 15, 10, 0, 0, 0, IST), false},
		{"republic day", time.Date(2026, 1, 26, 10, 0, 0, 0, IST), false},
		{"day after holiday", time.Date(2026, 1, 27, 10, 0, 0, 0, IST), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.IsTradingDay(tt.date); got != tt.want {
				t.Errorf("IsTradingDay(%s) = %v, want %v", tt.date.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:15", 9*60 + 15, false},
		{"15:30", 15*60 + 30, false},
		{"00:00", 0, false},
		{"9:15", 9*60 + 15, false},
		{"25:00", 0, true},
		{"09:60", 0, true},
		{"junk", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClockComparisons(t *testing.T) {
	ts := time.Date(2026, 3, 10, 11, 0, 0, 0, IST)
	if !BeforeClock(ts, "11:01") {
		t.Error("11:00 should be before 11:01")
	}
	if BeforeClock(ts, "11:00") {
		t.Error("11:00 is not before 11:00")
	}
	if !AtOrAfterClock(ts, "11:00") {
		t.Error("11:00 should be at-or-after 11:00")
	}
	if AtOrAfterClock(ts, "11:01") {
		t.Error("11:00 is not at-or-after 11:01")
	}
}

func TestCandleBucket(t *testing.T) {
	tests := []struct {
		h, m, s  int
		wantH    int
		wantM    int
	}{
		{9, 15, 0, 9, 15},
		{9, 29, 59, 9, 15},
		{9, 30, 0, 9, 30},
		{9, 44, 1, 9, 30},
		{14, 59, 59, 14, 45},
		{15, 0, 0, 15, 0},
	}
	for _, tt := range tests {
		ts := time.Date(2026, 3, 10, tt.h, tt.m, tt.s, 0, IST)
		got := CandleBucket(ts)
		if got.Hour() != tt.wantH || got.Minute() != tt.wantM || got.Second() != 0 {
			t.Errorf("CandleBucket(%02d:%02d:%02d) = %v, want %02d:%02d",
				tt.h, tt.m, tt.s, got, tt.wantH, tt.wantM)
		}
	}
}

func TestDay(t *testing.T) {
	// 20:00 UTC on Mar 10 is already Mar 11 in IST.
	ts := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	if got := Day(ts); got != "2026-03-11" {
		t.Errorf("Day = %q, want 2026-03-11", got)
	}
}

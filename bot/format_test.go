package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/risk"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func sampleSignal() types.FinalSignal {
	return types.FinalSignal{
		RankedSignal: types.RankedSignal{
			CandidateSignal: types.CandidateSignal{
				Symbol:    "RELIANCE",
				Direction: "BUY",
				Strategy:  types.StrategyGap,
				Entry:     dec(2450),
				StopLoss:  dec(2376.50),
				Target1:   dec(2572.50),
				Target2:   dec(2621.50),
			},
			CompositeScore: 78.4,
			Rank:           1,
			Strength:       4,
		},
		Quantity:        40,
		CapitalRequired: dec(98000),
		ExpiresAt:       time.Date(2026, 2, 2, 10, 42, 0, 0, market.IST),
	}
}

func TestFormatSignal(t *testing.T) {
	text := formatSignal(sampleSignal(), 12, types.Confirmation{
		Level:      types.ConfirmDouble,
		Strategies: []string{"GAP", "ORB"},
	}, []string{"mild negative news"})

	for _, want := range []string{
		"BUY SIGNAL", "#12", "RELIANCE", "Gap & Go", "⭐⭐⭐⭐",
		"₹2450.00", "₹2376.50", "10:42", "Qty 40",
		"Confirmed by GAP + ORB", "⚠️ mild negative news",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("signal message missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "PAPER") {
		t.Error("live signal rendered as paper")
	}
}

func TestFormatSignalPaper(t *testing.T) {
	sig := sampleSignal()
	sig.Paper = true
	text := formatSignal(sig, 7, types.Confirmation{Level: types.ConfirmSingle}, nil)
	if !strings.Contains(text, "PAPER SIGNAL") {
		t.Errorf("paper signal not marked:\n%s", text)
	}
	if strings.Contains(text, "Confirmed by") {
		t.Error("single confirmation should not render an agreement line")
	}
}

func TestFormatAdvisoryKinds(t *testing.T) {
	trade := &storage.Trade{
		Symbol:       "TCS",
		Entry:        dec(100),
		StopLoss:     dec(101),
		Target2:      dec(107),
		HighestPrice: dec(105),
	}
	cases := []struct {
		kind string
		want string
	}{
		{risk.AdvisoryBreakeven, "breakeven"},
		{risk.AdvisoryTrailingSL, "trailing SL raised"},
		{risk.AdvisoryT1, "Target 1 hit"},
		{risk.AdvisorySLApproaching, "within 0.5%"},
		{risk.AdvisoryNearT2, "within 0.3%"},
		{risk.AdvisoryTimeExit, "square-off"},
	}
	for _, c := range cases {
		text := formatAdvisory(trade, c.kind, dec(103))
		if !strings.Contains(text, c.want) {
			t.Errorf("advisory %s missing %q:\n%s", c.kind, c.want, text)
		}
		if !strings.Contains(text, "TCS") {
			t.Errorf("advisory %s missing symbol", c.kind)
		}
	}
}

func TestFormatExit(t *testing.T) {
	trade := &storage.Trade{Symbol: "INFY", Entry: dec(1500)}
	text := formatExit(trade, types.ExitSLHit, dec(1455), dec(-450), -3.0)
	for _, want := range []string{"STOP-LOSS HIT", "INFY", "₹1500.00", "₹1455.00", "🔴", "-3.00%"} {
		if !strings.Contains(text, want) {
			t.Errorf("exit message missing %q:\n%s", want, text)
		}
	}

	win := formatExit(trade, types.ExitT2Hit, dec(1605), dec(1050), 7.0)
	if !strings.Contains(win, "🟢") || !strings.Contains(win, "TARGET 2") {
		t.Errorf("winning exit misrendered:\n%s", win)
	}
}

func TestPctFrom(t *testing.T) {
	if got := pctFrom(dec(100), dec(103)); got < 2.99 || got > 3.01 {
		t.Errorf("pctFrom(100,103) = %.2f, want 3", got)
	}
	if got := pctFrom(dec(100), dec(97)); got > -2.99 || got < -3.01 {
		t.Errorf("pctFrom(100,97) = %.2f, want -3", got)
	}
	if got := pctFrom(decimal.Zero, dec(50)); got != 0 {
		t.Errorf("pctFrom(0,50) = %.2f, want 0", got)
	}
}

func TestStarsClamped(t *testing.T) {
	if stars(0) != "⭐" {
		t.Errorf("stars(0) = %q", stars(0))
	}
	if stars(7) != strings.Repeat("⭐", 5) {
		t.Errorf("stars(7) = %q", stars(7))
	}
}

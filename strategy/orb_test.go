package strategy

import (
	"testing"

	"nse-signal-engine/internal/config"
	"nse-signal-engine/market"
	"nse-signal-engine/types"
)

func orbConfig() config.ORBConfig {
	return config.ORBConfig{
		MinRangePct:      0.5,
		MaxRangePct:      3.0,
		VolumeMultiplier: 1.5,
		MaxRiskPct:       3.0,
		Target1Pct:       4.0,
		Target2Pct:       6.0,
		CutoffTime:       "11:00",
	}
}

// seedORBSymbol builds a locked 100-102 opening range with two completed
// candles (volumes 10000 and 5000) and a surging current candle.
func seedORBSymbol(t *testing.T, store *market.Store, symbol string) {
	t.Helper()
	store.ApplyTick(types.Tick{Symbol: symbol, LTP: d(101), Open: d(100.5),
		High: d(102), Low: d(100), CumVolume: 10000, Timestamp: istTime(9, 16)})
	store.ApplyTick(types.Tick{Symbol: symbol, LTP: d(101.5), Open: d(100.5),
		High: d(101.5), Low: d(101), CumVolume: 15000, Timestamp: istTime(9, 31)})
	if n := store.LockOpeningRanges(); n != 1 {
		t.Fatalf("locked ranges = %d, want 1", n)
	}
	store.ApplyTick(types.Tick{Symbol: symbol, LTP: d(101.8), Open: d(100.5),
		High: d(101.8), Low: d(101.5), CumVolume: 18000, Timestamp: istTime(9, 46)})
	// Current candle: 22000 shares against a 7500 completed-candle average.
	store.ApplyTick(types.Tick{Symbol: symbol, LTP: d(102.5), Open: d(100.5),
		High: d(102.5), Low: d(101.8), CumVolume: 40000, Timestamp: istTime(9, 50)})
}

func TestORBBreakout(t *testing.T) {
	store := market.NewStore()
	o := NewORB(orbConfig(), NewGapRegistry())
	seedORBSymbol(t, store, "SBIN")

	got := o.Evaluate(store, market.PhaseContinuous, istTime(9, 50))
	if len(got) != 1 {
		t.Fatalf("signals = %d, want 1", len(got))
	}
	sig := got[0]
	if sig.Direction != types.DirectionBuy {
		t.Errorf("Direction = %q, want %q", sig.Direction, types.DirectionBuy)
	}
	if !sig.Entry.Equal(d(102.5)) {
		t.Errorf("Entry = %s, want 102.5", sig.Entry)
	}
	if !sig.StopLoss.Equal(d(100)) {
		t.Errorf("StopLoss = %s, want range low 100", sig.StopLoss)
	}
	if !sig.Target1.Equal(d(106.6)) {
		t.Errorf("Target1 = %s, want 106.6", sig.Target1)
	}

	// One per symbol per session.
	if got := o.Evaluate(store, market.PhaseContinuous, istTime(9, 51)); len(got) != 0 {
		t.Fatalf("second ORB signal for the same symbol: %v", got)
	}
}

func TestORBRespectsCutoff(t *testing.T) {
	store := market.NewStore()
	o := NewORB(orbConfig(), NewGapRegistry())
	seedORBSymbol(t, store, "SBIN")

	if got := o.Evaluate(store, market.PhaseContinuous, istTime(11, 0)); len(got) != 0 {
		t.Fatalf("ORB signaled at the cutoff: %v", got)
	}
}

func TestORBExcludesGapMarkedSymbols(t *testing.T) {
	store := market.NewStore()
	gaps := NewGapRegistry()
	gaps.Mark("SBIN")
	o := NewORB(orbConfig(), gaps)
	seedORBSymbol(t, store, "SBIN")

	if got := o.Evaluate(store, market.PhaseContinuous, istTime(9, 50)); len(got) != 0 {
		t.Fatalf("gap-marked symbol signaled: %v", got)
	}
}

func TestORBRequiresLockedRange(t *testing.T) {
	store := market.NewStore()
	o := NewORB(orbConfig(), NewGapRegistry())
	// Ticks but no LockOpeningRanges call.
	store.ApplyTick(types.Tick{Symbol: "SBIN", LTP: d(102.5), Open: d(100.5),
		High: d(102.5), Low: d(100), CumVolume: 40000, Timestamp: istTime(9, 50)})

	if got := o.Evaluate(store, market.PhaseContinuous, istTime(9, 50)); len(got) != 0 {
		t.Fatalf("ORB signaled on an unlocked range: %v", got)
	}
}

func TestORBRangeSizeFilter(t *testing.T) {
	store := market.NewStore()
	o := NewORB(orbConfig(), NewGapRegistry())

	// 95-102 range is a 7.4% span, far past the 3% cap.
	store.ApplyTick(types.Tick{Symbol: "WILD", LTP: d(101), Open: d(96),
		High: d(102), Low: d(95), CumVolume: 10000, Timestamp: istTime(9, 16)})
	store.ApplyTick(types.Tick{Symbol: "WILD", LTP: d(101.5), Open: d(96),
		High: d(101.5), Low: d(101), CumVolume: 15000, Timestamp: istTime(9, 31)})
	store.LockOpeningRanges()
	store.ApplyTick(types.Tick{Symbol: "WILD", LTP: d(102.5), Open: d(96),
		High: d(102.5), Low: d(101.8), CumVolume: 40000, Timestamp: istTime(9, 50)})

	if got := o.Evaluate(store, market.PhaseContinuous, istTime(9, 50)); len(got) != 0 {
		t.Fatalf("wide-range symbol signaled: %v", got)
	}
}

func TestORBVolumeFilter(t *testing.T) {
	store := market.NewStore()
	o := NewORB(orbConfig(), NewGapRegistry())

	store.ApplyTick(types.Tick{Symbol: "SBIN", LTP: d(101), Open: d(100.5),
		High: d(102), Low: d(100), CumVolume: 10000, Timestamp: istTime(9, 16)})
	store.ApplyTick(types.Tick{Symbol: "SBIN", LTP: d(101.5), Open: d(100.5),
		High: d(101.5), Low: d(101), CumVolume: 15000, Timestamp: istTime(9, 31)})
	store.LockOpeningRanges()
	// Current candle volume 1000 against a 7500 average: no surge.
	store.ApplyTick(types.Tick{Symbol: "SBIN", LTP: d(102.5), Open: d(100.5),
		High: d(102.5), Low: d(101.8), CumVolume: 16000, Timestamp: istTime(9, 50)})

	if got := o.Evaluate(store, market.PhaseContinuous, istTime(9, 50)); len(got) != 0 {
		t.Fatalf("low-volume breakout signaled: %v", got)
	}
}

package core

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

func testSettings(t *testing.T) (*SettingsManager, *storage.Database) {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m, err := LoadSettings(db, storage.UserConfig{
		Capital:         decimal.NewFromInt(100000),
		MaxPositions:    3,
		MaxRiskPct:      3,
		SignalExpiryMin: 30,
		GapAllocPct:     100.0 / 3,
		ORBAllocPct:     100.0 / 3,
		VWAPAllocPct:    100.0 / 3,
	})
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	return m, db
}

func TestSettingsPersistAcrossReload(t *testing.T) {
	m, db := testSettings(t)

	if err := m.SetCapital(decimal.NewFromInt(250000)); err != nil {
		t.Fatalf("SetCapital: %v", err)
	}
	if err := m.SetAllocations(50, 30, 20); err != nil {
		t.Fatalf("SetAllocations: %v", err)
	}
	if err := m.SetPaused(types.StrategyVWAP, true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}

	reloaded, err := LoadSettings(db, storage.UserConfig{Capital: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap := reloaded.Snapshot()
	if !snap.Capital.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("capital = %s, want 250000", snap.Capital)
	}
	if snap.Allocations[types.StrategyGap] != 50 {
		t.Errorf("gap alloc = %.1f, want 50", snap.Allocations[types.StrategyGap])
	}
	if !snap.PausedStrategies[types.StrategyVWAP] {
		t.Error("VWAP pause did not survive reload")
	}
}

func TestSetAllocationsRejectsBadSums(t *testing.T) {
	m, _ := testSettings(t)
	if err := m.SetAllocations(50, 30, 10); err == nil {
		t.Error("sum 90 accepted")
	}
	if err := m.SetAllocations(120, -10, -10); err == nil {
		t.Error("negative allocation accepted")
	}
	if err := m.SetCapital(decimal.Zero); err == nil {
		t.Error("zero capital accepted")
	}
}

func TestRebalanceFollowsWinRates(t *testing.T) {
	m, db := testSettings(t)
	now := istTime(18, 0)
	day := market.Day(now)

	closed := func(strategy string, pnl float64) {
		t.Helper()
		id, err := db.InsertTrade(&storage.Trade{
			Date: day, Symbol: "X", Strategy: strategy,
			Entry: dec(100), StopLoss: dec(97), InitialStopLoss: dec(97),
			Target1: dec(105), Target2: dec(107), Quantity: 10,
			Status: "open", OpenedAt: now,
		})
		if err != nil {
			t.Fatalf("insert trade: %v", err)
		}
		if err := db.CloseTrade(id, dec(100+pnl/10), dec(pnl), pnl/10, types.ExitManual); err != nil {
			t.Fatalf("close trade: %v", err)
		}
	}

	// GAP 4/5 wins, ORB 1/5 wins, VWAP untraded.
	for i := 0; i < 4; i++ {
		closed(types.StrategyGap, 500)
	}
	closed(types.StrategyGap, -300)
	closed(types.StrategyORB, 500)
	for i := 0; i < 4; i++ {
		closed(types.StrategyORB, -300)
	}

	gap, orb, vwap, err := m.Rebalance(now)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if sum := gap + orb + vwap; sum < 99.9 || sum > 100.1 {
		t.Fatalf("allocations sum to %.2f, want 100", sum)
	}
	if gap <= vwap || vwap <= orb {
		t.Fatalf("ordering gap=%.1f vwap=%.1f orb=%.1f, want gap > vwap > orb", gap, vwap, orb)
	}
	if orb < 10 {
		t.Errorf("cold strategy starved: orb = %.1f", orb)
	}

	snap := m.Snapshot()
	if got := snap.Allocations[types.StrategyGap]; got < gap-0.01 || got > gap+0.01 {
		t.Errorf("persisted gap alloc = %.2f, want %.2f", got, gap)
	}
}

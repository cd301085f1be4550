package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSignalLifecycle(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	id, err := db.InsertSignal(&Signal{
		Date: "2026-03-10", Symbol: "SBIN", Strategy: "GAP",
		Entry: dec(105), StopLoss: dec(104), Target1: dec(110.25), Target2: dec(112.35),
		Status: "sent", ExpiresAt: now.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	active, err := db.GetActiveSignals("2026-03-10", now)
	if err != nil || len(active) != 1 {
		t.Fatalf("active = %d (%v), want 1", len(active), err)
	}

	if err := db.UpdateSignalStatus(id, "taken"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	s, err := db.GetSignal(id)
	if err != nil || s.Status != "taken" {
		t.Errorf("status = %s (%v), want taken", s.Status, err)
	}

	// Taken signals are no longer active.
	active, _ = db.GetActiveSignals("2026-03-10", now)
	if len(active) != 0 {
		t.Errorf("active after take = %d, want 0", len(active))
	}
}

func TestExpireStaleSignals(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	db.InsertSignal(&Signal{
		Date: "2026-03-10", Symbol: "SBIN", Status: "sent",
		ExpiresAt: now.Add(-time.Minute),
	})
	db.InsertSignal(&Signal{
		Date: "2026-03-10", Symbol: "TCS", Status: "sent",
		ExpiresAt: now.Add(time.Hour),
	})

	n, err := db.ExpireStaleSignals(now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expired %d, want 1", n)
	}

	active, _ := db.GetActiveSignals("2026-03-10", now)
	if len(active) != 1 || active[0].Symbol != "TCS" {
		t.Errorf("surviving active = %+v, want only TCS", active)
	}
}

func TestHasSignalForStockTodayAnyStatus(t *testing.T) {
	db := testDB(t)
	id, _ := db.InsertSignal(&Signal{
		Date: "2026-03-10", Symbol: "SBIN", Status: "sent",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	db.UpdateSignalStatus(id, "skipped")

	// Skipped still blocks a second signal for the day.
	has, err := db.HasSignalForStockToday("SBIN", "2026-03-10")
	if err != nil || !has {
		t.Errorf("has = %v (%v), want true", has, err)
	}
	has, _ = db.HasSignalForStockToday("SBIN", "2026-03-11")
	if has {
		t.Error("signal leaked across days")
	}
}

func TestTradeOpenClose(t *testing.T) {
	db := testDB(t)

	id, err := db.InsertTrade(&Trade{
		SignalID: 1, Date: "2026-03-10", Symbol: "SBIN", Strategy: "GAP",
		Entry: dec(105), StopLoss: dec(104), InitialStopLoss: dec(104),
		Target1: dec(110.25), Target2: dec(112.35), Quantity: 95,
		HighestPrice: dec(105), Status: "open", OpenedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	count, _ := db.GetActiveTradeCount()
	if count != 1 {
		t.Errorf("active count = %d, want 1", count)
	}
	has, _ := db.HasActiveTradeForSymbol("SBIN")
	if !has {
		t.Error("expected active trade for SBIN")
	}

	if err := db.CloseTrade(id, dec(110.25), dec(498.75), 5.0, "t1_hit"); err != nil {
		t.Fatal(err)
	}

	tr, _ := db.GetTrade(id)
	if tr.Status != "closed" || tr.ExitReason != "t1_hit" {
		t.Errorf("closed trade = %s/%s", tr.Status, tr.ExitReason)
	}
	if tr.ClosedAt == nil {
		t.Error("ClosedAt not set")
	}
	count, _ = db.GetActiveTradeCount()
	if count != 0 {
		t.Errorf("active count after close = %d, want 0", count)
	}
}

func TestTrailingStatePersists(t *testing.T) {
	db := testDB(t)
	id, _ := db.InsertTrade(&Trade{
		Date: "2026-03-10", Symbol: "SBIN", Entry: dec(100),
		StopLoss: dec(98), InitialStopLoss: dec(98), HighestPrice: dec(100),
		Status: "open", OpenedAt: time.Now(),
	})

	if err := db.UpdateTradeStop(id, dec(103.88), dec(106), true, true); err != nil {
		t.Fatal(err)
	}
	db.MarkT1Alerted(id)

	tr, _ := db.GetTrade(id)
	if !tr.StopLoss.Equal(dec(103.88)) {
		t.Errorf("stop = %s, want 103.88", tr.StopLoss)
	}
	if !tr.HighestPrice.Equal(dec(106)) {
		t.Errorf("highest = %s, want 106", tr.HighestPrice)
	}
	if !tr.TrailingActive || !tr.BreakevenHit || !tr.T1Alerted {
		t.Errorf("flags = %v/%v/%v, want all true",
			tr.TrailingActive, tr.BreakevenHit, tr.T1Alerted)
	}
	if !tr.InitialStopLoss.Equal(dec(98)) {
		t.Error("initial stop must never move")
	}
}

func TestActiveTradesOrderedByID(t *testing.T) {
	db := testDB(t)
	for _, sym := range []string{"TCS", "SBIN", "INFY"} {
		db.InsertTrade(&Trade{
			Date: "2026-03-10", Symbol: sym, Status: "open", OpenedAt: time.Now(),
		})
	}
	trades, err := db.GetActiveTrades()
	if err != nil || len(trades) != 3 {
		t.Fatalf("trades = %d (%v), want 3", len(trades), err)
	}
	for i := 1; i < len(trades); i++ {
		if trades[i].ID <= trades[i-1].ID {
			t.Error("trades not in id order")
		}
	}
}

func TestCountSLHitsExcludesPaper(t *testing.T) {
	db := testDB(t)
	mk := func(paper bool, reason string) {
		id, _ := db.InsertTrade(&Trade{
			Date: "2026-03-10", Symbol: "X", Paper: paper,
			Status: "open", OpenedAt: time.Now(),
		})
		db.CloseTrade(id, dec(99), dec(-100), -1, reason)
	}
	mk(false, "sl_hit")
	mk(false, "sl_hit")
	mk(true, "sl_hit")
	mk(false, "t1_hit")

	n, err := db.CountSLHitsToday("2026-03-10")
	if err != nil || n != 2 {
		t.Errorf("sl hits = %d (%v), want 2", n, err)
	}
}

func TestUserConfigSeedAndSave(t *testing.T) {
	db := testDB(t)
	defaults := UserConfig{
		Capital: dec(100000), MaxPositions: 3, MaxRiskPct: 3, SignalExpiryMin: 30,
		GapAllocPct: 100.0 / 3, ORBAllocPct: 100.0 / 3, VWAPAllocPct: 100.0 / 3,
	}

	cfg, err := db.GetOrCreateUserConfig(defaults)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Capital.Equal(dec(100000)) || cfg.MaxPositions != 3 {
		t.Errorf("seeded config = %+v", cfg)
	}

	cfg.Capital = dec(250000)
	cfg.GapPaused = true
	if err := db.SaveUserConfig(cfg); err != nil {
		t.Fatal(err)
	}

	// Re-read must not re-seed defaults.
	again, _ := db.GetOrCreateUserConfig(defaults)
	if !again.Capital.Equal(dec(250000)) || !again.GapPaused {
		t.Errorf("persisted config = %+v", again)
	}
}

func TestRollingWinRate(t *testing.T) {
	db := testDB(t)
	today := time.Now().Format("2006-01-02")

	outcomes := []float64{500, 300, -200, 400, -100} // 3 wins, 2 losses
	for _, pnl := range outcomes {
		id, _ := db.InsertTrade(&Trade{
			Date: today, Symbol: "X", Strategy: "GAP",
			Status: "open", OpenedAt: time.Now(),
		})
		db.CloseTrade(id, dec(100), dec(pnl), pnl/100, "t1_hit")
	}

	rate, sample, err := db.RollingWinRate("GAP", 10, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sample != 5 {
		t.Errorf("sample = %d, want 5", sample)
	}
	if rate != 60 {
		t.Errorf("rate = %f, want 60", rate)
	}

	// No history yet for another strategy.
	rate, sample, _ = db.RollingWinRate("ORB", 10, time.Now())
	if rate != 0 || sample != 0 {
		t.Errorf("ORB rate/sample = %f/%d, want 0/0", rate, sample)
	}
}

func TestWatchlist(t *testing.T) {
	db := testDB(t)

	db.AddWatch("2026-03-10", "SBIN", "GAP", "strong gap, missed entry")
	db.AddWatch("2026-03-10", "SBIN", "GAP", "dup") // idempotent
	db.AddWatch("2026-03-10", "TCS", "ORB", "")

	entries, _ := db.GetWatchlist()
	if len(entries) != 2 {
		t.Fatalf("watchlist = %d, want 2", len(entries))
	}

	removed, _ := db.RemoveWatch("SBIN")
	if !removed {
		t.Error("expected removal")
	}
	removed, _ = db.RemoveWatch("SBIN")
	if removed {
		t.Error("second removal should be a no-op")
	}
	entries, _ = db.GetWatchlist()
	if len(entries) != 1 || entries[0].Symbol != "TCS" {
		t.Errorf("watchlist after remove = %+v", entries)
	}
}

func TestDaySummary(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	sid1, _ := db.InsertSignal(&Signal{Date: "2026-03-10", Symbol: "A", Status: "sent", ExpiresAt: now})
	db.UpdateSignalStatus(sid1, "taken")
	sid2, _ := db.InsertSignal(&Signal{Date: "2026-03-10", Symbol: "B", Status: "sent", ExpiresAt: now})
	db.UpdateSignalStatus(sid2, "skipped")
	db.InsertSignal(&Signal{Date: "2026-03-10", Symbol: "C", Status: "expired", ExpiresAt: now})

	tid, _ := db.InsertTrade(&Trade{Date: "2026-03-10", Symbol: "A", Status: "open", OpenedAt: now})
	db.CloseTrade(tid, dec(110), dec(500), 5, "t1_hit")
	db.InsertTrade(&Trade{Date: "2026-03-10", Symbol: "D", Status: "open", OpenedAt: now})

	s, err := db.GetDaySummary("2026-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if s.Signals != 3 || s.Taken != 1 || s.Skipped != 1 || s.Expired != 1 {
		t.Errorf("signal tallies = %+v", s)
	}
	if s.Closed != 1 || s.Wins != 1 || s.OpenAtEOD != 1 {
		t.Errorf("trade tallies = %+v", s)
	}
	if !s.PnLAbs.Equal(dec(500)) {
		t.Errorf("pnl = %s, want 500", s.PnLAbs)
	}
}

package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// recordingAlerter captures advisory kinds and exits for assertions.
type recordingAlerter struct {
	advisories []string
	exits      []string
	exitPrices []decimal.Decimal
}

func (r *recordingAlerter) TradeAdvisory(trade *storage.Trade, kind string, ltp decimal.Decimal) {
	r.advisories = append(r.advisories, kind)
}

func (r *recordingAlerter) TradeExit(trade *storage.Trade, reason string, exitPrice, pnlAbs decimal.Decimal, pnlPct float64) {
	r.exits = append(r.exits, reason)
	r.exitPrices = append(r.exitPrices, exitPrice)
}

func (r *recordingAlerter) count(kind string) int {
	n := 0
	for _, k := range r.advisories {
		if k == kind {
			n++
		}
	}
	return n
}

type monitorHarness struct {
	db      *storage.Database
	store   *market.Store
	circuit *CircuitBreaker
	monitor *ExitMonitor
	alerts  *recordingAlerter
}

func newMonitorHarness(t *testing.T) *monitorHarness {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := market.NewStore()
	circuit := NewCircuitBreaker(3, nil)
	monitor := NewExitMonitor(TrailingConfig{
		BreakevenTriggerPct: 2,
		TrailTriggerPct:     4,
		TrailDistancePct:    2,
	}, db, circuit, store)

	alerts := &recordingAlerter{}
	monitor.SetAlerter(alerts)
	return &monitorHarness{db: db, store: store, circuit: circuit, monitor: monitor, alerts: alerts}
}

func (h *monitorHarness) openTrade(t *testing.T, symbol string, entry, sl, t1, t2 float64, paper bool) uint {
	t.Helper()
	now := istTime(9, 45)
	id, err := h.db.InsertTrade(&storage.Trade{
		Date:            market.Day(now),
		Symbol:          symbol,
		Strategy:        types.StrategyGap,
		Entry:           dec(entry),
		StopLoss:        dec(sl),
		InitialStopLoss: dec(sl),
		Target1:         dec(t1),
		Target2:         dec(t2),
		Quantity:        10,
		Paper:           paper,
		Status:          "open",
		OpenedAt:        now,
	})
	if err != nil {
		t.Fatalf("insert trade: %v", err)
	}
	trade, err := h.db.GetTrade(id)
	if err != nil {
		t.Fatalf("load trade: %v", err)
	}
	h.monitor.Attach(trade)
	return id
}

func (h *monitorHarness) tick(t *testing.T, symbol string, ltp float64, now time.Time) {
	t.Helper()
	h.store.UpdateTick(symbol, types.Tick{Symbol: symbol, LTP: dec(ltp), Timestamp: now})
	if err := h.monitor.CheckAll(now); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
}

func TestTrailingStopRatchetAndExit(t *testing.T) {
	h := newMonitorHarness(t)
	id := h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	now := istTime(10, 0)

	// +6% moves the stop to 106 * 0.98 = 103.88 and fires T1 on the same pass.
	h.tick(t, "SBIN", 106, now)
	if got := h.alerts.count(AdvisoryTrailingSL); got != 1 {
		t.Fatalf("trailing advisories = %d, want 1", got)
	}
	if got := h.alerts.count(AdvisoryT1); got != 1 {
		t.Fatalf("T1 advisories = %d, want 1", got)
	}

	trade, err := h.db.GetTrade(id)
	if err != nil {
		t.Fatalf("load trade: %v", err)
	}
	if !trade.StopLoss.Equal(dec(103.88)) {
		t.Fatalf("StopLoss = %s, want 103.88", trade.StopLoss)
	}
	if !trade.TrailingActive || !trade.BreakevenHit || !trade.T1Alerted {
		t.Fatalf("flags = trailing:%v breakeven:%v t1:%v, want all true",
			trade.TrailingActive, trade.BreakevenHit, trade.T1Alerted)
	}
	if !trade.InitialStopLoss.Equal(dec(97)) {
		t.Fatalf("InitialStopLoss moved: %s", trade.InitialStopLoss)
	}

	// Pullback to the trailed stop closes as trailing_sl with profit intact.
	h.tick(t, "SBIN", 103.88, now.Add(time.Minute))
	trade, _ = h.db.GetTrade(id)
	if trade.Status != "closed" || trade.ExitReason != types.ExitTrailingSL {
		t.Fatalf("status=%s reason=%s, want closed/trailing_sl", trade.Status, trade.ExitReason)
	}
	if !trade.ExitPrice.Equal(dec(103.88)) {
		t.Errorf("ExitPrice = %s, want 103.88", trade.ExitPrice)
	}
	if !trade.PnLAbs.Equal(dec(38.80)) {
		t.Errorf("PnLAbs = %s, want 38.80", trade.PnLAbs)
	}
	if trade.PnLPct < 3.87 || trade.PnLPct > 3.89 {
		t.Errorf("PnLPct = %.3f, want ~3.88", trade.PnLPct)
	}

	// A profitable trailing exit is not a stop-out for the circuit breaker.
	if h.circuit.SLCount() != 0 {
		t.Errorf("circuit SLCount = %d, want 0 after trailing exit", h.circuit.SLCount())
	}
	if h.monitor.MonitoredCount() != 0 {
		t.Errorf("monitor still holds state after close")
	}
}

func TestTrailingStopNeverLowers(t *testing.T) {
	h := newMonitorHarness(t)
	id := h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	now := istTime(10, 0)

	h.tick(t, "SBIN", 106, now)
	// +5% would imply 102.90, below the current 103.88; stop must hold.
	h.tick(t, "SBIN", 105, now.Add(time.Minute))

	trade, _ := h.db.GetTrade(id)
	if !trade.StopLoss.Equal(dec(103.88)) {
		t.Fatalf("StopLoss = %s, want 103.88 unchanged", trade.StopLoss)
	}
	if got := h.alerts.count(AdvisoryTrailingSL); got != 1 {
		t.Fatalf("trailing advisories = %d, want 1", got)
	}
}

func TestBreakevenMoveThenStopOut(t *testing.T) {
	h := newMonitorHarness(t)
	id := h.openTrade(t, "TCS", 100, 97, 105, 108, false)
	now := istTime(10, 30)

	// +2.5% crosses the breakeven trigger but not the trail trigger.
	h.tick(t, "TCS", 102.5, now)
	trade, _ := h.db.GetTrade(id)
	if !trade.StopLoss.Equal(dec(100)) {
		t.Fatalf("StopLoss = %s, want entry 100", trade.StopLoss)
	}
	if trade.TrailingActive {
		t.Fatal("breakeven move must not mark the trail active")
	}
	if got := h.alerts.count(AdvisoryBreakeven); got != 1 {
		t.Fatalf("breakeven advisories = %d, want 1", got)
	}

	// Fade back to entry: a flat stop-out that counts against the breaker.
	h.tick(t, "TCS", 100, now.Add(time.Minute))
	trade, _ = h.db.GetTrade(id)
	if trade.ExitReason != types.ExitSLHit {
		t.Fatalf("ExitReason = %s, want sl_hit", trade.ExitReason)
	}
	if !trade.PnLAbs.IsZero() {
		t.Errorf("PnLAbs = %s, want 0", trade.PnLAbs)
	}
	if h.circuit.SLCount() != 1 {
		t.Errorf("circuit SLCount = %d, want 1", h.circuit.SLCount())
	}
}

func TestPaperStopOutSkipsCircuit(t *testing.T) {
	h := newMonitorHarness(t)
	h.openTrade(t, "INFY", 100, 97, 105, 108, true)
	h.tick(t, "INFY", 96.5, istTime(11, 0))

	if h.circuit.SLCount() != 0 {
		t.Fatalf("paper stop-out reached the circuit breaker: %d", h.circuit.SLCount())
	}
	if len(h.alerts.exits) != 1 || h.alerts.exits[0] != types.ExitSLHit {
		t.Fatalf("exits = %v, want one sl_hit", h.alerts.exits)
	}
}

func TestTargetTwoCloses(t *testing.T) {
	h := newMonitorHarness(t)
	id := h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	h.tick(t, "SBIN", 108.4, istTime(11, 0))

	trade, _ := h.db.GetTrade(id)
	if trade.Status != "closed" || trade.ExitReason != types.ExitT2Hit {
		t.Fatalf("status=%s reason=%s, want closed/t2_hit", trade.Status, trade.ExitReason)
	}
	if !trade.ExitPrice.Equal(dec(108.4)) {
		t.Errorf("ExitPrice = %s, want the breach print 108.4", trade.ExitPrice)
	}
}

func TestT1AdvisoryIsOneShot(t *testing.T) {
	h := newMonitorHarness(t)
	h.openTrade(t, "SBIN", 100, 97, 102.5, 110, false)
	now := istTime(10, 0)

	h.tick(t, "SBIN", 102.6, now)
	h.tick(t, "SBIN", 102.8, now.Add(time.Minute))
	h.tick(t, "SBIN", 103.0, now.Add(2*time.Minute))

	if got := h.alerts.count(AdvisoryT1); got != 1 {
		t.Fatalf("T1 advisories = %d, want 1", got)
	}
}

func TestSLApproachingCooldown(t *testing.T) {
	h := newMonitorHarness(t)
	h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	now := istTime(10, 0)

	// 97.4 sits 0.41% above the stop.
	h.tick(t, "SBIN", 97.4, now)
	if got := h.alerts.count(AdvisorySLApproaching); got != 1 {
		t.Fatalf("approach advisories = %d, want 1", got)
	}

	// Inside the cooldown: silent.
	h.tick(t, "SBIN", 97.35, now.Add(10*time.Second))
	if got := h.alerts.count(AdvisorySLApproaching); got != 1 {
		t.Fatalf("approach advisories = %d inside cooldown, want 1", got)
	}

	// Past the cooldown: fires again.
	h.tick(t, "SBIN", 97.38, now.Add(61*time.Second))
	if got := h.alerts.count(AdvisorySLApproaching); got != 2 {
		t.Fatalf("approach advisories = %d after cooldown, want 2", got)
	}
}

func TestNearT2OnlyAfterT1(t *testing.T) {
	h := newMonitorHarness(t)
	h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	now := istTime(10, 0)

	h.tick(t, "SBIN", 106, now) // T1 fires here
	h.tick(t, "SBIN", 107.7, now.Add(time.Minute))
	if got := h.alerts.count(AdvisoryNearT2); got != 1 {
		t.Fatalf("near-T2 advisories = %d, want 1", got)
	}
	h.tick(t, "SBIN", 107.72, now.Add(2*time.Minute))
	if got := h.alerts.count(AdvisoryNearT2); got != 1 {
		t.Fatalf("near-T2 advisories = %d, want one-shot", got)
	}
}

func TestCrashRecoveryResumesTrailingState(t *testing.T) {
	h := newMonitorHarness(t)
	id := h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	h.tick(t, "SBIN", 106, istTime(10, 0))

	// Fresh monitor over the same db, as after a restart.
	monitor2 := NewExitMonitor(TrailingConfig{
		BreakevenTriggerPct: 2, TrailTriggerPct: 4, TrailDistancePct: 2,
	}, h.db, h.circuit, h.store)
	alerts2 := &recordingAlerter{}
	monitor2.SetAlerter(alerts2)
	n, err := monitor2.RecoverOpenTrades()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	// The restored stop is the trailed 103.88, not the original 97.
	h.store.UpdateTick("SBIN", types.Tick{Symbol: "SBIN", LTP: dec(103.5), Timestamp: istTime(10, 5)})
	if err := monitor2.CheckAll(istTime(10, 5)); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	trade, _ := h.db.GetTrade(id)
	if trade.Status != "closed" || trade.ExitReason != types.ExitTrailingSL {
		t.Fatalf("status=%s reason=%s, want closed/trailing_sl after recovery", trade.Status, trade.ExitReason)
	}
	// T1 was already alerted before the restart; no duplicate.
	if got := alerts2.count(AdvisoryT1); got != 0 {
		t.Fatalf("T1 re-alerted after recovery: %d", got)
	}
}

func TestTimeExitAdvisoryAndMandatory(t *testing.T) {
	h := newMonitorHarness(t)
	id1 := h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	id2 := h.openTrade(t, "TCS", 200, 195, 208, 212, false)
	h.store.UpdateTick("SBIN", types.Tick{Symbol: "SBIN", LTP: dec(101), Timestamp: istTime(15, 0)})
	h.store.UpdateTick("TCS", types.Tick{Symbol: "TCS", LTP: dec(198), Timestamp: istTime(15, 0)})

	if err := h.monitor.TriggerTimeExit(false, istTime(15, 0)); err != nil {
		t.Fatalf("advisory pass: %v", err)
	}
	if got := h.alerts.count(AdvisoryTimeExit); got != 2 {
		t.Fatalf("time-exit advisories = %d, want 2", got)
	}
	if n, _ := h.db.GetActiveTradeCount(); n != 2 {
		t.Fatalf("advisory pass closed trades: %d open", n)
	}

	if err := h.monitor.TriggerTimeExit(true, istTime(15, 15)); err != nil {
		t.Fatalf("mandatory pass: %v", err)
	}
	for _, id := range []uint{id1, id2} {
		trade, _ := h.db.GetTrade(id)
		if trade.Status != "closed" || trade.ExitReason != types.ExitTimeExit {
			t.Fatalf("trade %d: status=%s reason=%s, want closed/time_exit", id, trade.Status, trade.ExitReason)
		}
	}
	// One trade gained, one lost; neither stop-out feeds the breaker.
	if h.circuit.SLCount() != 0 {
		t.Errorf("time exits fed the circuit breaker: %d", h.circuit.SLCount())
	}
}

func TestManualExit(t *testing.T) {
	h := newMonitorHarness(t)
	id := h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	h.store.UpdateTick("SBIN", types.Tick{Symbol: "SBIN", LTP: dec(101.5), Timestamp: istTime(12, 0)})

	if err := h.monitor.ManualExit(id, istTime(12, 0)); err != nil {
		t.Fatalf("manual exit: %v", err)
	}
	trade, _ := h.db.GetTrade(id)
	if trade.ExitReason != types.ExitManual {
		t.Fatalf("ExitReason = %s, want manual_exit", trade.ExitReason)
	}
	if !trade.ExitPrice.Equal(dec(101.5)) {
		t.Errorf("ExitPrice = %s, want 101.5", trade.ExitPrice)
	}
	if err := h.monitor.ManualExit(id, istTime(12, 1)); err == nil {
		t.Fatal("second manual exit on a closed trade should fail")
	}
}

func TestBookPartialHalvesPosition(t *testing.T) {
	h := newMonitorHarness(t)
	id := h.openTrade(t, "SBIN", 100, 97, 105, 108, false)
	h.store.UpdateTick("SBIN", types.Tick{Symbol: "SBIN", LTP: dec(105), Timestamp: istTime(11, 0)})

	if err := h.monitor.BookPartial(id, istTime(11, 0)); err != nil {
		t.Fatalf("book partial: %v", err)
	}
	trade, _ := h.db.GetTrade(id)
	if trade.Status != "open" {
		t.Fatalf("status = %s, want open after partial booking", trade.Status)
	}
	if trade.Quantity != 5 {
		t.Errorf("Quantity = %d, want 5", trade.Quantity)
	}
	// 5 shares booked at +5 each.
	if !trade.PnLAbs.Equal(dec(25)) {
		t.Errorf("PnLAbs = %s, want 25", trade.PnLAbs)
	}
}

package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/metrics"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT MONITOR - trailing stops, targets and time exits for active trades
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs every scan tick over active trades in id order. Per trade, with the
// latest tick:
//
//   1. raise the high-water mark
//   2. trailing update (before the SL check, so a newly promoted stop can
//      fire on the same tick): gain >= trailTrigger ratchets the stop to
//      ltp*(1-dist); otherwise gain >= breakevenTrigger moves it to entry
//   3. ltp <= stop        -> close (trailing_sl if the trail is active,
//                            else sl_hit; only sl_hit feeds the circuit)
//   4. ltp >= T2          -> close t2_hit
//   5. first ltp >= T1    -> one-shot advisory, trade stays open
//   6. within 0.5% of SL  -> advisory with a 60s cooldown
//   7. within 0.3% of T2 after the T1 advisory -> one-shot advisory
//
// The stop only ever rises. State changes are written back to the trade row
// so a restart resumes mid-trade.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	slApproachPct      = 0.5
	nearT2Pct          = 0.3
	slApproachCooldown = 60 * time.Second
)

// Advisory kinds delivered through the Alerter.
const (
	AdvisoryBreakeven     = "breakeven"
	AdvisoryTrailingSL    = "trailing_sl_update"
	AdvisoryT1            = "t1_reached"
	AdvisorySLApproaching = "sl_approaching"
	AdvisoryNearT2        = "near_t2"
	AdvisoryTimeExit      = "time_exit_warning"
)

// Alerter delivers trade lifecycle messages to the operator.
type Alerter interface {
	TradeAdvisory(trade *storage.Trade, kind string, ltp decimal.Decimal)
	TradeExit(trade *storage.Trade, reason string, exitPrice, pnlAbs decimal.Decimal, pnlPct float64)
}

// TrailingConfig carries the trigger/distance percentages.
type TrailingConfig struct {
	BreakevenTriggerPct float64
	TrailTriggerPct     float64
	TrailDistancePct    float64
}

// TrailingStopState is the per-trade monitor state, owned by ExitMonitor.
type TrailingStopState struct {
	HighestPrice       decimal.Decimal
	CurrentSL          decimal.Decimal
	TrailingActive     bool
	BreakevenTriggered bool
	T1Alerted          bool
	NearT2Alerted      bool
	SLApproachUntil    time.Time
}

type ExitMonitor struct {
	mu sync.Mutex

	cfg     TrailingConfig
	db      *storage.Database
	circuit *CircuitBreaker
	store   *market.Store
	alerter Alerter

	states map[uint]*TrailingStopState

	// onClose runs after a trade closes (adaptive + performance tallies).
	onClose func(trade *storage.Trade, reason string)
}

func NewExitMonitor(cfg TrailingConfig, db *storage.Database, circuit *CircuitBreaker, store *market.Store) *ExitMonitor {
	return &ExitMonitor{
		cfg:     cfg,
		db:      db,
		circuit: circuit,
		store:   store,
		states:  make(map[uint]*TrailingStopState),
	}
}

func (em *ExitMonitor) SetAlerter(a Alerter) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.alerter = a
}

func (em *ExitMonitor) SetCloseCallback(fn func(trade *storage.Trade, reason string)) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.onClose = fn
}

// Attach starts monitoring a trade, rebuilding state from the persisted row
// (fresh TAKEN or crash recovery).
func (em *ExitMonitor) Attach(trade *storage.Trade) {
	st := &TrailingStopState{
		HighestPrice:       trade.HighestPrice,
		CurrentSL:          trade.StopLoss,
		TrailingActive:     trade.TrailingActive,
		BreakevenTriggered: trade.BreakevenHit,
		T1Alerted:          trade.T1Alerted,
	}
	if st.HighestPrice.IsZero() {
		st.HighestPrice = trade.Entry
	}
	em.mu.Lock()
	em.states[trade.ID] = st
	em.mu.Unlock()

	log.Info().Uint("trade", trade.ID).Str("symbol", trade.Symbol).
		Str("sl", st.CurrentSL.StringFixed(2)).Msg("👁️ Exit monitor attached")
}

// Detach stops monitoring a trade.
func (em *ExitMonitor) Detach(tradeID uint) {
	em.mu.Lock()
	delete(em.states, tradeID)
	em.mu.Unlock()
}

// MonitoredCount returns how many trades carry monitor state.
func (em *ExitMonitor) MonitoredCount() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.states)
}

// CheckAll runs one monitoring pass over active trades, in id order.
func (em *ExitMonitor) CheckAll(now time.Time) error {
	trades, err := em.db.GetActiveTrades()
	if err != nil {
		return fmt.Errorf("load active trades: %w", err)
	}
	metrics.TradesOpen.Set(float64(len(trades)))

	for i := range trades {
		trade := &trades[i]
		tick, ok := em.store.GetTick(trade.Symbol)
		if !ok || tick.LTP.Sign() <= 0 {
			continue
		}
		em.checkTrade(trade, tick.LTP, now)
	}
	return nil
}

// checkTrade runs the per-tick decision ladder for one trade.
func (em *ExitMonitor) checkTrade(trade *storage.Trade, ltp decimal.Decimal, now time.Time) {
	em.mu.Lock()
	st, ok := em.states[trade.ID]
	em.mu.Unlock()
	if !ok {
		em.Attach(trade)
		em.mu.Lock()
		st = em.states[trade.ID]
		em.mu.Unlock()
	}

	dirty := false

	// 1. High-water mark.
	if ltp.GreaterThan(st.HighestPrice) {
		st.HighestPrice = ltp
		dirty = true
	}

	// 2. Trailing update, before the SL check.
	gainPct := ltp.Sub(trade.Entry).Div(trade.Entry).InexactFloat64() * 100
	switch {
	case gainPct >= em.cfg.TrailTriggerPct:
		newSL := ltp.Mul(decimal.NewFromFloat(1 - em.cfg.TrailDistancePct/100))
		if newSL.GreaterThan(st.CurrentSL) {
			st.CurrentSL = newSL
			st.TrailingActive = true
			st.BreakevenTriggered = true
			dirty = true
			em.advise(trade, AdvisoryTrailingSL, ltp)
		}
	case gainPct >= em.cfg.BreakevenTriggerPct && !st.BreakevenTriggered:
		if trade.Entry.GreaterThan(st.CurrentSL) {
			st.CurrentSL = trade.Entry
		}
		st.BreakevenTriggered = true
		dirty = true
		em.advise(trade, AdvisoryBreakeven, ltp)
	}

	// 3. Stop check.
	if ltp.LessThanOrEqual(st.CurrentSL) {
		reason := types.ExitSLHit
		if st.TrailingActive {
			reason = types.ExitTrailingSL
		}
		em.close(trade, st, ltp, reason, now)
		return
	}

	// 4. Second target.
	if ltp.GreaterThanOrEqual(trade.Target2) {
		em.close(trade, st, ltp, types.ExitT2Hit, now)
		return
	}

	// 5. One-shot T1 advisory.
	if !st.T1Alerted && ltp.GreaterThanOrEqual(trade.Target1) {
		st.T1Alerted = true
		dirty = true
		if err := em.db.MarkT1Alerted(trade.ID); err != nil {
			log.Error().Err(err).Uint("trade", trade.ID).Msg("T1 alert flag write failed")
		}
		em.advise(trade, AdvisoryT1, ltp)
	}

	// 6. SL-approaching advisory with cooldown.
	slDistPct := ltp.Sub(st.CurrentSL).Abs().Div(st.CurrentSL).InexactFloat64() * 100
	if slDistPct <= slApproachPct && now.After(st.SLApproachUntil) {
		st.SLApproachUntil = now.Add(slApproachCooldown)
		em.advise(trade, AdvisorySLApproaching, ltp)
	}

	// 7. One-shot near-T2 advisory, only after T1 has been seen.
	if st.T1Alerted && !st.NearT2Alerted {
		t2DistPct := ltp.Sub(trade.Target2).Abs().Div(trade.Target2).InexactFloat64() * 100
		if t2DistPct <= nearT2Pct {
			st.NearT2Alerted = true
			em.advise(trade, AdvisoryNearT2, ltp)
		}
	}

	if dirty {
		if err := em.db.UpdateTradeStop(trade.ID, st.CurrentSL, st.HighestPrice,
			st.TrailingActive, st.BreakevenTriggered); err != nil {
			log.Error().Err(err).Uint("trade", trade.ID).Msg("Trailing state write failed")
		}
	}
}

// close finalizes a trade at ltp and stops monitoring it.
func (em *ExitMonitor) close(trade *storage.Trade, st *TrailingStopState, ltp decimal.Decimal, reason string, now time.Time) {
	pnlAbs := ltp.Sub(trade.Entry).Mul(decimal.NewFromInt(int64(trade.Quantity)))
	pnlPct := ltp.Sub(trade.Entry).Div(trade.Entry).InexactFloat64() * 100

	if err := em.db.CloseTrade(trade.ID, ltp, pnlAbs, pnlPct, reason); err != nil {
		log.Error().Err(err).Uint("trade", trade.ID).Msg("Trade close write failed")
		return
	}
	em.Detach(trade.ID)
	metrics.TradesClosed.WithLabelValues(reason).Inc()

	log.Info().Uint("trade", trade.ID).Str("symbol", trade.Symbol).
		Str("reason", reason).Str("exit", ltp.StringFixed(2)).
		Str("pnl", pnlAbs.StringFixed(2)).Msg("🏁 Trade closed")

	if reason == types.ExitSLHit && !trade.Paper {
		em.circuit.OnSLHit(now)
	}

	em.mu.Lock()
	alerter, onClose := em.alerter, em.onClose
	em.mu.Unlock()
	if alerter != nil {
		alerter.TradeExit(trade, reason, ltp, pnlAbs, pnlPct)
	}
	if onClose != nil {
		trade.Status = "closed"
		trade.ExitReason = reason
		trade.ExitPrice = ltp
		trade.PnLAbs = pnlAbs
		trade.PnLPct = pnlPct
		onClose(trade, reason)
	}
}

// TriggerTimeExit sends 15:00 advisories or performs the 15:15 mandatory
// close of everything still open.
func (em *ExitMonitor) TriggerTimeExit(mandatory bool, now time.Time) error {
	trades, err := em.db.GetActiveTrades()
	if err != nil {
		return fmt.Errorf("load active trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	for i := range trades {
		trade := &trades[i]
		tick, ok := em.store.GetTick(trade.Symbol)
		ltp := trade.Entry
		if ok && tick.LTP.Sign() > 0 {
			ltp = tick.LTP
		}

		if !mandatory {
			em.advise(trade, AdvisoryTimeExit, ltp)
			continue
		}

		em.mu.Lock()
		st, exists := em.states[trade.ID]
		em.mu.Unlock()
		if !exists {
			st = &TrailingStopState{HighestPrice: trade.HighestPrice, CurrentSL: trade.StopLoss}
		}
		em.close(trade, st, ltp, types.ExitTimeExit, now)
	}

	if mandatory {
		log.Info().Int("trades", len(trades)).Msg("⏰ Mandatory time exit executed")
	}
	return nil
}

// ManualExit closes one trade at the current price on operator request.
func (em *ExitMonitor) ManualExit(tradeID uint, now time.Time) error {
	trade, err := em.db.GetTrade(tradeID)
	if err != nil {
		return fmt.Errorf("load trade %d: %w", tradeID, err)
	}
	if trade.Status != "open" {
		return fmt.Errorf("trade %d is not open", tradeID)
	}

	tick, ok := em.store.GetTick(trade.Symbol)
	ltp := trade.Entry
	if ok && tick.LTP.Sign() > 0 {
		ltp = tick.LTP
	}

	em.mu.Lock()
	st, exists := em.states[trade.ID]
	em.mu.Unlock()
	if !exists {
		st = &TrailingStopState{HighestPrice: trade.HighestPrice, CurrentSL: trade.StopLoss}
	}
	em.close(trade, st, ltp, types.ExitManual, now)
	return nil
}

// BookPartial realizes roughly half the position at the current price and
// keeps monitoring the remainder (the "Book 50% at T1" button).
func (em *ExitMonitor) BookPartial(tradeID uint, now time.Time) error {
	trade, err := em.db.GetTrade(tradeID)
	if err != nil {
		return fmt.Errorf("load trade %d: %w", tradeID, err)
	}
	if trade.Status != "open" {
		return fmt.Errorf("trade %d is not open", tradeID)
	}
	if trade.Quantity < 2 {
		return fmt.Errorf("trade %d too small to split", tradeID)
	}

	tick, ok := em.store.GetTick(trade.Symbol)
	if !ok || tick.LTP.Sign() <= 0 {
		return fmt.Errorf("no live price for %s", trade.Symbol)
	}

	booked := trade.Quantity / 2
	remaining := trade.Quantity - booked
	bookedPnL := tick.LTP.Sub(trade.Entry).Mul(decimal.NewFromInt(int64(booked)))

	if err := em.db.ReduceTradeQuantity(trade.ID, remaining, bookedPnL); err != nil {
		return fmt.Errorf("book partial on trade %d: %w", tradeID, err)
	}
	em.db.InsertAction(&storage.SignalAction{
		SignalID: trade.SignalID,
		Symbol:   trade.Symbol,
		Action:   "book_t1",
		Details: fmt.Sprintf("booked %d qty at %s, pnl %s",
			booked, tick.LTP.StringFixed(2), bookedPnL.StringFixed(2)),
	})

	log.Info().Uint("trade", trade.ID).Int("booked", booked).Int("remaining", remaining).
		Str("pnl", bookedPnL.StringFixed(2)).Msg("💰 Partial profit booked")
	return nil
}

func (em *ExitMonitor) advise(trade *storage.Trade, kind string, ltp decimal.Decimal) {
	em.mu.Lock()
	alerter := em.alerter
	em.mu.Unlock()
	if alerter != nil {
		alerter.TradeAdvisory(trade, kind, ltp)
	}
}

// RecoverOpenTrades re-attaches monitor state to every open trade after a
// restart. Returns how many were attached.
func (em *ExitMonitor) RecoverOpenTrades() (int, error) {
	trades, err := em.db.GetActiveTrades()
	if err != nil {
		return 0, fmt.Errorf("load active trades: %w", err)
	}
	for i := range trades {
		em.Attach(&trades[i])
	}
	return len(trades), nil
}

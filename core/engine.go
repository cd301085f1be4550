package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/feeds"
	"nse-signal-engine/market"
	"nse-signal-engine/metrics"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCAN ENGINE - the 1 Hz heartbeat
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow per cycle:
//   fresh ScanContext → pipeline (signal stages, then exit monitoring)
//
// Ticks arrive on their own goroutine and land in the market store; the
// scan loop only ever reads the store. One cycle failing is logged and
// tolerated; enough consecutive failures halt the scanner and page the
// operator - the circuit breaker of the scanner itself.
//
// ═══════════════════════════════════════════════════════════════════════════════

// CriticalAlerter delivers scanner-down alerts. Implemented by the chat
// bot; an interface here to avoid the import cycle.
type CriticalAlerter interface {
	SendCritical(text string)
}

type Engine struct {
	mu sync.RWMutex

	store    *market.Store
	pipeline *Pipeline
	settings *SettingsManager
	db       *storage.Database
	feed     *feeds.BrokerFeed

	scanInterval  time.Duration
	maxConsecErrs int

	// accepting is the scheduler-owned master switch (on at session start,
	// off at the 14:30 cutoff). The circuit gate ANDs its own state in per
	// cycle without touching this.
	accepting bool
	running   bool
	halted    bool
	stopCh    chan struct{}

	cycle             int64
	consecutiveErrors int
	lastCycleAt       time.Time
	lastAccepting     bool

	alerter CriticalAlerter
}

func NewEngine(
	store *market.Store,
	pipeline *Pipeline,
	settings *SettingsManager,
	db *storage.Database,
	feed *feeds.BrokerFeed,
	scanInterval time.Duration,
	maxConsecutiveErrors int,
) *Engine {
	if scanInterval <= 0 {
		scanInterval = time.Second
	}
	return &Engine{
		store:         store,
		pipeline:      pipeline,
		settings:      settings,
		db:            db,
		feed:          feed,
		scanInterval:  scanInterval,
		maxConsecErrs: maxConsecutiveErrors,
		stopCh:        make(chan struct{}),
	}
}

// SetAlerter wires the critical-alert channel.
func (e *Engine) SetAlerter(a CriticalAlerter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerter = a
}

// Start launches the tick fan-in and the scan loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.halted = false
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	if e.feed != nil {
		go e.fanInLoop(e.feed.Subscribe(), stopCh)
	}
	go e.scanLoop(stopCh)

	log.Info().Dur("interval", e.scanInterval).Msg("⚡ Scan engine started")
}

// Stop halts both loops.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	log.Info().Msg("Scan engine stopped")
}

// StartAccepting opens the signal gate at session start.
func (e *Engine) StartAccepting() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accepting = true
}

// StopAccepting closes the signal gate for the rest of the day. Exits keep
// running.
func (e *Engine) StopAccepting() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accepting = false
	log.Info().Msg("🔒 New signals stopped; exit monitoring continues")
}

// Accepting reports the master gate state.
func (e *Engine) Accepting() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accepting
}

// Running reports whether the loops are live.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Halted reports whether the error breaker fired.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// Stats feeds the STATUS command and the dashboard.
func (e *Engine) Stats() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]any{
		"running":            e.running,
		"halted":             e.halted,
		"accepting_signals":  e.lastAccepting,
		"cycle":              e.cycle,
		"last_cycle_at":      e.lastCycleAt,
		"consecutive_errors": e.consecutiveErrors,
	}
}

// fanInLoop drains parsed ticks into the store. The store applies each
// tick under its mutex; same-symbol ordering follows channel order.
func (e *Engine) fanInLoop(tickCh <-chan types.Tick, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case tick := <-tickCh:
			e.store.ApplyTick(tick)
			metrics.TicksApplied.Inc()
		}
	}
}

// scanLoop drives one pipeline pass per interval.
func (e *Engine) scanLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(e.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := e.runCycle(); err != nil {
				e.onCycleError(err)
			} else {
				e.mu.Lock()
				e.consecutiveErrors = 0
				e.mu.Unlock()
			}
			if e.Halted() {
				return
			}
		}
	}
}

// runCycle builds a fresh context and runs the pipeline once. Panics are
// contained here so a bad stage cannot kill the process.
func (e *Engine) runCycle() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panic: %v", r)
		}
	}()

	now := time.Now().In(market.IST)

	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	accepting := e.accepting
	e.lastCycleAt = now
	e.mu.Unlock()

	metrics.ScanCycles.Inc()
	if e.feed != nil {
		if e.feed.Connected() {
			metrics.FeedConnected.Set(1)
		} else {
			metrics.FeedConnected.Set(0)
		}
	}

	ctx := &ScanContext{
		Cycle:            cycle,
		Now:              now,
		Phase:            market.PhaseAt(now),
		AcceptingSignals: accepting,
		Settings:         e.settings.Snapshot(),
	}

	activeTrades, countErr := e.db.GetActiveTradeCount()
	if countErr != nil {
		// Without a trustworthy slot count, signal stages sit this cycle
		// out; exits still run.
		log.Warn().Err(countErr).Msg("Active trade count failed, skipping signal stages")
		ctx.AcceptingSignals = false
	}
	ctx.ActiveTrades = activeTrades

	runErr := e.pipeline.Run(ctx)

	e.mu.Lock()
	e.lastAccepting = ctx.AcceptingSignals
	e.mu.Unlock()

	if countErr != nil {
		return countErr
	}
	return runErr
}

// onCycleError advances the error breaker and halts the scanner once the
// run of failures is long enough.
func (e *Engine) onCycleError(err error) {
	metrics.ScanErrors.Inc()

	e.mu.Lock()
	e.consecutiveErrors++
	n := e.consecutiveErrors
	limit := e.maxConsecErrs
	shouldHalt := limit > 0 && n >= limit
	if shouldHalt && e.running {
		e.halted = true
		e.running = false
		close(e.stopCh)
	}
	alerter := e.alerter
	e.mu.Unlock()

	log.Error().Err(err).Int("consecutive", n).Msg("Scan cycle failed")

	if !shouldHalt {
		return
	}
	log.Error().Int("consecutive", n).Msg("🛑 Scan engine halted after repeated failures")
	if alerter != nil {
		alerter.SendCritical(fmt.Sprintf(
			"🛑 SCANNER HALTED\n%d consecutive scan failures. Last error: %v\nManual restart required.", n, err))
	}
}

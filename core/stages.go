package core

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/metrics"
	"nse-signal-engine/news"
	"nse-signal-engine/regime"
	"nse-signal-engine/risk"
	"nse-signal-engine/storage"
	"nse-signal-engine/strategy"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PIPELINE STAGES
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each stage transforms the scan context and hands it on. A stage that
// fails logs and leaves the context as it found it - one bad cycle must
// never take the scanner down; the engine's consecutive-error counter deals
// with persistent failure.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Run(ctx *ScanContext) error
}

// ─── CircuitBreakerGate ────────────────────────────────────────────────────────

// CircuitBreakerGate short-circuits the signal stages while the SL-hit
// circuit is tripped. Exits keep running regardless.
type CircuitBreakerGate struct {
	circuit *risk.CircuitBreaker
}

func NewCircuitBreakerGate(circuit *risk.CircuitBreaker) *CircuitBreakerGate {
	return &CircuitBreakerGate{circuit: circuit}
}

func (s *CircuitBreakerGate) Name() string { return "circuit_gate" }

func (s *CircuitBreakerGate) Run(ctx *ScanContext) error {
	if s.circuit.IsActive() {
		ctx.AcceptingSignals = false
		metrics.CircuitActive.Set(1)
		return nil
	}
	metrics.CircuitActive.Set(0)
	return nil
}

// ─── RegimeContext ─────────────────────────────────────────────────────────────

// RegimeContext attaches the cached regime classification so downstream
// stages can read its knobs without touching the classifier.
type RegimeContext struct {
	classifier *regime.Classifier
}

func NewRegimeContext(classifier *regime.Classifier) *RegimeContext {
	return &RegimeContext{classifier: classifier}
}

func (s *RegimeContext) Name() string { return "regime_context" }

func (s *RegimeContext) Run(ctx *ScanContext) error {
	if cls, ok := s.classifier.Current(); ok {
		ctx.Regime = &cls
	}
	return nil
}

// ─── StrategyEval ──────────────────────────────────────────────────────────────

// StrategyEval runs every enabled strategy whose phases cover the current
// one and merges their candidates.
type StrategyEval struct {
	registry *strategy.Registry
	store    *market.Store
}

func NewStrategyEval(registry *strategy.Registry, store *market.Store) *StrategyEval {
	return &StrategyEval{registry: registry, store: store}
}

func (s *StrategyEval) Name() string { return "strategy_eval" }

func (s *StrategyEval) Run(ctx *ScanContext) error {
	for _, strat := range s.registry.All() {
		if ctx.Settings.PausedStrategies[strat.Name()] {
			continue
		}
		if !strategy.ActiveIn(strat, ctx.Phase) {
			continue
		}
		candidates := strat.Evaluate(s.store, ctx.Phase, ctx.Now)
		if len(candidates) == 0 {
			continue
		}
		metrics.SignalsGenerated.WithLabelValues(strat.Name()).Add(float64(len(candidates)))
		ctx.Candidates = append(ctx.Candidates, candidates...)
	}
	return nil
}

// ─── GapStockMarking ───────────────────────────────────────────────────────────

// GapStockMarking publishes Gap & Go's candidate symbols into the shared
// registry so ORB leaves them alone.
type GapStockMarking struct {
	gapGo *strategy.GapGo
	gaps  *strategy.GapRegistry
}

func NewGapStockMarking(gapGo *strategy.GapGo, gaps *strategy.GapRegistry) *GapStockMarking {
	return &GapStockMarking{gapGo: gapGo, gaps: gaps}
}

func (s *GapStockMarking) Name() string { return "gap_marking" }

func (s *GapStockMarking) Run(ctx *ScanContext) error {
	if s.gapGo == nil {
		return nil
	}
	if symbols := s.gapGo.CandidateSymbols(); len(symbols) > 0 {
		s.gaps.Mark(symbols...)
	}
	return nil
}

// ─── Deduplication ─────────────────────────────────────────────────────────────

// Deduplication drops candidates for symbols that already have an open
// trade or any signal row today. A lookup failure drops the candidate too:
// a lost signal is recoverable, a duplicate is not.
type Deduplication struct {
	db *storage.Database
}

func NewDeduplication(db *storage.Database) *Deduplication {
	return &Deduplication{db: db}
}

func (s *Deduplication) Name() string { return "dedup" }

func (s *Deduplication) Run(ctx *ScanContext) error {
	if len(ctx.Candidates) == 0 {
		return nil
	}
	day := market.Day(ctx.Now)
	kept := ctx.Candidates[:0]
	for _, cand := range ctx.Candidates {
		traded, err := s.db.HasActiveTradeForSymbol(cand.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", cand.Symbol).Msg("Dedup trade lookup failed, dropping candidate")
			continue
		}
		signaled, err := s.db.HasSignalForStockToday(cand.Symbol, day)
		if err != nil {
			log.Warn().Err(err).Str("symbol", cand.Symbol).Msg("Dedup signal lookup failed, dropping candidate")
			continue
		}
		if traded || signaled {
			continue
		}
		kept = append(kept, cand)
	}
	ctx.Candidates = kept
	return nil
}

// ─── Confirmation ──────────────────────────────────────────────────────────────

// Confirmation annotates candidates with cross-strategy agreement.
type Confirmation struct {
	detector *ConfirmationDetector
}

func NewConfirmation(detector *ConfirmationDetector) *Confirmation {
	return &Confirmation{detector: detector}
}

func (s *Confirmation) Name() string { return "confirmation" }

func (s *Confirmation) Run(ctx *ScanContext) error {
	ctx.Confirmations = s.detector.Observe(ctx.Candidates, ctx.Now)
	return nil
}

// ─── CompositeScoring ──────────────────────────────────────────────────────────

// CompositeScoring turns candidates into scored signals.
type CompositeScoring struct {
	scorer *CompositeScorer
}

func NewCompositeScoring(scorer *CompositeScorer) *CompositeScoring {
	return &CompositeScoring{scorer: scorer}
}

func (s *CompositeScoring) Name() string { return "scoring" }

func (s *CompositeScoring) Run(ctx *ScanContext) error {
	ctx.Ranked = s.scorer.ScoreBatch(ctx)
	return nil
}

// ─── AdaptiveFilter ────────────────────────────────────────────────────────────

// AdaptiveFilter drops signals from strategies that are throttled or paused
// by their recent performance.
type AdaptiveFilter struct {
	adaptive *risk.AdaptiveManager
}

func NewAdaptiveFilter(adaptive *risk.AdaptiveManager) *AdaptiveFilter {
	return &AdaptiveFilter{adaptive: adaptive}
}

func (s *AdaptiveFilter) Name() string { return "adaptive_filter" }

func (s *AdaptiveFilter) Run(ctx *ScanContext) error {
	if len(ctx.Ranked) == 0 {
		return nil
	}
	kept := ctx.Ranked[:0]
	for _, sig := range ctx.Ranked {
		if !s.adaptive.ShouldAllowSignal(sig.Strategy, sig.Strength) {
			log.Debug().Str("symbol", sig.Symbol).Str("strategy", sig.Strategy).
				Int("strength", sig.Strength).Msg("Signal blocked by adaptive throttle")
			continue
		}
		kept = append(kept, sig)
	}
	ctx.Ranked = kept
	return nil
}

// ─── Ranking ───────────────────────────────────────────────────────────────────

// Ranking orders the surviving signals and stamps ranks.
type Ranking struct{}

func NewRanking() *Ranking { return &Ranking{} }

func (s *Ranking) Name() string { return "ranking" }

func (s *Ranking) Run(ctx *ScanContext) error {
	ctx.Ranked = rankSignals(ctx.Ranked)
	return nil
}

// ─── NewsSentiment ─────────────────────────────────────────────────────────────

// NewsSentiment applies the sentiment and earnings gate.
type NewsSentiment struct {
	gate *news.Gate
}

func NewNewsSentiment(gate *news.Gate) *NewsSentiment {
	return &NewsSentiment{gate: gate}
}

func (s *NewsSentiment) Name() string { return "news_gate" }

func (s *NewsSentiment) Run(ctx *ScanContext) error {
	result := s.gate.Apply(ctx.Ranked, ctx.Now)
	ctx.Ranked = result.Passed
	ctx.Suppressed = result.Suppressed
	ctx.Warnings = result.Warnings
	for _, sup := range result.Suppressed {
		metrics.SignalsSuppressed.WithLabelValues(sup.Reason).Inc()
	}
	return nil
}

// ─── RiskSizing ────────────────────────────────────────────────────────────────

// RiskSizing enforces the regime's star floor, then sizes what is left
// against capital, slots and allocations.
type RiskSizing struct {
	sizer *risk.Sizer
}

func NewRiskSizing(sizer *risk.Sizer) *RiskSizing {
	return &RiskSizing{sizer: sizer}
}

func (s *RiskSizing) Name() string { return "risk_sizing" }

func (s *RiskSizing) Run(ctx *ScanContext) error {
	ranked := ctx.Ranked
	if min := ctx.MinStar(); min > 0 {
		kept := make([]types.RankedSignal, 0, len(ranked))
		for _, sig := range ranked {
			if sig.Strength < min {
				log.Debug().Str("symbol", sig.Symbol).Int("strength", sig.Strength).
					Int("min_star", min).Msg("Signal below regime star floor")
				continue
			}
			kept = append(kept, sig)
		}
		ranked = kept
	}

	accepted, positionFull := s.sizer.Size(risk.SizeRequest{
		Ranked:           ranked,
		Confirmations:    ctx.Confirmations,
		Settings:         ctx.Settings,
		ActiveTrades:     ctx.ActiveTrades,
		PositionModifier: ctx.PositionModifier(),
		Now:              ctx.Now,
	})
	ctx.Final = accepted
	ctx.PositionFull = positionFull
	return nil
}

// ─── PersistAndDeliver ─────────────────────────────────────────────────────────

// SignalDeliverer pushes a final signal to the operator and returns the
// chat message id carrying its buttons.
type SignalDeliverer interface {
	DeliverSignal(sig types.FinalSignal, signalID uint, confirmation types.Confirmation, warnings []string) (int, error)
}

// PersistAndDeliver writes the cycle's output: expires stale signals
// (returning their allocation), persists final and position-full rows, and
// hands deliverable signals to the operator channel.
type PersistAndDeliver struct {
	db        *storage.Database
	sizer     *risk.Sizer
	deliverer SignalDeliverer
}

func NewPersistAndDeliver(db *storage.Database, sizer *risk.Sizer, deliverer SignalDeliverer) *PersistAndDeliver {
	return &PersistAndDeliver{db: db, sizer: sizer, deliverer: deliverer}
}

func (s *PersistAndDeliver) Name() string { return "persist_deliver" }

func (s *PersistAndDeliver) Run(ctx *ScanContext) error {
	s.expireStale(ctx)

	day := market.Day(ctx.Now)
	var firstErr error

	for _, sig := range ctx.Final {
		status := types.SignalStatusSent
		if sig.Paper {
			status = types.SignalStatusPaper
		}
		row := signalRow(sig, day, status, ctx)
		id, err := s.db.InsertSignal(row)
		if err != nil {
			log.Error().Err(err).Str("symbol", sig.Symbol).Msg("Signal persist failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("persist signal %s: %w", sig.Symbol, err)
			}
			continue
		}
		if err := s.db.BumpStrategySignals(day, sig.Strategy); err != nil {
			log.Warn().Err(err).Str("strategy", sig.Strategy).Msg("Strategy counter bump failed")
		}
		metrics.SignalsDelivered.WithLabelValues(sig.Strategy).Inc()

		log.Info().
			Str("symbol", sig.Symbol).
			Str("strategy", sig.Strategy).
			Str("entry", sig.Entry.StringFixed(2)).
			Str("sl", sig.StopLoss.StringFixed(2)).
			Int("strength", sig.Strength).
			Int64("qty", sig.Quantity).
			Bool("paper", sig.Paper).
			Msg("🎯 SIGNAL")

		if s.deliverer == nil {
			continue
		}
		messageID, err := s.deliverer.DeliverSignal(sig, id, ctx.Confirmations[sig.Symbol], ctx.Warnings)
		if err != nil {
			log.Error().Err(err).Str("symbol", sig.Symbol).Msg("Signal delivery failed")
			continue
		}
		if err := s.db.SetSignalMessageID(id, messageID); err != nil {
			log.Warn().Err(err).Uint("signal_id", id).Msg("Message id link failed")
		}
	}

	// Position-full signals are recorded for the journal but not delivered
	// as actionable.
	for _, sig := range ctx.PositionFull {
		row := signalRow(types.FinalSignal{RankedSignal: sig}, day, types.SignalStatusPositionFull, ctx)
		if _, err := s.db.InsertSignal(row); err != nil {
			log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Position-full persist failed")
		}
	}
	return firstErr
}

// expireStale returns allocation headroom for sent signals past expiry,
// then flips them expired.
func (s *PersistAndDeliver) expireStale(ctx *ScanContext) {
	stale, err := s.db.GetStaleSignals(ctx.Now)
	if err != nil {
		log.Warn().Err(err).Msg("Stale signal lookup failed")
		return
	}
	if len(stale) == 0 {
		return
	}
	for _, row := range stale {
		s.sizer.ReleaseCapital(row.Strategy, row.CapitalRequired)
	}
	if n, err := s.db.ExpireStaleSignals(ctx.Now); err != nil {
		log.Warn().Err(err).Msg("Signal expiry sweep failed")
	} else if n > 0 {
		log.Info().Int64("count", n).Msg("⌛ Untaken signals expired")
	}
}

func signalRow(sig types.FinalSignal, day, status string, ctx *ScanContext) *storage.Signal {
	regimeLabel := ""
	if ctx.Regime != nil {
		regimeLabel = ctx.Regime.Label
	}
	return &storage.Signal{
		Date:              day,
		Symbol:            sig.Symbol,
		Strategy:          sig.Strategy,
		SetupType:         sig.SetupType,
		Direction:         sig.Direction,
		Entry:             sig.Entry,
		StopLoss:          sig.StopLoss,
		Target1:           sig.Target1,
		Target2:           sig.Target2,
		Quantity:          int(sig.Quantity),
		CapitalRequired:   sig.CapitalRequired,
		CompositeScore:    sig.CompositeScore,
		Strength:          sig.Strength,
		Rank:              sig.Rank,
		GapPct:            sig.GapPct,
		VolumeRatio:       sig.VolumeRatio,
		ConfirmationLevel: ctx.Confirmations[sig.Symbol].Level,
		RegimeLabel:       regimeLabel,
		Status:            status,
		ExpiresAt:         sig.ExpiresAt,
	}
}

// ─── ExitMonitoring ────────────────────────────────────────────────────────────

// ExitMonitoring runs the exit state machine over every active trade. It is
// an always-stage: it runs in every phase, circuit tripped or not.
type ExitMonitoring struct {
	monitor *risk.ExitMonitor
}

func NewExitMonitoring(monitor *risk.ExitMonitor) *ExitMonitoring {
	return &ExitMonitoring{monitor: monitor}
}

func (s *ExitMonitoring) Name() string { return "exit_monitor" }

func (s *ExitMonitoring) Run(ctx *ScanContext) error {
	return s.monitor.CheckAll(ctx.Now)
}

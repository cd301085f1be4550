package strategy

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"nse-signal-engine/internal/config"
	"nse-signal-engine/market"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GAP & GO STRATEGY - momentum continuation on gap-up opens
// ═══════════════════════════════════════════════════════════════════════════════
//
// OPENING (09:15-09:30): discover candidates. A stock qualifies when its
// open gaps up [gapMin, gapMax]% over the previous close AND clears the
// previous session high. Candidates then accumulate volume; once cumulative
// volume crosses volumeThresholdPct of the 20-session average the candidate
// is volume-validated.
//
// ENTRY_WINDOW (09:30-09:45): validated candidates still trading above their
// open emit one signal at ltp. A print at or below the open disqualifies the
// symbol for the session - the gap is filling, not going.
//
//   entry = ltp
//   SL    = max(open, entry x (1 - maxRisk%))
//   T1/T2 = entry x (1 + target%)
//
// One signal per symbol per session.
//
// ═══════════════════════════════════════════════════════════════════════════════

type gapCandidate struct {
	open            decimal.Decimal
	gapPct          float64
	volumeRatio     float64
	volumeValidated bool
	disqualified    bool
	signaled        bool
}

type GapGo struct {
	mu  sync.Mutex
	cfg config.GapConfig

	candidates map[string]*gapCandidate
}

func NewGapGo(cfg config.GapConfig) *GapGo {
	log.Info().
		Float64("gap_min", cfg.MinGapPct).
		Float64("gap_max", cfg.MaxGapPct).
		Float64("volume_threshold", cfg.VolumeThresholdPct).
		Msg("📊 Gap & Go strategy initialized")

	return &GapGo{
		cfg:        cfg,
		candidates: make(map[string]*gapCandidate),
	}
}

func (g *GapGo) Name() string {
	return types.StrategyGap
}

func (g *GapGo) ActivePhases() []market.Phase {
	return []market.Phase{market.PhaseOpening, market.PhaseEntryWindow}
}

// Evaluate discovers and validates candidates during OPENING, then emits
// entries during ENTRY_WINDOW.
func (g *GapGo) Evaluate(store *market.Store, phase market.Phase, now time.Time) []types.CandidateSignal {
	g.mu.Lock()
	defer g.mu.Unlock()

	if phase == market.PhaseOpening {
		g.discoverCandidates(store)
	}
	g.validateVolume(store)

	if phase != market.PhaseEntryWindow {
		return nil
	}
	return g.emitEntries(store, now)
}

// discoverCandidates scans every tracked symbol for a qualifying gap.
// Runs only while the session is opening; a symbol that first prints after
// 09:30 is not a reliable gap read.
func (g *GapGo) discoverCandidates(store *market.Store) {
	for _, symbol := range store.TrackedSymbols() {
		if _, seen := g.candidates[symbol]; seen {
			continue
		}
		tick, ok := store.GetTick(symbol)
		if !ok || tick.Open.Sign() <= 0 {
			continue
		}
		ref, ok := store.GetHistorical(symbol)
		if !ok || ref.PrevClose.Sign() <= 0 {
			continue
		}

		gapPct := tick.Open.Sub(ref.PrevClose).Div(ref.PrevClose).InexactFloat64() * 100
		if gapPct < g.cfg.MinGapPct || gapPct > g.cfg.MaxGapPct {
			continue
		}
		if !tick.Open.GreaterThan(ref.PrevHigh) {
			continue
		}

		g.candidates[symbol] = &gapCandidate{open: tick.Open, gapPct: gapPct}
		log.Info().Str("symbol", symbol).Float64("gap_pct", gapPct).
			Str("open", tick.Open.StringFixed(2)).Msg("🔍 Gap candidate detected")
	}
}

// validateVolume updates each candidate's cumulative volume ratio against
// the 20-session average and latches validation once crossed.
func (g *GapGo) validateVolume(store *market.Store) {
	for symbol, c := range g.candidates {
		if c.disqualified || c.signaled {
			continue
		}
		ref, ok := store.GetHistorical(symbol)
		if !ok || ref.AvgVolume <= 0 {
			continue
		}
		cumVol := store.GetCumulativeVolume(symbol)
		c.volumeRatio = float64(cumVol) / float64(ref.AvgVolume) * 100
		if !c.volumeValidated && c.volumeRatio >= g.cfg.VolumeThresholdPct {
			c.volumeValidated = true
			log.Info().Str("symbol", symbol).Float64("volume_ratio", c.volumeRatio).
				Msg("✅ Gap candidate volume-validated")
		}
	}
}

// emitEntries turns validated candidates trading above their open into
// signals, disqualifying any that have filled back to the open.
func (g *GapGo) emitEntries(store *market.Store, now time.Time) []types.CandidateSignal {
	var out []types.CandidateSignal
	for symbol, c := range g.candidates {
		if !c.volumeValidated || c.disqualified || c.signaled {
			continue
		}
		tick, ok := store.GetTick(symbol)
		if !ok || tick.LTP.Sign() <= 0 {
			continue
		}

		if tick.LTP.LessThanOrEqual(c.open) {
			c.disqualified = true
			log.Debug().Str("symbol", symbol).Str("ltp", tick.LTP.StringFixed(2)).
				Str("open", c.open.StringFixed(2)).Msg("Gap candidate disqualified: trading at or below open")
			continue
		}

		entry := tick.LTP
		riskFloor := entry.Mul(decimal.NewFromFloat(1 - g.cfg.MaxRiskPct/100))
		sl := c.open
		if riskFloor.GreaterThan(sl) {
			sl = riskFloor
		}

		c.signaled = true
		out = append(out, types.CandidateSignal{
			Symbol:          symbol,
			Direction:       types.DirectionBuy,
			Strategy:        types.StrategyGap,
			Entry:           entry,
			StopLoss:        sl,
			Target1:         entry.Mul(decimal.NewFromFloat(1 + g.cfg.Target1Pct/100)),
			Target2:         entry.Mul(decimal.NewFromFloat(1 + g.cfg.Target2Pct/100)),
			GapPct:          c.gapPct,
			VolumeRatio:     c.volumeRatio,
			DistFromOpenPct: entry.Sub(c.open).Div(c.open).InexactFloat64() * 100,
			StrengthScore:   g.strength(c),
			GeneratedAt:     now,
		})

		log.Info().Str("symbol", symbol).Str("entry", entry.StringFixed(2)).
			Str("sl", sl.StringFixed(2)).Float64("gap_pct", c.gapPct).
			Msg("🎯 Gap & Go signal generated")
	}
	return out
}

// strength scores a candidate 0-100 from gap size within the band and
// volume participation.
func (g *GapGo) strength(c *gapCandidate) float64 {
	band := g.cfg.MaxGapPct - g.cfg.MinGapPct
	gapFactor := 1.0
	if band > 0 {
		gapFactor = clamp01((c.gapPct - g.cfg.MinGapPct) / band)
	}
	volFactor := clamp01(c.volumeRatio / 100)
	return 40 + 30*gapFactor + 30*volFactor
}

// CandidateSymbols returns every symbol currently holding a gap candidate,
// for the gap-marking stage.
func (g *GapGo) CandidateSymbols() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.candidates))
	for s := range g.candidates {
		out = append(out, s)
	}
	return out
}

func (g *GapGo) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candidates = make(map[string]*gapCandidate)
}

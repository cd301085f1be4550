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
// OPENING RANGE BREAKOUT - first-30-min range break with volume confirmation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Waits for the opening range to lock at 09:45, then hunts breaks of the
// range high until the cutoff (default 11:00). Filters, in order:
//
//   1. range locked, size within [minRange, maxRange]% - too tight is
//      noise, too wide already spent the move
//   2. ltp above the range high
//   3. current 15-min candle volume >= avgCandleVol x multiplier
//   4. stop distance (entry - rangeLow)/entry within maxRisk%
//
// SL sits at the range low. Gap-marked symbols are excluded; their open is
// the story, not the range. One signal per symbol per session.
//
// ═══════════════════════════════════════════════════════════════════════════════

type ORB struct {
	mu  sync.Mutex
	cfg config.ORBConfig

	gaps     *GapRegistry
	signaled map[string]bool
}

func NewORB(cfg config.ORBConfig, gaps *GapRegistry) *ORB {
	log.Info().
		Float64("range_min", cfg.MinRangePct).
		Float64("range_max", cfg.MaxRangePct).
		Float64("volume_mult", cfg.VolumeMultiplier).
		Str("cutoff", cfg.CutoffTime).
		Msg("📊 ORB strategy initialized")

	return &ORB{
		cfg:      cfg,
		gaps:     gaps,
		signaled: make(map[string]bool),
	}
}

func (o *ORB) Name() string {
	return types.StrategyORB
}

func (o *ORB) ActivePhases() []market.Phase {
	return []market.Phase{market.PhaseContinuous}
}

func (o *ORB) Evaluate(store *market.Store, phase market.Phase, now time.Time) []types.CandidateSignal {
	if !market.BeforeClock(now, o.cfg.CutoffTime) {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var out []types.CandidateSignal
	for _, symbol := range store.TrackedSymbols() {
		if o.signaled[symbol] || o.gaps.IsMarked(symbol) {
			continue
		}

		rng, ok := store.GetOpeningRange(symbol)
		if !ok || !rng.Locked {
			continue
		}
		if rng.RangeSizePct < o.cfg.MinRangePct || rng.RangeSizePct > o.cfg.MaxRangePct {
			continue
		}

		tick, ok := store.GetTick(symbol)
		if !ok || !tick.LTP.GreaterThan(rng.High) {
			continue
		}

		avgVol := store.GetAvgCandleVolume(symbol)
		if avgVol <= 0 {
			continue
		}
		candle, ok := store.GetCurrentCandle(symbol)
		if !ok {
			continue
		}
		volSurge := float64(candle.Volume) / avgVol
		if volSurge < o.cfg.VolumeMultiplier {
			continue
		}

		entry := tick.LTP
		riskPct := entry.Sub(rng.Low).Div(entry).InexactFloat64() * 100
		if riskPct > o.cfg.MaxRiskPct {
			log.Debug().Str("symbol", symbol).Float64("risk_pct", riskPct).
				Msg("ORB breakout rejected: range low too far for stop")
			continue
		}

		o.signaled[symbol] = true
		out = append(out, types.CandidateSignal{
			Symbol:          symbol,
			Direction:       types.DirectionBuy,
			Strategy:        types.StrategyORB,
			Entry:           entry,
			StopLoss:        rng.Low,
			Target1:         entry.Mul(decimal.NewFromFloat(1 + o.cfg.Target1Pct/100)),
			Target2:         entry.Mul(decimal.NewFromFloat(1 + o.cfg.Target2Pct/100)),
			VolumeRatio:     volSurge * 100,
			StrengthScore:   o.strength(rng.RangeSizePct, volSurge),
			GeneratedAt:     now,
		})

		log.Info().Str("symbol", symbol).Str("entry", entry.StringFixed(2)).
			Str("range_high", rng.High.StringFixed(2)).Float64("vol_surge", volSurge).
			Msg("🎯 ORB signal generated")
	}
	return out
}

// strength scores a breakout 0-100: volume beyond the required multiple
// plus range tightness. A tight range that breaks on heavy volume is the
// cleanest setup.
func (o *ORB) strength(rangeSizePct, volSurge float64) float64 {
	volFactor := clamp01(volSurge/o.cfg.VolumeMultiplier - 1)
	band := o.cfg.MaxRangePct - o.cfg.MinRangePct
	tightness := 1.0
	if band > 0 {
		tightness = clamp01(1 - (rangeSizePct-o.cfg.MinRangePct)/band)
	}
	return 40 + 30*volFactor + 30*tightness
}

func (o *ORB) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signaled = make(map[string]bool)
}

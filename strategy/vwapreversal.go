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
// VWAP REVERSAL - mean-reversion entries off the session VWAP
// ═══════════════════════════════════════════════════════════════════════════════
//
// Works on completed 15-min candles inside a midday window (default
// 10:00-14:30), one evaluation per symbol per new candle. Two setups:
//
//   PULLBACK - uptrend holds: prior close above VWAP, current candle dips
//   to within touchThreshold% of VWAP (or through it) and closes back
//   above on >= pullbackMult x average volume. SL just below VWAP.
//
//   RECLAIM  - trend flips: prior close below VWAP, current closes above
//   on >= reclaimMult x average volume (a higher bar; reclaims fail more
//   often than pullbacks). SL under the low of the last 3 candles.
//
// A per-symbol cooldown caps signals per day and spaces them out.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	SetupPullback = "pullback"
	SetupReclaim  = "reclaim"
)

type VWAPReversal struct {
	mu  sync.Mutex
	cfg config.VWAPConfig

	lastBucket   map[string]time.Time
	lastSignalAt map[string]time.Time
	signalsToday map[string]int
}

func NewVWAPReversal(cfg config.VWAPConfig) *VWAPReversal {
	log.Info().
		Str("window", cfg.WindowStart+"-"+cfg.WindowEnd).
		Float64("touch_threshold", cfg.TouchThresholdPct).
		Int("max_per_day", cfg.MaxSignalsPerDay).
		Msg("📊 VWAP Reversal strategy initialized")

	return &VWAPReversal{
		cfg:          cfg,
		lastBucket:   make(map[string]time.Time),
		lastSignalAt: make(map[string]time.Time),
		signalsToday: make(map[string]int),
	}
}

func (v *VWAPReversal) Name() string {
	return types.StrategyVWAP
}

func (v *VWAPReversal) ActivePhases() []market.Phase {
	return []market.Phase{market.PhaseContinuous}
}

func (v *VWAPReversal) Evaluate(store *market.Store, phase market.Phase, now time.Time) []types.CandidateSignal {
	if !market.AtOrAfterClock(now, v.cfg.WindowStart) || !market.BeforeClock(now, v.cfg.WindowEnd) {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var out []types.CandidateSignal
	for _, symbol := range store.TrackedSymbols() {
		candles := store.GetCompletedCandles(symbol)
		if len(candles) < 2 {
			continue
		}
		current := candles[len(candles)-1]
		prior := candles[len(candles)-2]

		// One evaluation per completed bucket.
		if v.lastBucket[symbol].Equal(current.Start) {
			continue
		}
		v.lastBucket[symbol] = current.Start

		if v.signalsToday[symbol] >= v.cfg.MaxSignalsPerDay {
			continue
		}
		if last, ok := v.lastSignalAt[symbol]; ok {
			if now.Sub(last) < time.Duration(v.cfg.MinIntervalMin)*time.Minute {
				continue
			}
		}

		vwap, ok := store.GetVWAP(symbol)
		if !ok || vwap.Sign() <= 0 {
			continue
		}
		avgVol := store.GetAvgCandleVolume(symbol)
		if avgVol <= 0 {
			continue
		}
		tick, ok := store.GetTick(symbol)
		if !ok || tick.LTP.Sign() <= 0 {
			continue
		}

		setup, sl, volMult := v.matchSetup(current, prior, candles, vwap, avgVol)
		if setup == "" {
			continue
		}

		entry := tick.LTP
		if sl.GreaterThanOrEqual(entry) {
			continue
		}

		v.signalsToday[symbol]++
		v.lastSignalAt[symbol] = now
		out = append(out, types.CandidateSignal{
			Symbol:        symbol,
			Direction:     types.DirectionBuy,
			Strategy:      types.StrategyVWAP,
			SetupType:     setup,
			Entry:         entry,
			StopLoss:      sl,
			Target1:       entry.Mul(decimal.NewFromFloat(1 + v.cfg.Target1Pct/100)),
			Target2:       entry.Mul(decimal.NewFromFloat(1 + v.cfg.Target2Pct/100)),
			VolumeRatio:   volMult * 100,
			StrengthScore: v.strength(current, vwap, volMult, setup),
			GeneratedAt:   now,
		})

		log.Info().Str("symbol", symbol).Str("setup", setup).
			Str("entry", entry.StringFixed(2)).Str("vwap", vwap.StringFixed(2)).
			Msg("🎯 VWAP Reversal signal generated")
	}
	return out
}

// matchSetup classifies the freshly completed candle. Returns the setup
// name, stop level and achieved volume multiple, or "" when nothing fits.
func (v *VWAPReversal) matchSetup(current, prior types.Candle, candles []types.Candle, vwap decimal.Decimal, avgVol float64) (string, decimal.Decimal, float64) {
	volMult := float64(current.Volume) / avgVol

	touchBand := vwap.Mul(decimal.NewFromFloat(1 + v.cfg.TouchThresholdPct/100))
	if prior.Close.GreaterThan(vwap) &&
		current.Low.LessThanOrEqual(touchBand) &&
		current.Close.GreaterThan(vwap) &&
		volMult >= v.cfg.PullbackVolumeMult {
		sl := vwap.Mul(decimal.NewFromFloat(1 - v.cfg.Setup1SLBelowVWAPPct/100))
		return SetupPullback, sl, volMult
	}

	if prior.Close.LessThan(vwap) &&
		current.Close.GreaterThan(vwap) &&
		volMult >= v.cfg.ReclaimVolumeMult {
		return SetupReclaim, lowOfLast(candles, 3), volMult
	}

	return "", decimal.Zero, 0
}

// lowOfLast returns the lowest low across the last n completed candles.
func lowOfLast(candles []types.Candle, n int) decimal.Decimal {
	if len(candles) < n {
		n = len(candles)
	}
	low := candles[len(candles)-1].Low
	for _, c := range candles[len(candles)-n:] {
		if c.Low.LessThan(low) {
			low = c.Low
		}
	}
	return low
}

// strength scores the reversal 0-100 from volume conviction and how far
// the close reclaimed above VWAP.
func (v *VWAPReversal) strength(current types.Candle, vwap decimal.Decimal, volMult float64, setup string) float64 {
	required := v.cfg.PullbackVolumeMult
	if setup == SetupReclaim {
		required = v.cfg.ReclaimVolumeMult
	}
	volFactor := clamp01(volMult/required - 1)
	closeAbovePct := current.Close.Sub(vwap).Div(vwap).InexactFloat64() * 100
	return 40 + 30*volFactor + 30*clamp01(closeAbovePct)
}

func (v *VWAPReversal) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastBucket = make(map[string]time.Time)
	v.lastSignalAt = make(map[string]time.Time)
	v.signalsToday = make(map[string]int)
}

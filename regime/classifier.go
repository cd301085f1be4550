package regime

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REGIME CLASSIFIER - what kind of day is this?
// ═══════════════════════════════════════════════════════════════════════════════
//
// At 09:30 (and again at the intraday checkpoints) five input groups each
// vote a probability split across {trending, ranging, volatile}:
//
//   VIX band, Nifty gap magnitude, first-15-min Nifty range + directional
//   alignment, global cues (S&P overnight, SGX Nifty), institutional flows
//
// The splits are blended with fixed weights summing to 1, so the final
// scores stay a convex combination. Label = argmax, confidence = max score.
// Each label carries per-strategy weight modifiers, a minimum star rating
// and a position-size modifier that the sizing path consumes.
//
// Manual override swaps the cached label without recomputing scores.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	LabelTrending = "TRENDING"
	LabelRanging  = "RANGING"
	LabelVolatile = "VOLATILE"
)

// Input-group blend weights; must sum to 1.
const (
	weightVIX    = 0.25
	weightGap    = 0.20
	weightRange  = 0.25
	weightGlobal = 0.15
	weightFlows  = 0.15
)

// Inputs is one classification's raw material, assembled by the caller
// from index quotes and the external cues feed.
type Inputs struct {
	VIX           float64
	NiftyGapPct   float64 // open vs prior close
	NiftyRangePct float64 // first-15-min range as % of open
	RangeAligned  bool    // first-15-min direction agrees with the gap
	SPXChangePct  float64 // overnight S&P 500 move
	SGXPremiumPct float64 // SGX Nifty premium (+) / discount (-)
	NetFlowsCrore float64 // FII + DII cash net, previous session
}

// Classification is the cached regime decision.
type Classification struct {
	Label      string
	Confidence float64

	TrendingScore float64
	RangingScore  float64
	VolatileScore float64

	// Derived knobs for the signal path.
	StrategyWeights  map[string]float64
	MinStarRating    int
	PositionModifier float64

	VIX          float64
	NiftyGapPct  float64
	Overridden   bool
	ClassifiedAt time.Time
}

type Classifier struct {
	mu      sync.RWMutex
	db      *storage.Database
	enabled bool
	cached  *Classification
}

func NewClassifier(db *storage.Database, enabled bool) *Classifier {
	return &Classifier{db: db, enabled: enabled}
}

// Classify scores the inputs, caches and persists the result.
func (c *Classifier) Classify(in Inputs, now time.Time) Classification {
	trending, ranging, volatile := 0.0, 0.0, 0.0
	add := func(w, t, r, v float64) {
		trending += w * t
		ranging += w * r
		volatile += w * v
	}

	t, r, v := voteVIX(in.VIX)
	add(weightVIX, t, r, v)
	t, r, v = voteGap(in.NiftyGapPct)
	add(weightGap, t, r, v)
	t, r, v = voteRange(in.NiftyRangePct, in.RangeAligned)
	add(weightRange, t, r, v)
	t, r, v = voteGlobal(in.SPXChangePct, in.SGXPremiumPct)
	add(weightGlobal, t, r, v)
	t, r, v = voteFlows(in.NetFlowsCrore)
	add(weightFlows, t, r, v)

	label, confidence := LabelTrending, trending
	if ranging > confidence {
		label, confidence = LabelRanging, ranging
	}
	if volatile > confidence {
		label, confidence = LabelVolatile, volatile
	}

	cls := Classification{
		Label:            label,
		Confidence:       confidence,
		TrendingScore:    trending,
		RangingScore:     ranging,
		VolatileScore:    volatile,
		StrategyWeights:  strategyWeightsFor(label),
		MinStarRating:    minStarFor(label),
		PositionModifier: positionModifierFor(label),
		VIX:              in.VIX,
		NiftyGapPct:      in.NiftyGapPct,
		ClassifiedAt:     now,
	}

	c.mu.Lock()
	c.cached = &cls
	c.mu.Unlock()

	if c.db != nil {
		err := c.db.InsertRegimeClassification(&storage.RegimeClassification{
			Date:          market.Day(now),
			Label:         label,
			Confidence:    confidence,
			TrendingScore: trending,
			RangingScore:  ranging,
			VolatileScore: volatile,
			VIX:           in.VIX,
			NiftyGapPct:   in.NiftyGapPct,
			ClassifiedAt:  now,
		})
		if err != nil {
			log.Error().Err(err).Msg("Regime classification write failed")
		}
	}

	log.Info().Str("label", label).Float64("confidence", confidence).
		Float64("vix", in.VIX).Float64("nifty_gap", in.NiftyGapPct).
		Msg("🌡️ Market regime classified")
	return cls
}

// Current returns the cached classification, if any. Returns ok=false when
// the feature is disabled or nothing has been classified yet.
func (c *Classifier) Current() (Classification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled || c.cached == nil {
		return Classification{}, false
	}
	return *c.cached, true
}

// Enabled reports whether regime gating is switched on.
func (c *Classifier) Enabled() bool {
	return c.enabled
}

// Override replaces the cached label and its derived knobs, keeping the
// computed scores for the record.
func (c *Classifier) Override(label string, now time.Time) error {
	switch label {
	case LabelTrending, LabelRanging, LabelVolatile:
	default:
		return fmt.Errorf("unknown regime label %q", label)
	}

	c.mu.Lock()
	if c.cached == nil {
		c.cached = &Classification{ClassifiedAt: now}
	}
	c.cached.Label = label
	c.cached.StrategyWeights = strategyWeightsFor(label)
	c.cached.MinStarRating = minStarFor(label)
	c.cached.PositionModifier = positionModifierFor(label)
	c.cached.Overridden = true
	snapshot := *c.cached
	c.mu.Unlock()

	if c.db != nil {
		err := c.db.InsertRegimeClassification(&storage.RegimeClassification{
			Date:          market.Day(now),
			Label:         label,
			Confidence:    snapshot.Confidence,
			TrendingScore: snapshot.TrendingScore,
			RangingScore:  snapshot.RangingScore,
			VolatileScore: snapshot.VolatileScore,
			VIX:           snapshot.VIX,
			NiftyGapPct:   snapshot.NiftyGapPct,
			Overridden:    true,
			ClassifiedAt:  now,
		})
		if err != nil {
			log.Error().Err(err).Msg("Regime override write failed")
		}
	}

	log.Warn().Str("label", label).Msg("⚠️ Market regime manually overridden")
	return nil
}

// ResetDaily clears the cache at session start.
func (c *Classifier) ResetDaily() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════
// INPUT VOTES - each returns a (trending, ranging, volatile) split summing to 1
// ═══════════════════════════════════════════════════════════════════════════════

func voteVIX(vix float64) (float64, float64, float64) {
	switch {
	case vix <= 0: // quote missing; neutral
		return 0.34, 0.33, 0.33
	case vix < 13:
		return 0.55, 0.40, 0.05
	case vix < 17:
		return 0.30, 0.55, 0.15
	case vix < 22:
		return 0.20, 0.30, 0.50
	default:
		return 0.10, 0.15, 0.75
	}
}

func voteGap(gapPct float64) (float64, float64, float64) {
	mag := abs(gapPct)
	switch {
	case mag >= 1.5:
		return 0.40, 0.05, 0.55
	case mag >= 0.7:
		return 0.60, 0.20, 0.20
	case mag >= 0.3:
		return 0.40, 0.45, 0.15
	default:
		return 0.15, 0.75, 0.10
	}
}

func voteRange(rangePct float64, aligned bool) (float64, float64, float64) {
	switch {
	case rangePct <= 0:
		return 0.34, 0.33, 0.33
	case rangePct >= 0.8 && aligned:
		return 0.65, 0.10, 0.25
	case rangePct >= 0.8:
		return 0.15, 0.15, 0.70
	case rangePct >= 0.4:
		return 0.35, 0.45, 0.20
	default:
		return 0.15, 0.75, 0.10
	}
}

func voteGlobal(spxPct, sgxPct float64) (float64, float64, float64) {
	mag := abs(spxPct)
	sameDirection := (spxPct >= 0) == (sgxPct >= 0)
	switch {
	case mag >= 1.5:
		return 0.25, 0.10, 0.65
	case mag >= 0.5 && sameDirection:
		return 0.60, 0.25, 0.15
	case mag >= 0.5:
		return 0.30, 0.35, 0.35
	default:
		return 0.20, 0.65, 0.15
	}
}

func voteFlows(netCrore float64) (float64, float64, float64) {
	mag := abs(netCrore)
	switch {
	case mag >= 3000:
		return 0.55, 0.15, 0.30
	case mag >= 1000:
		return 0.45, 0.40, 0.15
	default:
		return 0.20, 0.65, 0.15
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LABEL KNOBS
// ═══════════════════════════════════════════════════════════════════════════════

func strategyWeightsFor(label string) map[string]float64 {
	switch label {
	case LabelTrending:
		return map[string]float64{types.StrategyGap: 1.2, types.StrategyORB: 1.2, types.StrategyVWAP: 0.8}
	case LabelRanging:
		return map[string]float64{types.StrategyGap: 0.7, types.StrategyORB: 0.8, types.StrategyVWAP: 1.3}
	default: // VOLATILE
		return map[string]float64{types.StrategyGap: 0.8, types.StrategyORB: 0.7, types.StrategyVWAP: 0.7}
	}
}

func minStarFor(label string) int {
	if label == LabelVolatile {
		return 4
	}
	return 3
}

func positionModifierFor(label string) float64 {
	switch label {
	case LabelRanging:
		return 0.9
	case LabelVolatile:
		return 0.7
	default:
		return 1.0
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package core

import (
	"time"

	"nse-signal-engine/market"
	"nse-signal-engine/news"
	"nse-signal-engine/regime"
	"nse-signal-engine/types"
)

// ScanContext is the mutable bag one scan cycle threads through the stage
// pipeline. Every stage reads what earlier stages wrote; nothing in it
// survives the cycle.
type ScanContext struct {
	Cycle int64
	Now   time.Time
	Phase market.Phase

	// AcceptingSignals starts from engine state and may be flipped off by
	// the circuit gate; later signal stages then do not run.
	AcceptingSignals bool

	Settings     types.UserSettings
	ActiveTrades int

	// Regime is nil until the day's classification exists (or when the
	// classifier is disabled); stages fall back to neutral knobs.
	Regime *regime.Classification

	// Stage products, in pipeline order.
	Candidates    []types.CandidateSignal
	Confirmations map[string]types.Confirmation
	Scores        map[string]types.ScoreBreakdown
	Ranked        []types.RankedSignal
	Suppressed    []news.SuppressedSignal
	Warnings      []string
	Final         []types.FinalSignal
	PositionFull  []types.RankedSignal
}

// RegimeWeight returns the regime's weight modifier for a strategy,
// 1.0 when no classification is active.
func (c *ScanContext) RegimeWeight(strategy string) float64 {
	if c.Regime == nil {
		return 1.0
	}
	if w, ok := c.Regime.StrategyWeights[strategy]; ok && w > 0 {
		return w
	}
	return 1.0
}

// MinStar returns the regime's minimum star rating, 0 when unclassified.
func (c *ScanContext) MinStar() int {
	if c.Regime == nil {
		return 0
	}
	return c.Regime.MinStarRating
}

// PositionModifier returns the regime's position-size scalar, 1.0 when
// unclassified.
func (c *ScanContext) PositionModifier() float64 {
	if c.Regime == nil || c.Regime.PositionModifier <= 0 {
		return 1.0
	}
	return c.Regime.PositionModifier
}

package core

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COMPOSITE SCORING - one number per candidate
// ═══════════════════════════════════════════════════════════════════════════════
//
// Four inputs, each normalized to 0-100, blended with weights summing to 1:
//
//   strategy strength  - the strategy's own quality estimate, scaled by the
//                        regime's weight for that strategy
//   rolling win rate   - the strategy's 10-day hit rate (neutral 50 when
//                        the sample is empty)
//   risk:reward        - (T1-entry)/(entry-SL), bucketed
//   confirmation bonus - 0 / 50 / 100 for single / double / triple
//
// The composite maps to a 1-5 star strength by fixed bands. The breakdown
// is persisted so SCORE <symbol> can explain the number afterwards.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Star bands over the composite score.
func strengthFromScore(score float64) int {
	switch {
	case score >= 80:
		return 5
	case score >= 65:
		return 4
	case score >= 50:
		return 3
	case score >= 35:
		return 2
	default:
		return 1
	}
}

// rrScore buckets the risk:reward ratio.
func rrScore(rr float64) float64 {
	switch {
	case rr >= 3:
		return 100
	case rr >= 2:
		return 80
	case rr >= 1.5:
		return 60
	case rr >= 1:
		return 40
	default:
		return 20
	}
}

// confirmationBonus is the fixed step per agreement level.
func confirmationBonus(level int) float64 {
	switch {
	case level >= types.ConfirmTriple:
		return 100
	case level == types.ConfirmDouble:
		return 50
	default:
		return 0
	}
}

// ScorerWeights blend the four inputs; they must sum to 1.
type ScorerWeights struct {
	Strategy float64
	WinRate  float64
	RR       float64
	Confirm  float64
}

type CompositeScorer struct {
	weights ScorerWeights
	db      *storage.Database
}

func NewCompositeScorer(weights ScorerWeights, db *storage.Database) *CompositeScorer {
	return &CompositeScorer{weights: weights, db: db}
}

// ScoreBatch scores the surviving candidates against their confirmations
// and the active regime, records the breakdowns, and returns unranked
// scored signals.
func (s *CompositeScorer) ScoreBatch(ctx *ScanContext) []types.RankedSignal {
	scored := make([]types.RankedSignal, 0, len(ctx.Candidates))
	if ctx.Scores == nil {
		ctx.Scores = make(map[string]types.ScoreBreakdown)
	}

	for _, cand := range ctx.Candidates {
		strategyScore := clampScore(cand.StrengthScore * ctx.RegimeWeight(cand.Strategy))
		winRateScore := s.winRateScore(cand.Strategy, ctx.Now)
		rr := rrScore(cand.RiskReward())
		bonus := confirmationBonus(ctx.Confirmations[cand.Symbol].Level)

		composite := clampScore(
			s.weights.Strategy*strategyScore +
				s.weights.WinRate*winRateScore +
				s.weights.RR*rr +
				s.weights.Confirm*bonus)
		strength := strengthFromScore(composite)

		breakdown := types.ScoreBreakdown{
			Symbol:        cand.Symbol,
			Strategy:      cand.Strategy,
			StrategyScore: strategyScore,
			WinRateScore:  winRateScore,
			RRScore:       rr,
			ConfirmBonus:  bonus,
			Composite:     composite,
			Strength:      strength,
			ComputedAt:    ctx.Now,
		}
		ctx.Scores[cand.Symbol] = breakdown
		s.persist(breakdown, ctx.Now)

		scored = append(scored, types.RankedSignal{
			CandidateSignal: cand,
			CompositeScore:  composite,
			Strength:        strength,
		})
	}
	return scored
}

// winRateScore maps the 10-day rolling win rate straight onto 0-100, with
// a neutral 50 when there is no history yet.
func (s *CompositeScorer) winRateScore(strategy string, now time.Time) float64 {
	if s.db == nil {
		return 50
	}
	rate, sample, err := s.db.RollingWinRate(strategy, 10, now)
	if err != nil {
		log.Warn().Err(err).Str("strategy", strategy).Msg("Win rate lookup failed, scoring neutral")
		return 50
	}
	if sample == 0 {
		return 50
	}
	return clampScore(rate)
}

func (s *CompositeScorer) persist(b types.ScoreBreakdown, now time.Time) {
	if s.db == nil {
		return
	}
	err := s.db.InsertHybridScore(&storage.HybridScore{
		Date:              market.Day(now),
		Symbol:            b.Symbol,
		Strategy:          b.Strategy,
		StrategyScore:     b.StrategyScore,
		WinRateScore:      b.WinRateScore,
		RiskRewardScore:   b.RRScore,
		ConfirmationBonus: b.ConfirmBonus,
		Composite:         b.Composite,
		Strength:          b.Strength,
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", b.Symbol).Msg("Score breakdown persist failed")
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// rankSignals orders scored signals by composite desc, generation time asc,
// and stamps ranks 1..N.
func rankSignals(signals []types.RankedSignal) []types.RankedSignal {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].CompositeScore != signals[j].CompositeScore {
			return signals[i].CompositeScore > signals[j].CompositeScore
		}
		return signals[i].GeneratedAt.Before(signals[j].GeneratedAt)
	})
	for i := range signals {
		signals[i].Rank = i + 1
	}
	return signals
}

package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - capital split across slots, allocations and confirmations
// ═══════════════════════════════════════════════════════════════════════════════
//
// Base per-trade capital is totalCapital / maxPositions, scaled by the
// regime's position modifier. Confirmed signals may draw extra capital up
// to the double/triple caps. Per-strategy allocations bound how much of the
// day's capital each strategy can claim; paper-mode strategies bypass all
// capital accounting.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SizerConfig carries the multiplier caps.
type SizerConfig struct {
	ConfirmedDoubleCap float64 // e.g. 1.25
	ConfirmedTripleCap float64 // e.g. 1.50
}

type Sizer struct {
	mu  sync.Mutex
	cfg SizerConfig

	// Capital claimed per strategy today, against the allocation bound.
	deployed map[string]decimal.Decimal
	day      string
}

func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{
		cfg:      cfg,
		deployed: make(map[string]decimal.Decimal),
	}
}

// SizeRequest is one batch of ranked signals with everything sizing needs.
type SizeRequest struct {
	Ranked           []types.RankedSignal
	Confirmations    map[string]types.Confirmation
	Settings         types.UserSettings
	ActiveTrades     int
	PositionModifier float64 // regime scaling, 1.0 when neutral
	Now              time.Time
}

// Size converts ranked signals into deliverable final signals. Signals that
// only fail the position cap are returned separately so they can be
// persisted as position_full.
func (s *Sizer) Size(req SizeRequest) (accepted []types.FinalSignal, positionFull []types.RankedSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	modifier := req.PositionModifier
	if modifier <= 0 {
		modifier = 1.0
	}
	maxPositions := req.Settings.MaxPositions
	if maxPositions < 1 {
		maxPositions = 1
	}

	baseCap := req.Settings.Capital.
		Div(decimal.NewFromInt(int64(maxPositions))).
		Mul(decimal.NewFromFloat(modifier))

	expiry := req.Now.Add(time.Duration(req.Settings.SignalExpiryMin) * time.Minute)
	slots := req.ActiveTrades

	for _, ranked := range req.Ranked {
		paper := req.Settings.PaperStrategies[ranked.Strategy]

		perTradeCap := baseCap.Mul(s.confirmMultiplier(req.Confirmations[ranked.Symbol]))

		if ranked.Entry.Sign() <= 0 {
			continue
		}
		quantity := perTradeCap.Div(ranked.Entry).IntPart()
		if quantity < 1 {
			log.Debug().Str("symbol", ranked.Symbol).Str("cap", perTradeCap.StringFixed(0)).
				Msg("Signal rejected: per-trade capital below one share")
			continue
		}
		required := ranked.Entry.Mul(decimal.NewFromInt(quantity))

		// Per-trade risk bound.
		riskPct := ranked.Entry.Sub(ranked.StopLoss).Div(ranked.Entry).InexactFloat64() * 100
		if riskPct > req.Settings.MaxRiskPct {
			log.Debug().Str("symbol", ranked.Symbol).Float64("risk_pct", riskPct).
				Msg("Signal rejected: stop distance exceeds max risk")
			continue
		}

		if !paper {
			// Position slots.
			if slots >= maxPositions {
				positionFull = append(positionFull, ranked)
				continue
			}
			// Per-strategy allocation bound.
			allocCap := req.Settings.Capital.
				Mul(decimal.NewFromFloat(req.Settings.AllocationFor(ranked.Strategy) / 100))
			used := s.deployedToday(ranked.Strategy, req.Now)
			if used.Add(required).GreaterThan(allocCap) {
				log.Debug().Str("symbol", ranked.Symbol).Str("strategy", ranked.Strategy).
					Str("used", used.StringFixed(0)).Str("alloc_cap", allocCap.StringFixed(0)).
					Msg("Signal rejected: strategy allocation exhausted")
				continue
			}
			s.deployed[ranked.Strategy] = used.Add(required)
			slots++
		}

		accepted = append(accepted, types.FinalSignal{
			RankedSignal:    ranked,
			Quantity:        quantity,
			CapitalRequired: required,
			ExpiresAt:       expiry,
			Paper:           paper,
		})
	}
	return accepted, positionFull
}

// ReleaseCapital returns allocation headroom when a signal is skipped or
// expires untaken.
func (s *Sizer) ReleaseCapital(strategy string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used, ok := s.deployed[strategy]
	if !ok {
		return
	}
	used = used.Sub(amount)
	if used.Sign() < 0 {
		used = decimal.Zero
	}
	s.deployed[strategy] = used
}

// ResetDaily clears the allocation accounting at session start.
func (s *Sizer) ResetDaily(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployed = make(map[string]decimal.Decimal)
	s.day = now.Format("2006-01-02")
}

// confirmMultiplier returns the capital multiplier for a confirmation
// level, capped by config.
func (s *Sizer) confirmMultiplier(c types.Confirmation) decimal.Decimal {
	switch {
	case c.Level >= types.ConfirmTriple:
		return decimal.NewFromFloat(s.cfg.ConfirmedTripleCap)
	case c.Level == types.ConfirmDouble:
		return decimal.NewFromFloat(s.cfg.ConfirmedDoubleCap)
	default:
		return decimal.NewFromInt(1)
	}
}

// deployedToday lazily resets the map on a new day. Caller holds the lock.
func (s *Sizer) deployedToday(strategy string, now time.Time) decimal.Decimal {
	today := now.Format("2006-01-02")
	if s.day != today {
		s.deployed = make(map[string]decimal.Decimal)
		s.day = today
	}
	if used, ok := s.deployed[strategy]; ok {
		return used
	}
	return decimal.Zero
}

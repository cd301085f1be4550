package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// SettingsManager owns the operator-tunable knobs (capital, slots,
// allocations, pauses, paper flags). They live in the single-row
// user_config table so CAPITAL and ALLOCATE survive restarts; every scan
// cycle reads an immutable snapshot.
type SettingsManager struct {
	mu  sync.RWMutex
	db  *storage.Database
	row *storage.UserConfig
}

// LoadSettings reads or seeds the user_config row.
func LoadSettings(db *storage.Database, defaults storage.UserConfig) (*SettingsManager, error) {
	row, err := db.GetOrCreateUserConfig(defaults)
	if err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}
	log.Info().
		Str("capital", row.Capital.StringFixed(0)).
		Int("max_positions", row.MaxPositions).
		Msg("📊 Operator settings loaded")
	return &SettingsManager{db: db, row: row}, nil
}

// Snapshot returns the current settings as the pipeline consumes them.
func (m *SettingsManager) Snapshot() types.UserSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.UserSettings{
		Capital:         m.row.Capital,
		MaxPositions:    m.row.MaxPositions,
		MaxRiskPct:      m.row.MaxRiskPct,
		SignalExpiryMin: m.row.SignalExpiryMin,
		Allocations: map[string]float64{
			types.StrategyGap:  m.row.GapAllocPct,
			types.StrategyORB:  m.row.ORBAllocPct,
			types.StrategyVWAP: m.row.VWAPAllocPct,
		},
		PausedStrategies: map[string]bool{
			types.StrategyGap:  m.row.GapPaused,
			types.StrategyORB:  m.row.ORBPaused,
			types.StrategyVWAP: m.row.VWAPPaused,
		},
		PaperStrategies: map[string]bool{
			types.StrategyGap:  m.row.GapPaper,
			types.StrategyORB:  m.row.ORBPaper,
			types.StrategyVWAP: m.row.VWAPPaper,
		},
	}
}

// SetCapital updates total trading capital.
func (m *SettingsManager) SetCapital(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("capital must be positive, got %s", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.row.Capital = amount
	return m.db.SaveUserConfig(m.row)
}

// SetAllocations replaces the per-strategy capital split; the three
// percentages must sum to 100.
func (m *SettingsManager) SetAllocations(gapPct, orbPct, vwapPct float64) error {
	sum := gapPct + orbPct + vwapPct
	if sum < 99.5 || sum > 100.5 {
		return fmt.Errorf("allocations must sum to 100, got %.1f", sum)
	}
	if gapPct < 0 || orbPct < 0 || vwapPct < 0 {
		return fmt.Errorf("allocations cannot be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.row.GapAllocPct = gapPct
	m.row.ORBAllocPct = orbPct
	m.row.VWAPAllocPct = vwapPct
	return m.db.SaveUserConfig(m.row)
}

// SetPaused pauses or resumes a strategy.
func (m *SettingsManager) SetPaused(strategy string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strategy {
	case types.StrategyGap:
		m.row.GapPaused = paused
	case types.StrategyORB:
		m.row.ORBPaused = paused
	case types.StrategyVWAP:
		m.row.VWAPPaused = paused
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	return m.db.SaveUserConfig(m.row)
}

const rebalanceDays = 10

// Rebalance recomputes the allocation split from 10-day rolling win rates
// and persists it. A strategy with no closed trades keeps a neutral weight;
// the +10 base keeps a cold strategy funded so it can re-earn weight.
func (m *SettingsManager) Rebalance(now time.Time) (gapPct, orbPct, vwapPct float64, err error) {
	codes := []string{types.StrategyGap, types.StrategyORB, types.StrategyVWAP}
	weights := make(map[string]float64, len(codes))
	total := 0.0
	for _, code := range codes {
		rate, sample, werr := m.db.RollingWinRate(code, rebalanceDays, now)
		if werr != nil {
			return 0, 0, 0, fmt.Errorf("win rate for %s: %w", code, werr)
		}
		w := 10 + 100.0/3 // neutral until there is evidence
		if sample > 0 {
			w = 10 + rate
		}
		weights[code] = w
		total += w
	}

	gapPct = weights[types.StrategyGap] / total * 100
	orbPct = weights[types.StrategyORB] / total * 100
	vwapPct = weights[types.StrategyVWAP] / total * 100
	if err = m.SetAllocations(gapPct, orbPct, vwapPct); err != nil {
		return 0, 0, 0, err
	}
	log.Info().
		Float64("gap", gapPct).Float64("orb", orbPct).Float64("vwap", vwapPct).
		Msg("⚖️ Allocations rebalanced from rolling win rates")
	return gapPct, orbPct, vwapPct, nil
}

// SetPaper flips a strategy's paper-trading mode.
func (m *SettingsManager) SetPaper(strategy string, paper bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strategy {
	case types.StrategyGap:
		m.row.GapPaper = paper
	case types.StrategyORB:
		m.row.ORBPaper = paper
	case types.StrategyVWAP:
		m.row.VWAPPaper = paper
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	return m.db.SaveUserConfig(m.row)
}

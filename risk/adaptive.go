package risk

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
// ADAPTIVE MANAGER - per-strategy throttling on losing streaks
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each strategy runs in one of three modes:
//   NORMAL  - all signals pass
//   REDUCED - only 4-5 star signals pass
//   PAUSED  - nothing passes
//
// Losing streaks demote, any win restores NORMAL. Rolling win rates add a
// second axis: a weak 5-day rate warns, a weak 10-day rate auto-pauses.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	ModeNormal  = "NORMAL"
	ModeReduced = "REDUCED"
	ModePaused  = "PAUSED"
)

type AdaptiveConfig struct {
	ConsecLossThrottle int     // streak that demotes to REDUCED
	ConsecLossPause    int     // streak that demotes to PAUSED
	WarnWinRatePct     float64 // 5-day rate below this warns
	PauseWinRatePct    float64 // 10-day rate below this auto-pauses
	MinSample          int     // trades required before rates apply
}

type strategyState struct {
	mode         string
	wins         int
	losses       int
	consecWins   int
	consecLosses int
	warnedToday  bool
}

type AdaptiveManager struct {
	mu  sync.Mutex
	cfg AdaptiveConfig
	db  *storage.Database

	states map[string]*strategyState

	// onTransition is the alert hook (strategy, from, to, reason).
	onTransition func(strategy, from, to, reason string)
}

func NewAdaptiveManager(cfg AdaptiveConfig, db *storage.Database) *AdaptiveManager {
	m := &AdaptiveManager{
		cfg:    cfg,
		db:     db,
		states: make(map[string]*strategyState),
	}
	for _, s := range []string{types.StrategyGap, types.StrategyORB, types.StrategyVWAP} {
		m.states[s] = &strategyState{mode: ModeNormal}
	}
	return m
}

// SetTransitionCallback registers the alert hook.
func (m *AdaptiveManager) SetTransitionCallback(fn func(strategy, from, to, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// RecordOutcome folds one closed trade into the strategy's daily state and
// applies streak transitions.
func (m *AdaptiveManager) RecordOutcome(strategy string, won bool, now time.Time) {
	m.mu.Lock()
	st := m.state(strategy)

	var from, to, reason string
	if won {
		st.wins++
		st.consecWins++
		st.consecLosses = 0
		if st.mode != ModeNormal {
			from, to = st.mode, ModeNormal
			reason = "win resets losing streak"
			st.mode = ModeNormal
		}
	} else {
		st.losses++
		st.consecLosses++
		st.consecWins = 0
		switch {
		case st.mode != ModePaused && st.consecLosses >= m.cfg.ConsecLossPause:
			from, to = st.mode, ModePaused
			reason = fmt.Sprintf("%d consecutive losses", st.consecLosses)
			st.mode = ModePaused
		case st.mode == ModeNormal && st.consecLosses >= m.cfg.ConsecLossThrottle:
			from, to = st.mode, ModeReduced
			reason = fmt.Sprintf("%d consecutive losses", st.consecLosses)
			st.mode = ModeReduced
		}
	}
	onTransition := m.onTransition
	m.mu.Unlock()

	if to != "" {
		m.logTransition(strategy, from, to, reason, 0, 0, now)
		if onTransition != nil {
			onTransition(strategy, from, to, reason)
		}
	}
}

// EvaluateWinRates applies the rolling-rate rules. Called once per day at
// the 15:30 session close; intraday mode changes come from RecordOutcome.
func (m *AdaptiveManager) EvaluateWinRates(now time.Time) {
	if m.db == nil {
		return
	}
	for _, strategy := range []string{types.StrategyGap, types.StrategyORB, types.StrategyVWAP} {
		rate5, sample5, err := m.db.RollingWinRate(strategy, 5, now)
		if err != nil {
			log.Warn().Err(err).Str("strategy", strategy).Msg("Win rate query failed")
			continue
		}
		rate10, sample10, err := m.db.RollingWinRate(strategy, 10, now)
		if err != nil {
			continue
		}

		m.mu.Lock()
		st := m.state(strategy)
		warn := sample5 >= m.cfg.MinSample && rate5 < m.cfg.WarnWinRatePct && !st.warnedToday
		if warn {
			st.warnedToday = true
		}
		var from, to, reason string
		if sample10 >= m.cfg.MinSample && rate10 < m.cfg.PauseWinRatePct && st.mode != ModePaused {
			from, to = st.mode, ModePaused
			reason = fmt.Sprintf("10-day win rate %.1f%% below %.0f%%", rate10, m.cfg.PauseWinRatePct)
			st.mode = ModePaused
		}
		onTransition := m.onTransition
		m.mu.Unlock()

		if warn {
			log.Warn().Str("strategy", strategy).Float64("win_rate_5d", rate5).
				Msg("⚠️ Strategy 5-day win rate below warning threshold")
		}
		if to != "" {
			m.logTransition(strategy, from, to, reason, rate10, sample10, now)
			if onTransition != nil {
				onTransition(strategy, from, to, reason)
			}
		}
	}
}

// ShouldAllowSignal applies the mode filter to a scored signal.
func (m *AdaptiveManager) ShouldAllowSignal(strategy string, strength int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state(strategy).mode {
	case ModePaused:
		return false
	case ModeReduced:
		return strength >= 4
	default:
		return true
	}
}

// Mode returns the strategy's current mode.
func (m *AdaptiveManager) Mode(strategy string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(strategy).mode
}

// ResetDaily zeroes daily counters and restores NORMAL; the rolling-rate
// rules re-pause at the next evaluation if performance stays weak.
func (m *AdaptiveManager) ResetDaily(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.states {
		st.wins, st.losses = 0, 0
		st.consecWins, st.consecLosses = 0, 0
		st.warnedToday = false
		st.mode = ModeNormal
	}
}

// Stats returns per-strategy state for the ADAPT command.
func (m *AdaptiveManager) Stats() map[string]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]any, len(m.states))
	for name, st := range m.states {
		out[name] = map[string]any{
			"mode":          st.mode,
			"wins":          st.wins,
			"losses":        st.losses,
			"consec_losses": st.consecLosses,
		}
	}
	return out
}

// state returns (creating if needed) the tracker for a strategy. Caller
// holds the lock.
func (m *AdaptiveManager) state(strategy string) *strategyState {
	st, ok := m.states[strategy]
	if !ok {
		st = &strategyState{mode: ModeNormal}
		m.states[strategy] = st
	}
	return st
}

func (m *AdaptiveManager) logTransition(strategy, from, to, reason string, rate float64, sample int, now time.Time) {
	log.Warn().Str("strategy", strategy).Str("from", from).Str("to", to).
		Str("reason", reason).Msg("🔀 Strategy mode transition")
	if m.db != nil {
		m.db.LogAdaptation(market.Day(now), strategy, from, to, reason, rate, sample)
	}
}

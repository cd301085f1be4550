package strategy

import (
	"sync"
	"time"

	"nse-signal-engine/market"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY INTERFACE - Plug-in pattern for strategies
// ═══════════════════════════════════════════════════════════════════════════════
//
// All strategies implement this interface:
//   Evaluate(store, phase, now) []CandidateSignal
//
// The scan engine calls Evaluate once per tick for every strategy whose
// ActivePhases covers the current session phase. Strategies keep per-session
// state (candidates found, symbols already signaled, cooldowns) that Reset
// clears at session start.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Strategy is the interface all signal strategies implement.
type Strategy interface {
	// Name returns the strategy code (GAP, ORB, VWAP).
	Name() string

	// ActivePhases returns the session phases the strategy evaluates in.
	ActivePhases() []market.Phase

	// Evaluate scans the market store and returns zero or more candidates.
	Evaluate(store *market.Store, phase market.Phase, now time.Time) []types.CandidateSignal

	// Reset clears per-session state.
	Reset()
}

// ActiveIn reports whether a strategy evaluates in the given phase.
func ActiveIn(s Strategy, phase market.Phase) bool {
	for _, p := range s.ActivePhases() {
		if p == phase {
			return true
		}
	}
	return false
}

// Registry holds the configured strategies in evaluation order.
type Registry struct {
	order      []string
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.order = append(r.order, s.Name())
		r.strategies[s.Name()] = s
	}
	return r
}

// Get returns a strategy by code.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// All returns the strategies in registration order.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.strategies[name])
	}
	return out
}

// Names returns the registered strategy codes.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// ResetAll clears session state on every strategy.
func (r *Registry) ResetAll() {
	for _, s := range r.All() {
		s.Reset()
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// GAP REGISTRY - symbols holding gap candidates, consulted by ORB
// ═══════════════════════════════════════════════════════════════════════════════

// GapRegistry is the session-scoped set of symbols marked as gap stocks.
// The marking stage fills it from Gap & Go's candidate set; ORB excludes
// marked symbols so one stock cannot ride both momentum paths.
type GapRegistry struct {
	mu      sync.RWMutex
	symbols map[string]bool
}

func NewGapRegistry() *GapRegistry {
	return &GapRegistry{symbols: make(map[string]bool)}
}

// Mark flags a symbol as gap-driven for the rest of the session.
func (g *GapRegistry) Mark(symbols ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range symbols {
		g.symbols[s] = true
	}
}

// IsMarked reports whether a symbol carries a gap candidate.
func (g *GapRegistry) IsMarked(symbol string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.symbols[symbol]
}

// Symbols returns the marked set, for STATUS output.
func (g *GapRegistry) Symbols() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.symbols))
	for s := range g.symbols {
		out = append(out, s)
	}
	return out
}

// Reset clears the set at session start.
func (g *GapRegistry) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.symbols = make(map[string]bool)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

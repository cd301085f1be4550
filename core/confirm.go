package core

import (
	"sort"
	"sync"
	"time"

	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIRMATION DETECTOR - cross-strategy agreement inside a sliding window
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two strategies independently flagging the same symbol within a few
// minutes is a stronger setup than either alone. The detector remembers
// when each strategy last proposed each symbol; a symbol whose window holds
// 2 distinct strategies confirms double, 3 confirms triple. Entries age out
// of the window naturally, so a stale morning candidate does not confirm an
// afternoon one.
//
// ═══════════════════════════════════════════════════════════════════════════════

type ConfirmationDetector struct {
	mu     sync.Mutex
	window time.Duration

	// symbol -> strategy -> latest proposal time
	seen map[string]map[string]time.Time
}

func NewConfirmationDetector(window time.Duration) *ConfirmationDetector {
	return &ConfirmationDetector{
		window: window,
		seen:   make(map[string]map[string]time.Time),
	}
}

// Observe records this cycle's candidates and returns the confirmation for
// every observed symbol.
func (d *ConfirmationDetector) Observe(candidates []types.CandidateSignal, now time.Time) map[string]types.Confirmation {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range candidates {
		byStrategy, ok := d.seen[c.Symbol]
		if !ok {
			byStrategy = make(map[string]time.Time)
			d.seen[c.Symbol] = byStrategy
		}
		byStrategy[c.Strategy] = now
	}

	d.pruneLocked(now)

	out := make(map[string]types.Confirmation, len(candidates))
	for _, c := range candidates {
		if _, done := out[c.Symbol]; done {
			continue
		}
		out[c.Symbol] = d.confirmationLocked(c.Symbol)
	}
	return out
}

// confirmationLocked collects the distinct strategies still inside the
// window for a symbol. Caller holds the lock.
func (d *ConfirmationDetector) confirmationLocked(symbol string) types.Confirmation {
	byStrategy := d.seen[symbol]
	strategies := make([]string, 0, len(byStrategy))
	for s := range byStrategy {
		strategies = append(strategies, s)
	}
	sort.Strings(strategies)

	level := types.ConfirmSingle
	switch {
	case len(strategies) >= 3:
		level = types.ConfirmTriple
	case len(strategies) == 2:
		level = types.ConfirmDouble
	}
	return types.Confirmation{Level: level, Strategies: strategies}
}

// pruneLocked drops entries older than the window. Caller holds the lock.
func (d *ConfirmationDetector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.window)
	for symbol, byStrategy := range d.seen {
		for strat, at := range byStrategy {
			if at.Before(cutoff) {
				delete(byStrategy, strat)
			}
		}
		if len(byStrategy) == 0 {
			delete(d.seen, symbol)
		}
	}
}

// Reset clears the window at session start.
func (d *ConfirmationDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]map[string]time.Time)
}

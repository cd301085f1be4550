package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/metrics"
	"nse-signal-engine/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - session-wide halt after repeated stop-outs
// ═══════════════════════════════════════════════════════════════════════════════
//
// Counts SL-hit exits for the day. At the limit it blocks new signals until
// the operator overrides (OVERRIDE CIRCUIT + YES) or the next session
// resets it. Exits keep running while tripped.
//
// ═══════════════════════════════════════════════════════════════════════════════

type CircuitBreaker struct {
	mu sync.Mutex

	limit       int
	slCount     int
	triggeredAt *time.Time
	day         string

	db     *storage.Database
	onTrip func(slCount int)
}

func NewCircuitBreaker(limit int, db *storage.Database) *CircuitBreaker {
	return &CircuitBreaker{
		limit: limit,
		db:    db,
		day:   market.Day(time.Now()),
	}
}

// SetTripCallback registers the alert hook invoked once per trip.
func (cb *CircuitBreaker) SetTripCallback(fn func(slCount int)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = fn
}

// OnSLHit records one stop-out and trips the breaker at the limit.
func (cb *CircuitBreaker) OnSLHit(now time.Time) {
	cb.mu.Lock()
	cb.checkDayReset(now)
	cb.slCount++
	count := cb.slCount
	tripped := false
	if cb.triggeredAt == nil && count >= cb.limit {
		t := now
		cb.triggeredAt = &t
		tripped = true
	}
	onTrip := cb.onTrip
	cb.mu.Unlock()

	log.Warn().Int("sl_count", count).Int("limit", cb.limit).Msg("🛑 Stop-loss hit recorded")

	if tripped {
		metrics.CircuitActive.Set(1)
		if cb.db != nil {
			cb.db.LogCircuitEvent(market.Day(now), "tripped", count,
				fmt.Sprintf("%d stop-outs, new signals halted", count))
		}
		log.Error().Int("sl_count", count).Msg("⛔ Circuit breaker TRIPPED, new signals halted")
		if onTrip != nil {
			onTrip(count)
		}
	}
}

// IsActive reports whether new signals are blocked.
func (cb *CircuitBreaker) IsActive() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.triggeredAt != nil
}

// SLCount returns the day's stop-out count.
func (cb *CircuitBreaker) SLCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.slCount
}

// Override clears the trip on operator confirmation.
func (cb *CircuitBreaker) Override(now time.Time) {
	cb.mu.Lock()
	wasActive := cb.triggeredAt != nil
	cb.triggeredAt = nil
	count := cb.slCount
	cb.mu.Unlock()

	if !wasActive {
		return
	}
	metrics.CircuitActive.Set(0)
	if cb.db != nil {
		cb.db.LogCircuitEvent(market.Day(now), "override", count, "manual override")
	}
	log.Warn().Int("sl_count", count).Msg("⚠️ Circuit breaker manually overridden")
}

// ResetDaily zeroes the day's state at session start.
func (cb *CircuitBreaker) ResetDaily(now time.Time) {
	cb.mu.Lock()
	cb.slCount = 0
	cb.triggeredAt = nil
	cb.day = market.Day(now)
	cb.mu.Unlock()

	metrics.CircuitActive.Set(0)
	if cb.db != nil {
		cb.db.LogCircuitEvent(market.Day(now), "reset", 0, "session start")
	}
}

// Restore rebuilds the count from persisted trades after a crash. A count
// at or past the limit re-trips without re-alerting.
func (cb *CircuitBreaker) Restore(slCount int, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.day = market.Day(now)
	cb.slCount = slCount
	if slCount >= cb.limit {
		t := now
		cb.triggeredAt = &t
		metrics.CircuitActive.Set(1)
	}
}

// Stats returns the breaker state for STATUS and the dashboard.
func (cb *CircuitBreaker) Stats() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	stats := map[string]any{
		"sl_count": cb.slCount,
		"limit":    cb.limit,
		"active":   cb.triggeredAt != nil,
	}
	if cb.triggeredAt != nil {
		stats["triggered_at"] = cb.triggeredAt.In(market.IST).Format("15:04:05")
	}
	return stats
}

// checkDayReset clears stale state if the process ran past midnight.
// Caller holds the lock.
func (cb *CircuitBreaker) checkDayReset(now time.Time) {
	today := market.Day(now)
	if cb.day != today {
		cb.day = today
		cb.slCount = 0
		cb.triggeredAt = nil
	}
}

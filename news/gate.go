package news

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NEWS SENTIMENT GATE
//
// Last stop before sizing. Signals on symbols with strongly negative news
// or a results announcement today are suppressed; mildly negative news
// knocks one star off. The gate reads the last refreshed batch only - it
// never blocks a scan on the network - and an operator UNSUPPRESS opens a
// symbol back up for the rest of the day.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	SuppressEarnings     = "earnings_today"
	SuppressNegativeNews = "strong_negative_news"
)

// SuppressedSignal records one gate rejection for the NEWS command and the
// suppression audit trail.
type SuppressedSignal struct {
	Symbol   string
	Strategy string
	Reason   string
	Headline string
}

// GateResult separates survivors from suppressions for one scan cycle.
type GateResult struct {
	Passed     []types.RankedSignal
	Suppressed []SuppressedSignal
	Warnings   []string
}

// Gate applies sentiment and earnings policy to ranked signals.
type Gate struct {
	mu sync.Mutex

	enabled          bool
	earningsBlackout bool

	source   Source
	earnings *EarningsCalendar
	db       *storage.Database

	sentiments   map[string]Sentiment
	unsuppressed map[string]string // symbol -> day it was cleared for
	refreshedAt  time.Time
}

func NewGate(enabled, earningsBlackout bool, source Source, earnings *EarningsCalendar, db *storage.Database) *Gate {
	return &Gate{
		enabled:          enabled,
		earningsBlackout: earningsBlackout,
		source:           source,
		earnings:         earnings,
		db:               db,
		sentiments:       make(map[string]Sentiment),
		unsuppressed:     make(map[string]string),
	}
}

// Enabled reports whether the gate is live or in pass-through mode.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Refresh pulls a sentiment batch for the watched symbols and swaps it in.
// Called from the scheduler (pre-market and mid-session), never from the
// scan loop.
func (g *Gate) Refresh(ctx context.Context, symbols []string, now time.Time) {
	if g.source == nil {
		return
	}
	batch := g.source.FetchBatch(ctx, symbols, now)

	g.mu.Lock()
	g.sentiments = batch
	g.refreshedAt = now
	g.mu.Unlock()

	negative := 0
	for _, s := range batch {
		if s.Level == StrongNegative || s.Level == MildNegative {
			negative++
		}
	}
	log.Info().
		Int("symbols", len(batch)).
		Int("negative", negative).
		Msg("📰 Sentiment refreshed")
}

// SentimentFor returns the last refreshed verdict for a symbol, NO_NEWS
// when the batch has nothing for it.
func (g *Gate) SentimentFor(symbol string) Sentiment {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sentiments[symbol]; ok {
		return s
	}
	return Sentiment{Symbol: symbol, Level: NoNews}
}

// Unsuppress clears a symbol past the gate for the rest of the session.
func (g *Gate) Unsuppress(symbol string, now time.Time) {
	g.mu.Lock()
	g.unsuppressed[symbol] = market.Day(now)
	g.mu.Unlock()
	log.Info().Str("symbol", symbol).Msg("⚠️ News suppression lifted by operator")
}

// Apply filters ranked signals through the sentiment and earnings policy.
// A disabled gate passes everything; an unknown symbol is NO_NEWS and
// passes. Never returns an error: a news outage must not cost a session.
func (g *Gate) Apply(ranked []types.RankedSignal, now time.Time) GateResult {
	result := GateResult{Passed: make([]types.RankedSignal, 0, len(ranked))}

	g.mu.Lock()
	enabled := g.enabled
	blackout := g.earningsBlackout
	g.mu.Unlock()

	if !enabled {
		result.Passed = append(result.Passed, ranked...)
		return result
	}

	day := market.Day(now)
	for _, sig := range ranked {
		if g.clearedForDay(sig.Symbol, day) {
			result.Passed = append(result.Passed, sig)
			continue
		}

		if blackout && g.earnings != nil && g.earnings.ReportsToday(sig.Symbol, now) {
			g.suppress(&result, sig, SuppressEarnings, "")
			continue
		}

		s := g.SentimentFor(sig.Symbol)
		switch s.Level {
		case StrongNegative:
			g.suppress(&result, sig, SuppressNegativeNews, s.Headline)

		case MildNegative:
			// One star off, never below 1.
			if sig.Strength > 1 {
				sig.Strength--
			}
			result.Warnings = append(result.Warnings,
				sig.Symbol+": mildly negative news, strength reduced")
			result.Passed = append(result.Passed, sig)

		default:
			result.Passed = append(result.Passed, sig)
		}
	}
	return result
}

func (g *Gate) clearedForDay(symbol, day string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unsuppressed[symbol] == day
}

func (g *Gate) suppress(result *GateResult, sig types.RankedSignal, reason, headline string) {
	result.Suppressed = append(result.Suppressed, SuppressedSignal{
		Symbol:   sig.Symbol,
		Strategy: sig.Strategy,
		Reason:   reason,
		Headline: headline,
	})
	log.Info().
		Str("symbol", sig.Symbol).
		Str("strategy", sig.Strategy).
		Str("reason", reason).
		Msg("🚫 Signal suppressed by news gate")

	if g.db == nil {
		return
	}
	details := reason
	if headline != "" {
		details = reason + ": " + headline
	}
	if err := g.db.InsertAction(&storage.SignalAction{
		Symbol:  sig.Symbol,
		Action:  "suppressed",
		Details: details,
	}); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Suppression record failed")
	}
}

// ResetDaily drops session state at the start of a trading day.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sentiments = make(map[string]Sentiment)
	g.unsuppressed = make(map[string]string)
}

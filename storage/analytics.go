package storage

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCORE BREAKDOWNS
// ═══════════════════════════════════════════════════════════════════════════════

// InsertHybridScore stores the component breakdown behind a composite.
func (d *Database) InsertHybridScore(h *HybridScore) error {
	return d.db.Create(h).Error
}

// GetHybridScore returns today's breakdown for a symbol (SCORE command).
func (d *Database) GetHybridScore(symbol, date string) (*HybridScore, error) {
	var h HybridScore
	err := d.db.Where("symbol = ? AND date = ?", symbol, date).
		Order("created_at DESC").First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// NEWS & EARNINGS
// ═══════════════════════════════════════════════════════════════════════════════

// UpsertNewsSentiment replaces the day's verdict for a symbol.
func (d *Database) UpsertNewsSentiment(rec *NewsSentimentRecord) error {
	var existing NewsSentimentRecord
	err := d.db.Where("symbol = ? AND date = ?", rec.Symbol, rec.Date).
		First(&existing).Error
	if err == nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		return d.db.Save(rec).Error
	}
	if !IsNotFound(err) {
		return err
	}
	return d.db.Create(rec).Error
}

// GetNewsSentiment returns the cached verdict for a symbol on a date.
func (d *Database) GetNewsSentiment(symbol, date string) (*NewsSentimentRecord, error) {
	var rec NewsSentimentRecord
	err := d.db.Where("symbol = ? AND date = ?", symbol, date).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetNewsForDay returns all non-neutral verdicts for the NEWS ALL view.
func (d *Database) GetNewsForDay(date string) ([]NewsSentimentRecord, error) {
	var recs []NewsSentimentRecord
	err := d.db.Where("date = ? AND sentiment <> ?", date, "NO_NEWS").
		Order("symbol ASC").Find(&recs).Error
	return recs, err
}

// UpsertEarnings records an earnings date for a symbol.
func (d *Database) UpsertEarnings(symbol, date, source string) error {
	var existing EarningsEvent
	err := d.db.Where("symbol = ? AND date = ?", symbol, date).First(&existing).Error
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	return d.db.Create(&EarningsEvent{Symbol: symbol, Date: date, Source: source}).Error
}

// HasEarningsToday reports an earnings blackout for the symbol.
func (d *Database) HasEarningsToday(symbol, date string) (bool, error) {
	var count int64
	err := d.db.Model(&EarningsEvent{}).
		Where("symbol = ? AND date = ?", symbol, date).Count(&count).Error
	return count > 0, err
}

// GetEarningsBetween lists earnings events in a date window, for the
// EARNINGS command.
func (d *Database) GetEarningsBetween(from, to string) ([]EarningsEvent, error) {
	var events []EarningsEvent
	err := d.db.Where("date >= ? AND date <= ?", from, to).
		Order("date ASC, symbol ASC").Find(&events).Error
	return events, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// REGIME
// ═══════════════════════════════════════════════════════════════════════════════

// InsertRegimeClassification stores a classifier run or manual override.
func (d *Database) InsertRegimeClassification(rc *RegimeClassification) error {
	return d.db.Create(rc).Error
}

// LatestRegime returns the most recent classification for a date.
func (d *Database) LatestRegime(date string) (*RegimeClassification, error) {
	var rc RegimeClassification
	err := d.db.Where("date = ?", date).Order("classified_at DESC").First(&rc).Error
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// GetRegimeHistory returns recent classifications, newest first.
func (d *Database) GetRegimeHistory(limit int) ([]RegimeClassification, error) {
	var rcs []RegimeClassification
	err := d.db.Order("classified_at DESC").Limit(limit).Find(&rcs).Error
	return rcs, err
}

// RecordRegimeOutcome accumulates a closed trade into the (regime,
// strategy) bucket for the weekly rebalance.
func (d *Database) RecordRegimeOutcome(date, label, strategy string, won bool, pnl decimal.Decimal) error {
	var rp RegimePerformance
	err := d.db.Where("date = ? AND label = ? AND strategy = ?", date, label, strategy).
		First(&rp).Error
	if IsNotFound(err) {
		rp = RegimePerformance{Date: date, Label: label, Strategy: strategy}
	} else if err != nil {
		return err
	}
	rp.Signals++
	if won {
		rp.Wins++
	} else {
		rp.Losses++
	}
	rp.PnLAbs = rp.PnLAbs.Add(pnl)
	return d.db.Save(&rp).Error
}

// GetRegimePerformanceSince aggregates buckets newer than a date.
func (d *Database) GetRegimePerformanceSince(date string) ([]RegimePerformance, error) {
	var rps []RegimePerformance
	err := d.db.Where("date >= ?", date).Find(&rps).Error
	return rps, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// OPERATOR ACTIONS & WATCHLIST
// ═══════════════════════════════════════════════════════════════════════════════

// InsertAction records an operator interaction or a gate suppression.
func (d *Database) InsertAction(a *SignalAction) error {
	return d.db.Create(a).Error
}

// GetSuppressedToday lists gate suppressions for the day.
func (d *Database) GetSuppressedToday(date string) ([]SignalAction, error) {
	var actions []SignalAction
	start := date + " 00:00:00"
	err := d.db.Where("action = ? AND created_at >= ?", "suppressed", start).
		Order("created_at ASC").Find(&actions).Error
	return actions, err
}

// AddWatch puts a symbol on the watchlist (idempotent per day).
func (d *Database) AddWatch(date, symbol, strategy, note string) error {
	var existing WatchlistEntry
	err := d.db.Where("symbol = ? AND active = ?", symbol, true).First(&existing).Error
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	return d.db.Create(&WatchlistEntry{
		Date: date, Symbol: symbol, Strategy: strategy, Note: note, Active: true,
	}).Error
}

// RemoveWatch deactivates a watchlist entry.
func (d *Database) RemoveWatch(symbol string) (bool, error) {
	res := d.db.Model(&WatchlistEntry{}).
		Where("symbol = ? AND active = ?", symbol, true).
		Update("active", false)
	return res.RowsAffected > 0, res.Error
}

// GetWatchlist returns active entries, oldest first.
func (d *Database) GetWatchlist() ([]WatchlistEntry, error) {
	var entries []WatchlistEntry
	err := d.db.Where("active = ?", true).Order("created_at ASC").Find(&entries).Error
	return entries, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT LOGS
// ═══════════════════════════════════════════════════════════════════════════════

// LogCircuitEvent records a circuit breaker trip, override or reset.
func (d *Database) LogCircuitEvent(date, event string, slCount int, details string) error {
	return d.db.Create(&CircuitBreakerLog{
		Date: date, Event: event, SLCount: slCount, Details: details,
	}).Error
}

// LogAdaptation records a strategy mode transition.
func (d *Database) LogAdaptation(date, strategy, from, to, reason string, winRate float64, sample int) error {
	return d.db.Create(&AdaptationLog{
		Date: date, Strategy: strategy, FromMode: from, ToMode: to,
		Reason: reason, WinRatePct: winRate, SampleSize: sample,
	}).Error
}

// GetAdaptationsForDay lists mode transitions for the ADAPT command.
func (d *Database) GetAdaptationsForDay(date string) ([]AdaptationLog, error) {
	var logs []AdaptationLog
	err := d.db.Where("date = ?", date).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// DAILY PERFORMANCE
// ═══════════════════════════════════════════════════════════════════════════════

// BumpStrategySignals increments the signal count for (date, strategy).
func (d *Database) BumpStrategySignals(date, strategy string) error {
	sp, err := d.getOrCreatePerf(date, strategy)
	if err != nil {
		return err
	}
	sp.Signals++
	return d.db.Save(sp).Error
}

// RecordStrategyOutcome folds a closed trade into the daily tally.
func (d *Database) RecordStrategyOutcome(date, strategy string, taken, won bool, pnl decimal.Decimal) error {
	sp, err := d.getOrCreatePerf(date, strategy)
	if err != nil {
		return err
	}
	if taken {
		sp.Taken++
	}
	if won {
		sp.Wins++
	} else {
		sp.Losses++
	}
	sp.PnLAbs = sp.PnLAbs.Add(pnl)
	if closed := sp.Wins + sp.Losses; closed > 0 {
		sp.WinRatePct = float64(sp.Wins) / float64(closed) * 100
	}
	return d.db.Save(sp).Error
}

// GetStrategyPerformance returns the day's tallies for all strategies.
func (d *Database) GetStrategyPerformance(date string) ([]StrategyPerformance, error) {
	var sps []StrategyPerformance
	err := d.db.Where("date = ?", date).Order("strategy ASC").Find(&sps).Error
	return sps, err
}

// GetStrategyPerformanceSince aggregates daily rows newer than a date.
func (d *Database) GetStrategyPerformanceSince(date string) ([]StrategyPerformance, error) {
	var sps []StrategyPerformance
	err := d.db.Where("date >= ?", date).Find(&sps).Error
	return sps, err
}

func (d *Database) getOrCreatePerf(date, strategy string) (*StrategyPerformance, error) {
	var sp StrategyPerformance
	err := d.db.Where("date = ? AND strategy = ?", date, strategy).First(&sp).Error
	if IsNotFound(err) {
		sp = StrategyPerformance{Date: date, Strategy: strategy}
		if err := d.db.Create(&sp).Error; err != nil {
			return nil, err
		}
		return &sp, nil
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// DaySummary aggregates a session for the 15:30 report.
type DaySummary struct {
	Date       string
	Signals    int
	Taken      int
	Skipped    int
	Expired    int
	Closed     int
	Wins       int
	Losses     int
	PnLAbs     decimal.Decimal
	OpenAtEOD  int
}

// GetDaySummary builds the end-of-day report numbers.
func (d *Database) GetDaySummary(date string) (*DaySummary, error) {
	s := &DaySummary{Date: date, PnLAbs: decimal.Zero}

	signals, err := d.GetSignalsForDay(date)
	if err != nil {
		return nil, err
	}
	s.Signals = len(signals)
	for _, sig := range signals {
		switch sig.Status {
		case "taken":
			s.Taken++
		case "skipped":
			s.Skipped++
		case "expired":
			s.Expired++
		}
	}

	trades, err := d.GetTradesForDay(date)
	if err != nil {
		return nil, err
	}
	for _, t := range trades {
		if t.Paper {
			continue
		}
		if t.Status == "closed" {
			s.Closed++
			if t.PnLAbs.IsPositive() {
				s.Wins++
			} else {
				s.Losses++
			}
			s.PnLAbs = s.PnLAbs.Add(t.PnLAbs)
		} else {
			s.OpenAtEOD++
		}
	}
	return s, nil
}

// PurgeBefore deletes aged rows from the high-volume tables; the 15:30
// cleanup job keeps the store bounded.
func (d *Database) PurgeBefore(date string) error {
	if err := d.db.Where("date < ?", date).Delete(&HybridScore{}).Error; err != nil {
		return err
	}
	if err := d.db.Where("date < ?", date).Delete(&NewsSentimentRecord{}).Error; err != nil {
		return err
	}
	return d.db.Where("created_at < ?", date+" 00:00:00").Delete(&SignalAction{}).Error
}

package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// InsertSignal persists a new signal row and returns its id.
func (d *Database) InsertSignal(s *Signal) (uint, error) {
	if err := d.db.Create(s).Error; err != nil {
		return 0, err
	}
	return s.ID, nil
}

// UpdateSignalStatus moves a signal through its lifecycle.
func (d *Database) UpdateSignalStatus(id uint, status string) error {
	return d.db.Model(&Signal{}).Where("id = ?", id).
		Update("status", status).Error
}

// SetSignalMessageID links the chat message that carries the signal buttons.
func (d *Database) SetSignalMessageID(id uint, messageID int) error {
	return d.db.Model(&Signal{}).Where("id = ?", id).
		Update("message_id", messageID).Error
}

// GetSignal fetches one signal by id.
func (d *Database) GetSignal(id uint) (*Signal, error) {
	var s Signal
	err := d.db.First(&s, "id = ?", id).Error
	return &s, err
}

// GetSignalByMessageID resolves a button callback back to its signal.
func (d *Database) GetSignalByMessageID(messageID int) (*Signal, error) {
	var s Signal
	err := d.db.First(&s, "message_id = ?", messageID).Error
	return &s, err
}

// GetActiveSignals returns sent, unexpired signals for the day, newest
// first.
func (d *Database) GetActiveSignals(date string, now time.Time) ([]Signal, error) {
	var signals []Signal
	err := d.db.Where("date = ? AND status = ? AND expires_at > ?", date, "sent", now).
		Order("created_at DESC").Find(&signals).Error
	return signals, err
}

// GetLatestActiveSignal returns the most recent active signal, used by a
// bare TAKEN command.
func (d *Database) GetLatestActiveSignal(date string, now time.Time) (*Signal, error) {
	var s Signal
	err := d.db.Where("date = ? AND status = ? AND expires_at > ?", date, "sent", now).
		Order("created_at DESC").First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStaleSignals returns sent signals past their expiry, oldest first.
// Callers release their allocation headroom before flipping them expired.
func (d *Database) GetStaleSignals(now time.Time) ([]Signal, error) {
	var signals []Signal
	err := d.db.Where("status = ? AND expires_at <= ?", "sent", now).
		Order("created_at ASC").Find(&signals).Error
	return signals, err
}

// ExpireStaleSignals flips sent signals past their expiry to expired and
// returns how many were touched.
func (d *Database) ExpireStaleSignals(now time.Time) (int64, error) {
	res := d.db.Model(&Signal{}).
		Where("status = ? AND expires_at <= ?", "sent", now).
		Update("status", "expired")
	return res.RowsAffected, res.Error
}

// HasSignalForStockToday reports whether any signal row exists for the
// symbol today, regardless of status.
func (d *Database) HasSignalForStockToday(symbol, date string) (bool, error) {
	var count int64
	err := d.db.Model(&Signal{}).
		Where("symbol = ? AND date = ?", symbol, date).Count(&count).Error
	return count > 0, err
}

// GetSignalsForDay returns all signal rows for a date.
func (d *Database) GetSignalsForDay(date string) ([]Signal, error) {
	var signals []Signal
	err := d.db.Where("date = ?", date).Order("created_at ASC").Find(&signals).Error
	return signals, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// InsertTrade opens a trade and returns its id.
func (d *Database) InsertTrade(t *Trade) (uint, error) {
	if err := d.db.Create(t).Error; err != nil {
		return 0, err
	}
	return t.ID, nil
}

// CloseTrade finalizes a trade with its exit fill and P&L.
func (d *Database) CloseTrade(id uint, exitPrice, pnlAbs decimal.Decimal, pnlPct float64, reason string) error {
	now := time.Now()
	return d.db.Model(&Trade{}).Where("id = ?", id).Updates(map[string]any{
		"status":      "closed",
		"exit_price":  exitPrice,
		"pn_l_abs":    pnlAbs,
		"pn_l_pct":    pnlPct,
		"exit_reason": reason,
		"closed_at":   now,
	}).Error
}

// UpdateTradeStop persists the exit monitor's trailing state so a restart
// resumes exactly where it left off.
func (d *Database) UpdateTradeStop(id uint, stopLoss, highest decimal.Decimal, trailingActive, breakevenHit bool) error {
	return d.db.Model(&Trade{}).Where("id = ?", id).Updates(map[string]any{
		"stop_loss":       stopLoss,
		"highest_price":   highest,
		"trailing_active": trailingActive,
		"breakeven_hit":   breakevenHit,
	}).Error
}

// MarkT1Alerted records the one-shot T1 advisory.
func (d *Database) MarkT1Alerted(id uint) error {
	return d.db.Model(&Trade{}).Where("id = ?", id).
		Update("t1_alerted", true).Error
}

// ReduceTradeQuantity shrinks an open trade after a partial booking and folds
// the realized slice into its P&L.
func (d *Database) ReduceTradeQuantity(id uint, remaining int, bookedPnL decimal.Decimal) error {
	return d.db.Model(&Trade{}).Where("id = ? AND status = ?", id, "open").Updates(map[string]any{
		"quantity": remaining,
		"pn_l_abs": gorm.Expr("pn_l_abs + ?", bookedPnL),
	}).Error
}

// GetActiveTrades returns open trades ordered by id so per-tick processing
// is deterministic.
func (d *Database) GetActiveTrades() ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("status = ?", "open").Order("id ASC").Find(&trades).Error
	return trades, err
}

// GetActiveTradeCount counts open trades.
func (d *Database) GetActiveTradeCount() (int, error) {
	var count int64
	err := d.db.Model(&Trade{}).Where("status = ?", "open").Count(&count).Error
	return int(count), err
}

// HasActiveTradeForSymbol reports whether the symbol already has an open
// trade.
func (d *Database) HasActiveTradeForSymbol(symbol string) (bool, error) {
	var count int64
	err := d.db.Model(&Trade{}).
		Where("symbol = ? AND status = ?", symbol, "open").Count(&count).Error
	return count > 0, err
}

// GetTrade fetches one trade by id.
func (d *Database) GetTrade(id uint) (*Trade, error) {
	var t Trade
	err := d.db.First(&t, "id = ?", id).Error
	return &t, err
}

// GetTradesForDay returns all trades opened on a date.
func (d *Database) GetTradesForDay(date string) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("date = ?", date).Order("id ASC").Find(&trades).Error
	return trades, err
}

// CountSLHitsToday counts real (non-paper) stop-outs for the date; crash
// recovery rebuilds the circuit breaker from it.
func (d *Database) CountSLHitsToday(date string) (int, error) {
	var count int64
	err := d.db.Model(&Trade{}).
		Where("date = ? AND status = ? AND exit_reason = ? AND paper = ?",
			date, "closed", "sl_hit", false).
		Count(&count).Error
	return int(count), err
}

// ═══════════════════════════════════════════════════════════════════════════════
// USER CONFIG
// ═══════════════════════════════════════════════════════════════════════════════

// GetOrCreateUserConfig loads the single operator row, seeding it with the
// given defaults on first run.
func (d *Database) GetOrCreateUserConfig(defaults UserConfig) (*UserConfig, error) {
	defaults.ID = 1
	var cfg UserConfig
	err := d.db.Where(UserConfig{ID: 1}).Attrs(defaults).FirstOrCreate(&cfg).Error
	return &cfg, err
}

// SaveUserConfig writes the operator row back.
func (d *Database) SaveUserConfig(cfg *UserConfig) error {
	cfg.ID = 1
	return d.db.Save(cfg).Error
}

// ═══════════════════════════════════════════════════════════════════════════════
// WIN RATES
// ═══════════════════════════════════════════════════════════════════════════════

// RollingWinRate computes a strategy's win rate over closed, non-paper
// trades in the trailing window. Returns (rate in [0,100], sample size).
func (d *Database) RollingWinRate(strategy string, days int, asOf time.Time) (float64, int, error) {
	since := asOf.AddDate(0, 0, -days).Format("2006-01-02")

	var total, wins int64
	base := d.db.Model(&Trade{}).
		Where("strategy = ? AND status = ? AND paper = ? AND date >= ?",
			strategy, "closed", false, since)
	if err := base.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	err := d.db.Model(&Trade{}).
		Where("strategy = ? AND status = ? AND paper = ? AND date >= ? AND pn_l_abs > 0",
			strategy, "closed", false, since).
		Count(&wins).Error
	if err != nil {
		return 0, 0, err
	}
	return float64(wins) / float64(total) * 100, int(total), nil
}

// IsNotFound reports whether err is the driver's empty-result error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE MODELS
// ═══════════════════════════════════════════════════════════════════════════════
//
// Dates are stored as "YYYY-MM-DD" strings in IST so that day-scoped queries
// (dedup, journal, circuit counts) are simple equality filters.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Signal is a delivered (or paper / blocked) signal row.
type Signal struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Date      string `gorm:"index:idx_signals_date_symbol"`
	Symbol    string `gorm:"index:idx_signals_date_symbol"`
	Strategy  string
	SetupType string
	Direction string

	Entry           decimal.Decimal `gorm:"type:decimal(12,2)"`
	StopLoss        decimal.Decimal `gorm:"type:decimal(12,2)"`
	Target1         decimal.Decimal `gorm:"type:decimal(12,2)"`
	Target2         decimal.Decimal `gorm:"type:decimal(12,2)"`
	Quantity        int
	CapitalRequired decimal.Decimal `gorm:"type:decimal(14,2)"`

	CompositeScore    float64
	Strength          int
	Rank              int
	GapPct            float64
	VolumeRatio       float64
	ConfirmationLevel int
	RegimeLabel       string

	Status    string `gorm:"index"` // sent, taken, skipped, expired, paper, position_full
	MessageID int    // chat message carrying the signal buttons
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trade is an operator-accepted signal under exit monitoring.
type Trade struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	SignalID uint   `gorm:"index"`
	Date     string `gorm:"index"`
	Symbol   string `gorm:"index"`
	Strategy string

	Entry           decimal.Decimal `gorm:"type:decimal(12,2)"`
	StopLoss        decimal.Decimal `gorm:"type:decimal(12,2)"` // current, raised by trailing
	InitialStopLoss decimal.Decimal `gorm:"type:decimal(12,2)"`
	Target1         decimal.Decimal `gorm:"type:decimal(12,2)"`
	Target2         decimal.Decimal `gorm:"type:decimal(12,2)"`
	Quantity        int
	Paper           bool

	// Exit-monitor state, persisted so crash recovery resumes mid-trade.
	HighestPrice   decimal.Decimal `gorm:"type:decimal(12,2)"`
	TrailingActive bool
	BreakevenHit   bool
	T1Alerted      bool

	Status     string          `gorm:"index"` // open, closed
	ExitPrice  decimal.Decimal `gorm:"type:decimal(12,2)"`
	ExitReason string          // sl_hit, trailing_sl, t1_hit, t2_hit, time_exit, manual_exit
	PnLAbs     decimal.Decimal `gorm:"type:decimal(14,2)"`
	PnLPct     float64

	OpenedAt  time.Time
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserConfig is the single-row operator configuration.
type UserConfig struct {
	ID              uint            `gorm:"primaryKey"`
	Capital         decimal.Decimal `gorm:"type:decimal(14,2)"`
	MaxPositions    int
	MaxRiskPct      float64
	SignalExpiryMin int

	GapAllocPct  float64
	ORBAllocPct  float64
	VWAPAllocPct float64

	GapPaused  bool
	ORBPaused  bool
	VWAPPaused bool

	GapPaper  bool
	ORBPaper  bool
	VWAPPaper bool

	UpdatedAt time.Time
}

func (UserConfig) TableName() string { return "user_config" }

// HybridScore keeps the per-signal score breakdown for the SCORE command.
type HybridScore struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Date     string `gorm:"index:idx_scores_date_symbol"`
	Symbol   string `gorm:"index:idx_scores_date_symbol"`
	Strategy string

	StrategyScore     float64
	WinRateScore      float64
	RiskRewardScore   float64
	ConfirmationBonus float64
	Composite         float64
	Strength          int

	CreatedAt time.Time
}

// CircuitBreakerLog records trips, overrides and daily resets.
type CircuitBreakerLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Date      string `gorm:"index"`
	Event     string // tripped, override, reset
	SLCount   int
	Details   string
	CreatedAt time.Time
}

func (CircuitBreakerLog) TableName() string { return "circuit_breaker_log" }

// AdaptationLog records per-strategy mode transitions.
type AdaptationLog struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Date       string `gorm:"index"`
	Strategy   string
	FromMode   string
	ToMode     string
	Reason     string
	WinRatePct float64
	SampleSize int
	CreatedAt  time.Time
}

func (AdaptationLog) TableName() string { return "adaptation_log" }

// NewsSentimentRecord is one cached sentiment verdict.
type NewsSentimentRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Date      string `gorm:"index:idx_news_date_symbol"`
	Symbol    string `gorm:"index:idx_news_date_symbol"`
	Sentiment string // STRONG_NEGATIVE, MILD_NEGATIVE, NEUTRAL, POSITIVE, NO_NEWS
	Headline  string
	Score     float64
	Source    string
	FetchedAt time.Time
	CreatedAt time.Time
}

func (NewsSentimentRecord) TableName() string { return "news_sentiment" }

// EarningsEvent marks a symbol reporting results on a date; signals are
// suppressed that day when the blackout is enabled.
type EarningsEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"index:idx_earnings_symbol_date"`
	Date      string `gorm:"index:idx_earnings_symbol_date"`
	Source    string
	CreatedAt time.Time
}

func (EarningsEvent) TableName() string { return "earnings_calendar" }

// RegimeClassification is one classifier run (or manual override).
type RegimeClassification struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Date       string `gorm:"index"`
	Label      string // TRENDING, RANGING, VOLATILE
	Confidence float64

	TrendingScore float64
	RangingScore  float64
	VolatileScore float64
	VIX           float64
	NiftyGapPct   float64

	Overridden   bool
	ClassifiedAt time.Time
	CreatedAt    time.Time
}

// RegimePerformance accumulates outcomes per (regime, strategy) for the
// weekly rebalance.
type RegimePerformance struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Date      string          `gorm:"index"`
	Label     string
	Strategy  string
	Signals   int
	Wins      int
	Losses    int
	PnLAbs    decimal.Decimal `gorm:"type:decimal(14,2)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RegimePerformance) TableName() string { return "regime_performance" }

// SignalAction is an operator interaction: button press, command verdict or
// a gate suppression (SignalID 0 when no signal row exists yet).
type SignalAction struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SignalID  uint   `gorm:"index"`
	Symbol    string `gorm:"index"`
	Action    string // taken, skipped, watch, suppressed, book_t1, exit_now, hold, take_profit, let_run
	Details   string
	CreatedAt time.Time
}

// WatchlistEntry is a symbol the operator flagged from a signal.
type WatchlistEntry struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Date      string `gorm:"index"`
	Symbol    string `gorm:"index"`
	Strategy  string
	Note      string
	Active    bool
	CreatedAt time.Time
}

func (WatchlistEntry) TableName() string { return "watchlist" }

// StrategyPerformance is the per-day per-strategy tally feeding win rates.
type StrategyPerformance struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Date       string `gorm:"index:idx_perf_date_strategy"`
	Strategy   string `gorm:"index:idx_perf_date_strategy"`
	Signals    int
	Taken      int
	Wins       int
	Losses     int
	PnLAbs     decimal.Decimal `gorm:"type:decimal(14,2)"`
	WinRatePct float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (StrategyPerformance) TableName() string { return "strategy_performance" }

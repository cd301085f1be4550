package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Strategy name codes used in signals, persistence and chat commands.
const (
	StrategyGap  = "GAP"
	StrategyORB  = "ORB"
	StrategyVWAP = "VWAP"
)

// StrategyDisplayName maps strategy codes to human-readable names.
var StrategyDisplayName = map[string]string{
	StrategyGap:  "Gap & Go",
	StrategyORB:  "Opening Range Breakout",
	StrategyVWAP: "VWAP Reversal",
}

// DirectionBuy is the only trade direction: cash-segment intraday shorting
// is out of scope, every setup is long.
const DirectionBuy = "BUY"

// Signal lifecycle statuses as persisted.
const (
	SignalStatusSent         = "sent"
	SignalStatusTaken        = "taken"
	SignalStatusSkipped      = "skipped"
	SignalStatusExpired      = "expired"
	SignalStatusPaper        = "paper"
	SignalStatusPositionFull = "position_full"
)

// Trade exit reasons.
const (
	ExitSLHit      = "sl_hit"
	ExitT1Hit      = "t1_hit"
	ExitT2Hit      = "t2_hit"
	ExitTrailingSL = "trailing_sl"
	ExitTimeExit   = "time_exit"
	ExitManual     = "manual_exit"
)

// Instrument is one tradeable NSE symbol, resolved at startup from the
// constituent list against the broker instrument master. Immutable after load.
type Instrument struct {
	Symbol   string
	Token    string
	Exchange string
	LotSize  int
}

// Tick is the latest trade snapshot for a symbol. Each update replaces the
// previous one; CumVolume is the broker's running total for the day.
type Tick struct {
	Symbol    string
	LTP       decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	PrevClose decimal.Decimal
	CumVolume int64
	Timestamp time.Time
}

// HistoricalRef holds the prior-session reference levels loaded pre-open.
type HistoricalRef struct {
	PrevClose decimal.Decimal
	PrevHigh  decimal.Decimal
	AvgVolume int64 // 20-session average daily volume
}

// OpeningRange tracks the session's first-30-minute high/low. Once locked it
// never changes; RangeSizePct is computed at lock time.
type OpeningRange struct {
	High         decimal.Decimal
	Low          decimal.Decimal
	Locked       bool
	RangeSizePct float64
}

// Candle is one 15-minute OHLCV bucket.
type Candle struct {
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// CandidateSignal is a strategy's raw long entry proposal before the
// pipeline scores, gates and sizes it.
type CandidateSignal struct {
	Symbol    string
	Direction string // BUY only in phase 1
	Strategy  string
	SetupType string // e.g. "pullback" vs "reclaim" for VWAP

	Entry    decimal.Decimal
	StopLoss decimal.Decimal
	Target1  decimal.Decimal
	Target2  decimal.Decimal

	// Feature scalars the producing strategy derived the setup from.
	GapPct          float64
	VolumeRatio     float64
	DistFromOpenPct float64

	// StrengthScore is the strategy's own 0-100 quality estimate, one of the
	// four composite score inputs.
	StrengthScore float64

	GeneratedAt time.Time
}

// RiskReward returns (T1 - entry) / (entry - SL); 0 when the stop distance
// is not positive.
func (c CandidateSignal) RiskReward() float64 {
	risk := c.Entry.Sub(c.StopLoss)
	if risk.Sign() <= 0 {
		return 0
	}
	reward := c.Target1.Sub(c.Entry)
	return reward.Div(risk).InexactFloat64()
}

// Confirmation levels for same-symbol candidates from distinct strategies.
const (
	ConfirmSingle = 1
	ConfirmDouble = 2
	ConfirmTriple = 3
)

// Confirmation records which strategies agreed on a symbol inside the window.
type Confirmation struct {
	Level      int
	Strategies []string
}

// RankedSignal wraps a candidate with its composite score and batch rank.
type RankedSignal struct {
	CandidateSignal
	CompositeScore float64
	Rank           int
	Strength       int // 1..5 stars derived from the composite score
}

// FinalSignal is a ranked signal sized against capital, ready for delivery.
type FinalSignal struct {
	RankedSignal
	Quantity        int64
	CapitalRequired decimal.Decimal
	ExpiresAt       time.Time
	Paper           bool
}

// ScoreBreakdown is the composite score decomposition kept for SCORE queries.
type ScoreBreakdown struct {
	Symbol        string
	Strategy      string
	StrategyScore float64
	WinRateScore  float64
	RRScore       float64
	ConfirmBonus  float64
	Composite     float64
	Strength      int
	ComputedAt    time.Time
}

// UserSettings is the runtime snapshot of operator-tunable configuration,
// backed by the user_config table.
type UserSettings struct {
	Capital          decimal.Decimal
	MaxPositions     int
	MaxRiskPct       float64
	SignalExpiryMin  int
	Allocations      map[string]float64 // strategy code -> pct of capital
	PausedStrategies map[string]bool
	PaperStrategies  map[string]bool
}

// AllocationFor returns the capital fraction allocated to a strategy,
// defaulting to an even split when unset.
func (u UserSettings) AllocationFor(strategy string) float64 {
	if pct, ok := u.Allocations[strategy]; ok && pct > 0 {
		return pct
	}
	return 100.0 / 3
}

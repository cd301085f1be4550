package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET DATA STORE - Shared session state
// ═══════════════════════════════════════════════════════════════════════════════
//
// One mutex guards every mutator and reader; no I/O ever happens inside the
// critical section. The feed goroutine writes through ApplyTick, the scan
// goroutine reads. Unknown symbols return zero values, never errors.
//
// ═══════════════════════════════════════════════════════════════════════════════

type vwapState struct {
	cumPV  decimal.Decimal // cumulative price x volume
	cumVol int64
}

// Store holds all per-session market state for the tracked universe.
type Store struct {
	mu sync.RWMutex

	ticks         map[string]types.Tick
	historical    map[string]types.HistoricalRef
	cumVolume     map[string]int64
	openingRanges map[string]types.OpeningRange
	vwap          map[string]vwapState
	current       map[string]*types.Candle
	completed     map[string][]types.Candle
}

// NewStore creates an empty market data store.
func NewStore() *Store {
	return &Store{
		ticks:         make(map[string]types.Tick),
		historical:    make(map[string]types.HistoricalRef),
		cumVolume:     make(map[string]int64),
		openingRanges: make(map[string]types.OpeningRange),
		vwap:          make(map[string]vwapState),
		current:       make(map[string]*types.Candle),
		completed:     make(map[string][]types.Candle),
	}
}

// ApplyTick is the feed ingestion path: replaces the tick, derives the
// cumulative-volume delta, widens the opening range, accumulates VWAP and
// updates the in-progress candle, all under a single lock acquisition.
func (s *Store) ApplyTick(t types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := t.CumVolume - s.cumVolume[t.Symbol]
	if delta < 0 {
		delta = 0
	}

	s.ticks[t.Symbol] = t
	s.cumVolume[t.Symbol] = t.CumVolume

	hi, lo := t.High, t.Low
	if hi.Sign() <= 0 {
		hi = t.LTP
	}
	if lo.Sign() <= 0 {
		lo = t.LTP
	}
	s.widenRangeLocked(t.Symbol, hi, lo)
	s.accumulateVWAPLocked(t.Symbol, t.LTP, delta)
	s.updateCandleLocked(t.Symbol, t.LTP, delta, t.Timestamp)
}

// UpdateTick replaces the stored tick for a symbol.
func (s *Store) UpdateTick(symbol string, t types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[symbol] = t
}

// GetTick returns the latest tick for a symbol.
func (s *Store) GetTick(symbol string) (types.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[symbol]
	return t, ok
}

// SetHistorical stores the prior-session reference levels. Idempotent.
func (s *Store) SetHistorical(symbol string, ref types.HistoricalRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historical[symbol] = ref
}

// GetHistorical returns the prior-session reference for a symbol.
func (s *Store) GetHistorical(symbol string) (types.HistoricalRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.historical[symbol]
	return ref, ok
}

// AccumulateVolume replaces the cumulative day volume for a symbol. The
// broker reports running totals, so this is assignment, not addition.
func (s *Store) AccumulateVolume(symbol string, cumulative int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumVolume[symbol] = cumulative
}

// GetCumulativeVolume returns the day's running volume for a symbol.
func (s *Store) GetCumulativeVolume(symbol string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cumVolume[symbol]
}

// UpdateOpeningRange widens a symbol's opening range. Silently dropped once
// the range is locked.
func (s *Store) UpdateOpeningRange(symbol string, high, low decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widenRangeLocked(symbol, high, low)
}

func (s *Store) widenRangeLocked(symbol string, high, low decimal.Decimal) {
	r := s.openingRanges[symbol]
	if r.Locked {
		return
	}
	if high.GreaterThan(r.High) {
		r.High = high
	}
	if r.Low.Sign() <= 0 || low.LessThan(r.Low) {
		r.Low = low
	}
	s.openingRanges[symbol] = r
}

// LockOpeningRanges freezes every tracked range with a positive low and
// computes its size as a percentage of the low. Called once at 09:45.
func (s *Store) LockOpeningRanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked := 0
	for symbol, r := range s.openingRanges {
		if r.Locked || r.Low.Sign() <= 0 {
			continue
		}
		r.Locked = true
		r.RangeSizePct = r.High.Sub(r.Low).Div(r.Low).InexactFloat64() * 100
		s.openingRanges[symbol] = r
		locked++
	}
	return locked
}

// RestoreOpeningRange installs an already-final range, locked on arrival.
// Used on mid-session recovery, where the true 09:15-09:45 range comes from
// the broker's candle history rather than live ticks. Ranges with a
// non-positive low are dropped.
func (s *Store) RestoreOpeningRange(symbol string, high, low decimal.Decimal) {
	if low.Sign() <= 0 || high.LessThan(low) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openingRanges[symbol] = types.OpeningRange{
		High:         high,
		Low:          low,
		Locked:       true,
		RangeSizePct: high.Sub(low).Div(low).InexactFloat64() * 100,
	}
}

// GetOpeningRange returns a symbol's opening range.
func (s *Store) GetOpeningRange(symbol string) (types.OpeningRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.openingRanges[symbol]
	return r, ok
}

// UpdateVWAP accumulates price x volume for the session VWAP.
func (s *Store) UpdateVWAP(symbol string, price decimal.Decimal, deltaVolume int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulateVWAPLocked(symbol, price, deltaVolume)
}

func (s *Store) accumulateVWAPLocked(symbol string, price decimal.Decimal, deltaVolume int64) {
	if deltaVolume <= 0 {
		return
	}
	v := s.vwap[symbol]
	v.cumPV = v.cumPV.Add(price.Mul(decimal.NewFromInt(deltaVolume)))
	v.cumVol += deltaVolume
	s.vwap[symbol] = v
}

// GetVWAP returns the session VWAP; ok is false until any volume has traded.
func (s *Store) GetVWAP(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.vwap[symbol]
	if v.cumVol <= 0 {
		return decimal.Zero, false
	}
	return v.cumPV.Div(decimal.NewFromInt(v.cumVol)), true
}

// UpdateCandle folds a price/volume observation into the symbol's current
// 15-minute candle, finalizing the previous candle on a bucket change.
func (s *Store) UpdateCandle(symbol string, price decimal.Decimal, deltaVolume int64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCandleLocked(symbol, price, deltaVolume, ts)
}

func (s *Store) updateCandleLocked(symbol string, price decimal.Decimal, deltaVolume int64, ts time.Time) {
	bucket := CandleBucket(ts)
	cur := s.current[symbol]

	if cur == nil || !cur.Start.Equal(bucket) {
		if cur != nil {
			s.completed[symbol] = append(s.completed[symbol], *cur)
		}
		s.current[symbol] = &types.Candle{
			Start:  bucket,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: deltaVolume,
		}
		return
	}

	if price.GreaterThan(cur.High) {
		cur.High = price
	}
	if price.LessThan(cur.Low) {
		cur.Low = price
	}
	cur.Close = price
	cur.Volume += deltaVolume
}

// GetCurrentCandle returns the in-progress candle for a symbol.
func (s *Store) GetCurrentCandle(symbol string) (types.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.current[symbol]
	if cur == nil {
		return types.Candle{}, false
	}
	return *cur, true
}

// GetCompletedCandles returns a copy of the symbol's finalized candles in
// bucket order.
func (s *Store) GetCompletedCandles(symbol string) []types.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.completed[symbol]
	if len(src) == 0 {
		return nil
	}
	out := make([]types.Candle, len(src))
	copy(out, src)
	return out
}

// GetAvgCandleVolume returns the mean volume across completed candles only;
// zero when none have closed yet.
func (s *Store) GetAvgCandleVolume(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candles := s.completed[symbol]
	if len(candles) == 0 {
		return 0
	}
	var total int64
	for _, c := range candles {
		total += c.Volume
	}
	return float64(total) / float64(len(candles))
}

// TrackedSymbols returns every symbol that has received a tick this session.
func (s *Store) TrackedSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ticks))
	for symbol := range s.ticks {
		out = append(out, symbol)
	}
	return out
}

// ClearSession wipes all intraday state while preserving the historical
// references. Called at session start, not on crash recovery.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = make(map[string]types.Tick)
	s.cumVolume = make(map[string]int64)
	s.openingRanges = make(map[string]types.OpeningRange)
	s.vwap = make(map[string]vwapState)
	s.current = make(map[string]*types.Candle)
	s.completed = make(map[string][]types.Candle)
}

package feeds

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORICAL REFERENCE LOADER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Before the open the engine needs, per symbol: previous close, previous day
// high and the 10-session average volume. Primary source is the broker's
// daily-candle endpoint; a fallback provider covers symbols the primary
// rejects. Fetches run under a small semaphore and the whole wave pauses
// when the broker rate-limits.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	candlePath     = "/rest/secure/angelbroking/historical/v1/getCandleData"
	refLookbackDay = 20 // sessions in the average-volume window
)

// DailyCandle is one completed session of OHLCV.
type DailyCandle struct {
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// HistoricalFetcher loads per-symbol reference data into the market store.
type HistoricalFetcher struct {
	session     *Session
	fallback    *FallbackProvider
	cal         *market.Calendar
	concurrency int
	cooldown    time.Duration

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewHistoricalFetcher wires the primary session and optional fallback
// (nil when no fallback URL is configured).
func NewHistoricalFetcher(session *Session, fallback *FallbackProvider, cal *market.Calendar, concurrency int, cooldown time.Duration) *HistoricalFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HistoricalFetcher{
		session:     session,
		fallback:    fallback,
		cal:         cal,
		concurrency: concurrency,
		cooldown:    cooldown,
	}
}

// LoadReferences fetches daily candles for every instrument and stores the
// derived references. Returns (loaded, failed) counts; a symbol that fails
// both providers is logged and skipped, never fatal.
func (h *HistoricalFetcher) LoadReferences(instruments []types.Instrument, store *market.Store) (int, int) {
	start := time.Now()
	sem := make(chan struct{}, h.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	loaded, failed := 0, 0

	for _, in := range instruments {
		wg.Add(1)
		sem <- struct{}{}
		go func(in types.Instrument) {
			defer wg.Done()
			defer func() { <-sem }()

			ref, err := h.fetchReference(in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Debug().Err(err).Str("symbol", in.Symbol).Msg("Reference fetch failed")
				return
			}
			store.SetHistorical(in.Symbol, ref)
			loaded++
		}(in)
	}
	wg.Wait()

	log.Info().Int("loaded", loaded).Int("failed", failed).
		Dur("took", time.Since(start)).Msg("📚 Historical references loaded")
	return loaded, failed
}

// LoadOpeningRanges rebuilds the true 09:15-09:45 range per symbol from the
// broker's 15-minute candles and installs each as locked. Run on mid-session
// recovery past 09:45, where live ticks can no longer reproduce the opening
// window. The fallback provider is daily-only, so a symbol whose intraday
// fetch fails stays unlocked and sits out range-based setups for the day.
func (h *HistoricalFetcher) LoadOpeningRanges(instruments []types.Instrument, store *market.Store, now time.Time) (int, int) {
	sem := make(chan struct{}, h.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	locked, failed := 0, 0

	for _, in := range instruments {
		wg.Add(1)
		sem <- struct{}{}
		go func(in types.Instrument) {
			defer wg.Done()
			defer func() { <-sem }()

			candles, err := h.fetchOpeningCandles(in.Token, now)
			if errors.Is(err, ErrRateLimited) {
				h.pause()
				candles, err = h.fetchOpeningCandles(in.Token, now)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Debug().Err(err).Str("symbol", in.Symbol).Msg("Opening range fetch failed")
				return
			}
			hi, lo, ok := rangeFromCandles(candles)
			if !ok {
				failed++
				return
			}
			store.RestoreOpeningRange(in.Symbol, hi, lo)
			locked++
		}(in)
	}
	wg.Wait()

	log.Info().Int("locked", locked).Int("failed", failed).
		Msg("🔐 Opening ranges rebuilt from candle history")
	return locked, failed
}

// fetchOpeningCandles pulls today's 09:15 and 09:30 fifteen-minute candles.
func (h *HistoricalFetcher) fetchOpeningCandles(token string, now time.Time) ([]DailyCandle, error) {
	day := now.In(market.IST).Format("2006-01-02")
	raw, err := h.session.Post(candlePath, map[string]string{
		"exchange":    "NSE",
		"symboltoken": token,
		"interval":    "FIFTEEN_MINUTE",
		"fromdate":    day + " 09:15",
		"todate":      day + " 09:45",
	})
	if err != nil {
		return nil, err
	}
	return parseCandleResponse(raw)
}

// rangeFromCandles collapses candles into a single high/low envelope; ok is
// false when no candle carries a positive low.
func rangeFromCandles(candles []DailyCandle) (hi, lo decimal.Decimal, ok bool) {
	for _, c := range candles {
		if c.Low.Sign() <= 0 {
			continue
		}
		if !ok || c.High.GreaterThan(hi) {
			hi = c.High
		}
		if !ok || c.Low.LessThan(lo) {
			lo = c.Low
		}
		ok = true
	}
	return hi, lo, ok
}

// fetchReference tries the broker first, then the fallback provider.
func (h *HistoricalFetcher) fetchReference(in types.Instrument) (types.HistoricalRef, error) {
	candles, err := h.fetchDaily(in.Token)
	if errors.Is(err, ErrRateLimited) {
		h.pause()
		candles, err = h.fetchDaily(in.Token)
	}
	if err != nil && h.fallback != nil {
		candles, err = h.fallback.FetchDaily(in.Symbol, refLookbackDay)
	}
	if err != nil {
		return types.HistoricalRef{}, err
	}
	return refFromCandles(candles)
}

// pause blocks until the shared rate-limit window passes. The first
// goroutine to hit the limit sets the window; the rest just wait it out.
func (h *HistoricalFetcher) pause() {
	h.mu.Lock()
	if time.Now().After(h.pausedUntil) {
		h.pausedUntil = time.Now().Add(h.cooldown)
		log.Warn().Dur("cooldown", h.cooldown).Msg("⏳ Broker rate limit, pausing historical fetches")
	}
	until := h.pausedUntil
	h.mu.Unlock()
	time.Sleep(time.Until(until))
}

// fetchDaily pulls the last refLookbackDay completed daily candles for a
// token. The window is widened to skip weekends and holidays.
func (h *HistoricalFetcher) fetchDaily(token string) ([]DailyCandle, error) {
	now := time.Now().In(market.IST)
	to := now.AddDate(0, 0, -1)
	for !h.cal.IsTradingDay(to) {
		to = to.AddDate(0, 0, -1)
	}
	from := to.AddDate(0, 0, -(refLookbackDay*2 + 5))

	raw, err := h.session.Post(candlePath, map[string]string{
		"exchange":    "NSE",
		"symboltoken": token,
		"interval":    "ONE_DAY",
		"fromdate":    from.Format("2006-01-02 09:15"),
		"todate":      to.Format("2006-01-02 15:30"),
	})
	if err != nil {
		return nil, err
	}
	return parseCandleResponse(raw)
}

// parseCandleResponse decodes the broker's candle payload:
// data is an array of [timestamp, open, high, low, close, volume] rows.
func parseCandleResponse(raw []byte) ([]DailyCandle, error) {
	var resp struct {
		Status  bool    `json:"status"`
		Message string  `json:"message"`
		Data    [][]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode candle response: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("candle request rejected: %s", resp.Message)
	}

	candles := make([]DailyCandle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		ts, _ := row[0].(string)
		date, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		o, ok1 := asDecimal(row[1])
		hi, ok2 := asDecimal(row[2])
		lo, ok3 := asDecimal(row[3])
		cl, ok4 := asDecimal(row[4])
		vol, ok5 := asInt64(row[5])
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			continue
		}
		candles = append(candles, DailyCandle{
			Date: date.In(market.IST), Open: o, High: hi, Low: lo, Close: cl, Volume: vol,
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles in response")
	}
	return candles, nil
}

// refFromCandles derives the reference record: previous close and high come
// from the most recent session, average volume over the full window.
func refFromCandles(candles []DailyCandle) (types.HistoricalRef, error) {
	if len(candles) == 0 {
		return types.HistoricalRef{}, fmt.Errorf("empty candle set")
	}
	last := candles[len(candles)-1]

	tail := candles
	if len(tail) > refLookbackDay {
		tail = tail[len(tail)-refLookbackDay:]
	}
	var sum int64
	for _, c := range tail {
		sum += c.Volume
	}

	return types.HistoricalRef{
		PrevClose: last.Close,
		PrevHigh:  last.High,
		AvgVolume: sum / int64(len(tail)),
	}, nil
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return 0, false
		}
		return d.IntPart(), true
	default:
		return 0, false
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// FALLBACK PROVIDER
// ═══════════════════════════════════════════════════════════════════════════════

// FallbackProvider serves daily OHLCV for symbols the broker endpoint
// rejects. It expects GET {base}/daily?symbol=X&days=N returning a JSON
// array of {date, open, high, low, close, volume}.
type FallbackProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewFallbackProvider returns nil when no URL is configured.
func NewFallbackProvider(baseURL string) *FallbackProvider {
	if baseURL == "" {
		return nil
	}
	return &FallbackProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type fallbackCandle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// FetchDaily returns up to days completed sessions, oldest first.
func (p *FallbackProvider) FetchDaily(symbol string, days int) ([]DailyCandle, error) {
	u := fmt.Sprintf("%s/daily?symbol=%s&days=%d", p.baseURL, url.QueryEscape(symbol), days)
	resp, err := p.httpClient.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fallback status %d for %s", resp.StatusCode, symbol)
	}

	var rows []fallbackCandle
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode fallback response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("fallback returned no candles for %s", symbol)
	}

	candles := make([]DailyCandle, 0, len(rows))
	for _, r := range rows {
		date, _ := time.ParseInLocation("2006-01-02", r.Date, market.IST)
		candles = append(candles, DailyCandle{
			Date:   date,
			Open:   decimal.NewFromFloat(r.Open),
			High:   decimal.NewFromFloat(r.High),
			Low:    decimal.NewFromFloat(r.Low),
			Close:  decimal.NewFromFloat(r.Close),
			Volume: r.Volume,
		})
	}
	return candles, nil
}

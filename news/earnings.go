package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
)

// EarningsCalendar tracks which symbols report results today. Symbols on
// the calendar sit out the session when the earnings blackout is enabled:
// results-day moves gap on the announcement, not on the setups we trade.
type EarningsCalendar struct {
	baseURL    string
	httpClient *http.Client
	db         *storage.Database
}

func NewEarningsCalendar(baseURL string, db *storage.Database) *EarningsCalendar {
	return &EarningsCalendar{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		db:         db,
	}
}

type earningsEntry struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
}

// Refresh pulls the day's earnings list and upserts it. A fetch failure
// leaves yesterday's knowledge in place rather than wiping the calendar.
func (e *EarningsCalendar) Refresh(ctx context.Context, now time.Time) (int, error) {
	if e.baseURL == "" {
		return 0, nil
	}

	day := market.Day(now)
	endpoint := fmt.Sprintf("%s/earnings?date=%s", e.baseURL, day)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build earnings request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch earnings calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("earnings calendar: status %d", resp.StatusCode)
	}

	var entries []earningsEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return 0, fmt.Errorf("decode earnings calendar: %w", err)
	}

	stored := 0
	for _, entry := range entries {
		if entry.Symbol == "" {
			continue
		}
		date := entry.Date
		if date == "" {
			date = day
		}
		if err := e.db.UpsertEarnings(entry.Symbol, date, "earnings-api"); err != nil {
			log.Warn().Err(err).Str("symbol", entry.Symbol).Msg("Earnings upsert failed")
			continue
		}
		stored++
	}

	log.Info().Int("count", stored).Str("date", day).Msg("📰 Earnings calendar refreshed")
	return stored, nil
}

// ReportsToday reports whether the symbol has results on the calendar for
// the given session.
func (e *EarningsCalendar) ReportsToday(symbol string, now time.Time) bool {
	has, err := e.db.HasEarningsToday(symbol, market.Day(now))
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Earnings lookup failed")
		return false
	}
	return has
}

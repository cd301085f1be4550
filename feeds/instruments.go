package feeds

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INSTRUMENT UNIVERSE - scrip master x index constituents
// ═══════════════════════════════════════════════════════════════════════════════
//
// The broker publishes a full scrip master (~100k instruments across
// segments) as one large JSON array. The engine trades only NSE cash-market
// equities from the Nifty 500 list, so the master is filtered against the
// constituents CSV. The raw master is cached in Redis for the day to avoid
// re-downloading it on every restart.
//
// ═══════════════════════════════════════════════════════════════════════════════

const masterCacheTTL = 24 * time.Hour

// masterEntry mirrors one scrip master row. All numeric fields arrive as
// strings.
type masterEntry struct {
	Token      string `json:"token"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	LotSize    string `json:"lotsize"`
	InstType   string `json:"instrumenttype"`
	ExchSeg    string `json:"exch_seg"`
}

// UniverseLoader builds the tradable instrument set.
type UniverseLoader struct {
	masterURL        string
	constituentsPath string
	httpClient       *http.Client
	cache            *redis.Client // nil when Redis is disabled
}

// NewUniverseLoader creates a loader; cache may be nil.
func NewUniverseLoader(masterURL, constituentsPath string, cache *redis.Client) *UniverseLoader {
	return &UniverseLoader{
		masterURL:        masterURL,
		constituentsPath: constituentsPath,
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		cache:            cache,
	}
}

// Load returns the instruments whose symbols appear in the constituents
// file, plus a token->symbol view for the feed.
func (u *UniverseLoader) Load(ctx context.Context) ([]types.Instrument, error) {
	constituents, err := u.readConstituents()
	if err != nil {
		return nil, fmt.Errorf("read constituents: %w", err)
	}

	raw, err := u.fetchMaster(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument master: %w", err)
	}

	var entries []masterEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode instrument master: %w", err)
	}

	instruments := make([]types.Instrument, 0, len(constituents))
	seen := make(map[string]bool, len(constituents))
	for _, e := range entries {
		if e.ExchSeg != "NSE" || !strings.HasSuffix(e.Symbol, "-EQ") {
			continue
		}
		base := strings.TrimSuffix(e.Symbol, "-EQ")
		if !constituents[base] || seen[base] {
			continue
		}
		seen[base] = true

		lot, _ := strconv.Atoi(e.LotSize)
		if lot < 1 {
			lot = 1
		}
		instruments = append(instruments, types.Instrument{
			Symbol:   base,
			Token:    e.Token,
			Exchange: "NSE",
			LotSize:  lot,
		})
	}

	missing := len(constituents) - len(instruments)
	log.Info().Int("instruments", len(instruments)).Int("unmatched", missing).
		Msg("🗂️ Scan universe resolved")
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no constituents matched the instrument master")
	}
	return instruments, nil
}

// readConstituents parses the index CSV. The symbol column is located by
// header name so the file can carry extra columns.
func (u *UniverseLoader) readConstituents() (map[string]bool, error) {
	f, err := os.Open(u.constituentsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("constituents file %s has no data rows", u.constituentsPath)
	}

	symCol := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), "symbol") {
			symCol = i
			break
		}
	}
	if symCol == -1 {
		return nil, fmt.Errorf("constituents file %s has no Symbol column", u.constituentsPath)
	}

	symbols := make(map[string]bool, len(rows)-1)
	for _, row := range rows[1:] {
		if symCol >= len(row) {
			continue
		}
		s := strings.ToUpper(strings.TrimSpace(row[symCol]))
		if s != "" {
			symbols[s] = true
		}
	}
	return symbols, nil
}

// fetchMaster returns the raw scrip master, from Redis when today's copy is
// already cached.
func (u *UniverseLoader) fetchMaster(ctx context.Context) ([]byte, error) {
	key := "instrument_master:" + market.Day(time.Now())

	if u.cache != nil {
		if raw, err := u.cache.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
			log.Info().Int("bytes", len(raw)).Msg("Instrument master served from cache")
			return raw, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.masterURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("instrument master status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if u.cache != nil {
		if err := u.cache.Set(ctx, key, raw, masterCacheTTL).Err(); err != nil {
			log.Warn().Err(err).Msg("Instrument master cache write failed")
		}
	}
	return raw, nil
}

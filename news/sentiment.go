package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SENTIMENT CLIENT - external news sentiment with a redis day-cache
// ═══════════════════════════════════════════════════════════════════════════════

// Level is a symbol's news sentiment bucket.
type Level string

const (
	StrongNegative Level = "STRONG_NEGATIVE"
	MildNegative   Level = "MILD_NEGATIVE"
	Neutral        Level = "NEUTRAL"
	Positive       Level = "POSITIVE"
	NoNews         Level = "NO_NEWS"
)

// Sentiment is one symbol's classified news state.
type Sentiment struct {
	Symbol   string  `json:"symbol"`
	Level    Level   `json:"sentiment"`
	Headline string  `json:"headline"`
	Score    float64 `json:"score"`
}

// Source supplies sentiment for a batch of symbols. Implementations must
// fail open: a symbol they cannot answer for comes back as NO_NEWS.
type Source interface {
	FetchBatch(ctx context.Context, symbols []string, now time.Time) map[string]Sentiment
}

// Client talks to the sentiment service, caching per symbol per day in
// redis and persisting every fetch for the NEWS command.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *redis.Client // nil disables caching
	ttl        time.Duration
	db         *storage.Database
}

func NewClient(baseURL, apiKey string, cache *redis.Client, ttl time.Duration, db *storage.Database) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		ttl:        ttl,
		db:         db,
	}
}

// FetchBatch resolves sentiment for every symbol, from cache where
// possible. Service trouble degrades to NO_NEWS; the gate never blocks on
// a news outage.
func (c *Client) FetchBatch(ctx context.Context, symbols []string, now time.Time) map[string]Sentiment {
	out := make(map[string]Sentiment, len(symbols))
	day := market.Day(now)

	for _, symbol := range symbols {
		if s, ok := c.fromCache(ctx, symbol, day); ok {
			out[symbol] = s
			continue
		}

		s, err := c.fetchOne(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Sentiment fetch failed, treating as NO_NEWS")
			out[symbol] = Sentiment{Symbol: symbol, Level: NoNews}
			continue
		}
		out[symbol] = s

		c.toCache(ctx, symbol, day, s)
		if c.db != nil {
			if err := c.db.UpsertNewsSentiment(&storage.NewsSentimentRecord{
				Date:      day,
				Symbol:    symbol,
				Sentiment: string(s.Level),
				Headline:  s.Headline,
				Score:     s.Score,
				Source:    "sentiment-api",
				FetchedAt: now,
			}); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("Sentiment persist failed")
			}
		}
	}
	return out
}

func (c *Client) fetchOne(ctx context.Context, symbol string) (Sentiment, error) {
	if c.baseURL == "" {
		return Sentiment{Symbol: symbol, Level: NoNews}, nil
	}

	endpoint := fmt.Sprintf("%s/sentiment?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Sentiment{}, fmt.Errorf("build sentiment request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Sentiment{}, fmt.Errorf("fetch sentiment for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sentiment{}, fmt.Errorf("sentiment for %s: status %d", symbol, resp.StatusCode)
	}

	var s Sentiment
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Sentiment{}, fmt.Errorf("decode sentiment for %s: %w", symbol, err)
	}
	s.Symbol = symbol
	if !validLevel(s.Level) {
		s.Level = NoNews
	}
	return s, nil
}

func (c *Client) fromCache(ctx context.Context, symbol, day string) (Sentiment, bool) {
	if c.cache == nil {
		return Sentiment{}, false
	}
	raw, err := c.cache.Get(ctx, sentimentKey(day, symbol)).Result()
	if err != nil {
		return Sentiment{}, false
	}
	var s Sentiment
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Sentiment{}, false
	}
	return s, true
}

func (c *Client) toCache(ctx context.Context, symbol, day string, s Sentiment) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, sentimentKey(day, symbol), raw, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("Sentiment cache write failed")
	}
}

func sentimentKey(day, symbol string) string {
	return "sentiment:" + day + ":" + symbol
}

func validLevel(l Level) bool {
	switch l {
	case StrongNegative, MildNegative, Neutral, Positive, NoNews:
		return true
	}
	return false
}

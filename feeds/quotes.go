package feeds

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INDEX QUOTES - NIFTY 50 / INDIA VIX snapshots over REST
// ═══════════════════════════════════════════════════════════════════════════════

const quotePath = "/rest/secure/angelbroking/market/v1/quote/"

// IndexQuote is one full-mode quote row.
type IndexQuote struct {
	Token     string
	LTP       decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	PrevClose decimal.Decimal
}

// QuoteClient fetches snapshots for index tokens that are not part of the
// tick universe (the regime detector and VIX command use it).
type QuoteClient struct {
	session *Session
}

func NewQuoteClient(session *Session) *QuoteClient {
	return &QuoteClient{session: session}
}

type quoteResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Fetched []struct {
			SymbolToken string  `json:"symbolToken"`
			LTP         float64 `json:"ltp"`
			Open        float64 `json:"open"`
			High        float64 `json:"high"`
			Low         float64 `json:"low"`
			Close       float64 `json:"close"`
		} `json:"fetched"`
	} `json:"data"`
	Message string `json:"message"`
}

// Fetch returns full quotes keyed by token. Missing tokens are absent from
// the result, not an error.
func (q *QuoteClient) Fetch(tokens ...string) (map[string]IndexQuote, error) {
	raw, err := q.session.Post(quotePath, map[string]any{
		"mode":           "FULL",
		"exchangeTokens": map[string][]string{"NSE": tokens},
	})
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("quote request rejected: %s", resp.Message)
	}

	out := make(map[string]IndexQuote, len(resp.Data.Fetched))
	for _, f := range resp.Data.Fetched {
		out[f.SymbolToken] = IndexQuote{
			Token:     f.SymbolToken,
			LTP:       decimal.NewFromFloat(f.LTP),
			Open:      decimal.NewFromFloat(f.Open),
			High:      decimal.NewFromFloat(f.High),
			Low:       decimal.NewFromFloat(f.Low),
			PrevClose: decimal.NewFromFloat(f.Close),
		}
	}
	return out, nil
}

// LTP is a convenience for a single token.
func (q *QuoteClient) LTP(token string) (decimal.Decimal, error) {
	quotes, err := q.Fetch(token)
	if err != nil {
		return decimal.Zero, err
	}
	iq, ok := quotes[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for token %s", token)
	}
	return iq.LTP, nil
}

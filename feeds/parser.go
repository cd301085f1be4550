package feeds

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER TICK PARSER
// ═══════════════════════════════════════════════════════════════════════════════
//
// The broker stream delivers JSON frames: either a single tick object or an
// array of them. Price fields arrive as integers in paise (1/100 rupee).
//
// ═══════════════════════════════════════════════════════════════════════════════

// rawTick mirrors one tick object on the wire.
type rawTick struct {
	Token        string `json:"token"`
	LTP          int64  `json:"last_traded_price"`
	Open         int64  `json:"open_price_of_the_day"`
	High         int64  `json:"high_price_of_the_day"`
	Low          int64  `json:"low_price_of_the_day"`
	PrevClose    int64  `json:"closed_price"`
	Volume       int64  `json:"volume_trade_for_the_day"`
	ExchangeTime int64  `json:"exchange_timestamp"` // ms since epoch, 0 if absent
}

var paiseDivisor = decimal.NewFromInt(100)

// paise converts a broker integer price to rupees.
func paise(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(paiseDivisor)
}

// ParseTickFrame decodes one WebSocket frame into ticks. Tokens not present
// in the symbol map (index feeds, stale subscriptions) are skipped.
func ParseTickFrame(data []byte, tokenToSymbol map[string]string) ([]types.Tick, error) {
	var raws []rawTick
	if err := json.Unmarshal(data, &raws); err != nil {
		var single rawTick
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("decode tick frame: %w", err)
		}
		raws = []rawTick{single}
	}

	ticks := make([]types.Tick, 0, len(raws))
	for _, r := range raws {
		symbol, ok := tokenToSymbol[r.Token]
		if !ok {
			continue
		}
		if r.LTP <= 0 {
			continue
		}

		ts := time.Now().In(market.IST)
		if r.ExchangeTime > 0 {
			ts = time.UnixMilli(r.ExchangeTime).In(market.IST)
		}

		ticks = append(ticks, types.Tick{
			Symbol:    symbol,
			LTP:       paise(r.LTP),
			Open:      paise(r.Open),
			High:      paise(r.High),
			Low:       paise(r.Low),
			PrevClose: paise(r.PrevClose),
			CumVolume: r.Volume,
			Timestamp: ts,
		})
	}
	return ticks, nil
}

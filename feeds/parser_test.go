package feeds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

var testTokenMap = map[string]string{
	"3045":  "SBIN",
	"11536": "TCS",
}

func TestParseTickFrameArray(t *testing.T) {
	frame := []byte(`[
		{"token":"3045","last_traded_price":10450,"open_price_of_the_day":10400,
		 "high_price_of_the_day":10480,"low_price_of_the_day":10390,
		 "closed_price":10000,"volume_trade_for_the_day":4000,
		 "exchange_timestamp":1767065400000},
		{"token":"11536","last_traded_price":350025,"closed_price":348000,
		 "volume_trade_for_the_day":900}
	]`)

	ticks, err := ParseTickFrame(frame, testTokenMap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}

	sbin := ticks[0]
	if sbin.Symbol != "SBIN" {
		t.Errorf("symbol = %s, want SBIN", sbin.Symbol)
	}
	if got := sbin.LTP.InexactFloat64(); got != 104.50 {
		t.Errorf("LTP = %f, want 104.50 (paise conversion)", got)
	}
	if got := sbin.PrevClose.InexactFloat64(); got != 100.00 {
		t.Errorf("PrevClose = %f, want 100.00", got)
	}
	if sbin.CumVolume != 4000 {
		t.Errorf("CumVolume = %d, want 4000", sbin.CumVolume)
	}

	tcs := ticks[1]
	if got := tcs.LTP.InexactFloat64(); got != 3500.25 {
		t.Errorf("TCS LTP = %f, want 3500.25", got)
	}
}

func TestParseTickFrameSingleObject(t *testing.T) {
	frame := []byte(`{"token":"3045","last_traded_price":10450,"volume_trade_for_the_day":10}`)
	ticks, err := ParseTickFrame(frame, testTokenMap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Symbol != "SBIN" {
		t.Fatalf("got %+v, want one SBIN tick", ticks)
	}
}

func TestParseTickFrameSkips(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"unknown token", `[{"token":"99999","last_traded_price":10450}]`},
		{"zero ltp", `[{"token":"3045","last_traded_price":0}]`},
		{"negative ltp", `[{"token":"3045","last_traded_price":-5}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticks, err := ParseTickFrame([]byte(tt.frame), testTokenMap)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(ticks) != 0 {
				t.Errorf("got %d ticks, want 0", len(ticks))
			}
		})
	}
}

func TestParseTickFrameGarbage(t *testing.T) {
	if _, err := ParseTickFrame([]byte(`not json`), testTokenMap); err == nil {
		t.Error("expected error for non-JSON frame")
	}
}

func TestTOTPKnownVectors(t *testing.T) {
	// RFC 6238 appendix B vectors for the SHA-1 mode, truncated to 6 digits.
	secret := "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
	}
	for _, tt := range tests {
		got, err := totpNow(secret, time.Unix(tt.unix, 0))
		if err != nil {
			t.Fatalf("totpNow(%d): %v", tt.unix, err)
		}
		if got != tt.want {
			t.Errorf("totpNow(%d) = %s, want %s", tt.unix, got, tt.want)
		}
	}
}

func TestTOTPBadSecret(t *testing.T) {
	if _, err := totpNow("not-base32-!!!", time.Now()); err == nil {
		t.Error("expected error for invalid secret")
	}
}

func TestRefFromCandles(t *testing.T) {
	candles := make([]DailyCandle, 0, 12)
	for i := 0; i < 12; i++ {
		candles = append(candles, DailyCandle{
			Close:  d(float64(100 + i)),
			High:   d(float64(101 + i)),
			Volume: 1000,
		})
	}

	ref, err := refFromCandles(candles)
	if err != nil {
		t.Fatal(err)
	}
	if !ref.PrevClose.Equal(d(111)) {
		t.Errorf("PrevClose = %s, want 111 (last session)", ref.PrevClose)
	}
	if !ref.PrevHigh.Equal(d(112)) {
		t.Errorf("PrevHigh = %s, want 112", ref.PrevHigh)
	}
	if ref.AvgVolume != 1000 {
		t.Errorf("AvgVolume = %d, want 1000", ref.AvgVolume)
	}

	if _, err := refFromCandles(nil); err == nil {
		t.Error("expected error for empty candle set")
	}
}

func TestParseCandleResponse(t *testing.T) {
	raw := []byte(`{"status":true,"data":[
		["2026-03-09T09:15:00+05:30",100.5,102.0,99.8,101.2,1234567],
		["2026-03-10T09:15:00+05:30",101.0,103.5,100.9,103.0,2000000]
	]}`)

	candles, err := parseCandleResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if !candles[1].High.Equal(d(103.5)) {
		t.Errorf("high = %s, want 103.5", candles[1].High)
	}
	if candles[0].Volume != 1234567 {
		t.Errorf("volume = %d, want 1234567", candles[0].Volume)
	}

	if _, err := parseCandleResponse([]byte(`{"status":false,"message":"no data"}`)); err == nil {
		t.Error("expected error for rejected request")
	}
}

func TestRangeFromCandles(t *testing.T) {
	hi, lo, ok := rangeFromCandles([]DailyCandle{
		{High: d(104.2), Low: d(102.8)},
		{High: d(105.0), Low: d(103.1)},
	})
	if !ok {
		t.Fatal("expected a range from two valid candles")
	}
	if !hi.Equal(d(105)) || !lo.Equal(d(102.8)) {
		t.Errorf("envelope = %s-%s, want 102.8-105", lo, hi)
	}

	// A bad candle is skipped, not fatal.
	hi, lo, ok = rangeFromCandles([]DailyCandle{
		{High: d(104), Low: d(0)},
		{High: d(103), Low: d(101)},
	})
	if !ok || !hi.Equal(d(103)) || !lo.Equal(d(101)) {
		t.Errorf("envelope = %s-%s ok=%v, want 101-103 from the valid candle", lo, hi, ok)
	}

	if _, _, ok := rangeFromCandles(nil); ok {
		t.Error("expected no range from an empty candle set")
	}
}

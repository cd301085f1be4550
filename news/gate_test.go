package news

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nse-signal-engine/market"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

func istTime(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, market.IST)
}

type stubSource struct {
	batch map[string]Sentiment
}

func (s *stubSource) FetchBatch(ctx context.Context, symbols []string, now time.Time) map[string]Sentiment {
	out := make(map[string]Sentiment, len(symbols))
	for _, sym := range symbols {
		if v, ok := s.batch[sym]; ok {
			out[sym] = v
			continue
		}
		out[sym] = Sentiment{Symbol: sym, Level: NoNews}
	}
	return out
}

func ranked(symbol, strategy string, strength int) types.RankedSignal {
	return types.RankedSignal{
		CandidateSignal: types.CandidateSignal{
			Symbol:    symbol,
			Strategy:  strategy,
			Direction: "BUY",
		},
		CompositeScore: 70,
		Strength:       strength,
	}
}

func openTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGateSuppressesStrongNegative(t *testing.T) {
	db := openTestDB(t)
	now := istTime(9, 40)

	src := &stubSource{batch: map[string]Sentiment{
		"TATAMOTORS": {Symbol: "TATAMOTORS", Level: StrongNegative, Headline: "Plant shut after fire", Score: -0.9},
	}}
	gate := NewGate(true, true, src, nil, db)
	gate.Refresh(context.Background(), []string{"TATAMOTORS", "RELIANCE"}, now)

	result := gate.Apply([]types.RankedSignal{
		ranked("TATAMOTORS", types.StrategyGap, 4),
		ranked("RELIANCE", types.StrategyORB, 3),
	}, now)

	if len(result.Passed) != 1 || result.Passed[0].Symbol != "RELIANCE" {
		t.Fatalf("passed = %+v, want only RELIANCE", result.Passed)
	}
	if len(result.Suppressed) != 1 {
		t.Fatalf("suppressed = %+v, want one entry", result.Suppressed)
	}
	sup := result.Suppressed[0]
	if sup.Symbol != "TATAMOTORS" || sup.Reason != SuppressNegativeNews {
		t.Errorf("suppression = %+v, want TATAMOTORS/%s", sup, SuppressNegativeNews)
	}
	if sup.Headline != "Plant shut after fire" {
		t.Errorf("headline = %q, want the fetched headline", sup.Headline)
	}

	actions, err := db.GetSuppressedToday(market.Day(now))
	if err != nil {
		t.Fatalf("read suppressions: %v", err)
	}
	if len(actions) != 1 || actions[0].Symbol != "TATAMOTORS" {
		t.Fatalf("persisted suppressions = %+v, want one for TATAMOTORS", actions)
	}
	if !strings.Contains(actions[0].Details, "Plant shut after fire") {
		t.Errorf("details = %q, want headline included", actions[0].Details)
	}
}

func TestGateDowngradesMildNegative(t *testing.T) {
	now := istTime(10, 5)
	src := &stubSource{batch: map[string]Sentiment{
		"INFY":  {Symbol: "INFY", Level: MildNegative, Headline: "Broker downgrade"},
		"WIPRO": {Symbol: "WIPRO", Level: MildNegative},
	}}
	gate := NewGate(true, false, src, nil, nil)
	gate.Refresh(context.Background(), []string{"INFY", "WIPRO"}, now)

	result := gate.Apply([]types.RankedSignal{
		ranked("INFY", types.StrategyVWAP, 4),
		ranked("WIPRO", types.StrategyVWAP, 1),
	}, now)

	if len(result.Passed) != 2 {
		t.Fatalf("passed = %d signals, want 2", len(result.Passed))
	}
	if got := result.Passed[0].Strength; got != 3 {
		t.Errorf("INFY strength = %d, want 3 after downgrade", got)
	}
	if got := result.Passed[1].Strength; got != 1 {
		t.Errorf("WIPRO strength = %d, want floor of 1", got)
	}
	if len(result.Warnings) != 2 {
		t.Errorf("warnings = %v, want one per downgrade", result.Warnings)
	}
}

func TestGateEarningsBlackout(t *testing.T) {
	db := openTestDB(t)
	now := istTime(9, 50)
	day := market.Day(now)

	if err := db.UpsertEarnings("HDFCBANK", day, "test"); err != nil {
		t.Fatalf("seed earnings: %v", err)
	}
	cal := NewEarningsCalendar("", db)

	gate := NewGate(true, true, &stubSource{}, cal, db)
	result := gate.Apply([]types.RankedSignal{ranked("HDFCBANK", types.StrategyORB, 4)}, now)
	if len(result.Passed) != 0 || len(result.Suppressed) != 1 {
		t.Fatalf("result = %+v, want earnings suppression", result)
	}
	if result.Suppressed[0].Reason != SuppressEarnings {
		t.Errorf("reason = %q, want %q", result.Suppressed[0].Reason, SuppressEarnings)
	}

	// Blackout off: results day is the operator's problem.
	open := NewGate(true, false, &stubSource{}, cal, db)
	result = open.Apply([]types.RankedSignal{ranked("HDFCBANK", types.StrategyORB, 4)}, now)
	if len(result.Passed) != 1 {
		t.Fatalf("passed = %+v, want HDFCBANK through with blackout disabled", result.Passed)
	}
}

func TestGateUnsuppressLastsForTheDay(t *testing.T) {
	now := istTime(10, 20)
	src := &stubSource{batch: map[string]Sentiment{
		"ADANIENT": {Symbol: "ADANIENT", Level: StrongNegative, Headline: "Regulator notice"},
	}}
	gate := NewGate(true, true, src, nil, nil)
	gate.Refresh(context.Background(), []string{"ADANIENT"}, now)

	sig := []types.RankedSignal{ranked("ADANIENT", types.StrategyGap, 5)}
	if result := gate.Apply(sig, now); len(result.Suppressed) != 1 {
		t.Fatalf("want suppression before unsuppress, got %+v", result)
	}

	gate.Unsuppress("ADANIENT", now)
	if result := gate.Apply(sig, now); len(result.Passed) != 1 {
		t.Fatalf("want pass after unsuppress, got %+v", result)
	}
	if got := gate.Apply(sig, now).Passed[0].Strength; got != 5 {
		t.Errorf("strength = %d, want untouched 5 for an unsuppressed symbol", got)
	}

	// Next session: the clearance expires with the day.
	gate.ResetDaily()
	gate.Refresh(context.Background(), []string{"ADANIENT"}, now.AddDate(0, 0, 1))
	if result := gate.Apply(sig, now.AddDate(0, 0, 1)); len(result.Suppressed) != 1 {
		t.Fatalf("want suppression back after daily reset, got %+v", result)
	}
}

func TestGateKillSwitchPassesEverything(t *testing.T) {
	now := istTime(11, 0)
	src := &stubSource{batch: map[string]Sentiment{
		"YESBANK": {Symbol: "YESBANK", Level: StrongNegative},
	}}
	gate := NewGate(false, true, src, nil, nil)
	gate.Refresh(context.Background(), []string{"YESBANK"}, now)

	result := gate.Apply([]types.RankedSignal{ranked("YESBANK", types.StrategyVWAP, 2)}, now)
	if len(result.Passed) != 1 || len(result.Suppressed) != 0 {
		t.Fatalf("result = %+v, want pass-through with gate disabled", result)
	}
	if gate.Enabled() {
		t.Error("Enabled() = true, want false")
	}
}

func TestGateUnknownSymbolIsNoNews(t *testing.T) {
	now := istTime(12, 0)
	gate := NewGate(true, false, &stubSource{}, nil, nil)

	if got := gate.SentimentFor("SBIN").Level; got != NoNews {
		t.Fatalf("sentiment for unseen symbol = %s, want NO_NEWS", got)
	}
	result := gate.Apply([]types.RankedSignal{ranked("SBIN", types.StrategyORB, 3)}, now)
	if len(result.Passed) != 1 || result.Passed[0].Strength != 3 {
		t.Fatalf("result = %+v, want untouched pass", result)
	}
}

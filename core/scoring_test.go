package core

import (
	"testing"

	"nse-signal-engine/regime"
	"nse-signal-engine/types"
)

func TestStrengthBands(t *testing.T) {
	cases := []struct {
		score float64
		want  int
	}{
		{95, 5}, {80, 5},
		{79.9, 4}, {65, 4},
		{64.9, 3}, {50, 3},
		{49.9, 2}, {35, 2},
		{34.9, 1}, {0, 1},
	}
	for _, c := range cases {
		if got := strengthFromScore(c.score); got != c.want {
			t.Errorf("strengthFromScore(%.1f) = %d, want %d", c.score, got, c.want)
		}
	}
}

func TestRRScoreBuckets(t *testing.T) {
	cases := []struct {
		rr   float64
		want float64
	}{
		{3.5, 100}, {3, 100},
		{2.5, 80}, {2, 80},
		{1.7, 60}, {1.5, 60},
		{1.2, 40}, {1, 40},
		{0.8, 20}, {0, 20},
	}
	for _, c := range cases {
		if got := rrScore(c.rr); got != c.want {
			t.Errorf("rrScore(%.1f) = %.0f, want %.0f", c.rr, got, c.want)
		}
	}
}

func testWeights() ScorerWeights {
	return ScorerWeights{Strategy: 0.40, WinRate: 0.25, RR: 0.20, Confirm: 0.15}
}

func TestScoreBatchComposite(t *testing.T) {
	scorer := NewCompositeScorer(testWeights(), nil)

	// Entry 100, SL 97, T1 106 → RR 2.0 → bucket 80. No history → neutral
	// 50. Double confirmation → bonus 50.
	cand := candidate("RELIANCE", types.StrategyGap, 100, 97, 106)
	cand.StrengthScore = 70

	ctx := &ScanContext{
		Now:        istTime(10, 0),
		Candidates: []types.CandidateSignal{cand},
		Confirmations: map[string]types.Confirmation{
			"RELIANCE": {Level: types.ConfirmDouble, Strategies: []string{"GAP", "ORB"}},
		},
	}

	scored := scorer.ScoreBatch(ctx)
	if len(scored) != 1 {
		t.Fatalf("scored %d signals, want 1", len(scored))
	}

	want := 0.40*70 + 0.25*50 + 0.20*80 + 0.15*50 // 64.0
	if got := scored[0].CompositeScore; got < want-0.01 || got > want+0.01 {
		t.Errorf("composite = %.2f, want %.2f", got, want)
	}
	if scored[0].Strength != 3 {
		t.Errorf("strength = %d, want 3", scored[0].Strength)
	}
	if _, ok := ctx.Scores["RELIANCE"]; !ok {
		t.Error("score breakdown not recorded in context")
	}
}

func TestScoreBatchRegimeWeight(t *testing.T) {
	scorer := NewCompositeScorer(testWeights(), nil)

	cand := candidate("TCS", types.StrategyVWAP, 100, 97, 106)
	cand.StrengthScore = 80

	ctx := &ScanContext{
		Now:        istTime(10, 0),
		Candidates: []types.CandidateSignal{cand},
		Confirmations: map[string]types.Confirmation{
			"TCS": {Level: types.ConfirmSingle},
		},
		Regime: &regime.Classification{
			Label:           regime.LabelTrending,
			StrategyWeights: map[string]float64{types.StrategyVWAP: 0.5},
		},
	}

	scored := scorer.ScoreBatch(ctx)
	// Strategy input halved by the regime: 80 → 40.
	if got := ctx.Scores["TCS"].StrategyScore; got != 40 {
		t.Errorf("regime-weighted strategy score = %.1f, want 40", got)
	}
	want := 0.40*40 + 0.25*50 + 0.20*80 + 0.15*0
	if got := scored[0].CompositeScore; got < want-0.01 || got > want+0.01 {
		t.Errorf("composite = %.2f, want %.2f", got, want)
	}
}

func TestRankSignals(t *testing.T) {
	early := istTime(10, 0)
	late := istTime(10, 5)

	a := types.RankedSignal{CandidateSignal: candidate("A", "GAP", 100, 97, 105), CompositeScore: 60}
	b := types.RankedSignal{CandidateSignal: candidate("B", "ORB", 100, 97, 105), CompositeScore: 75}
	c := types.RankedSignal{CandidateSignal: candidate("C", "VWAP", 100, 97, 105), CompositeScore: 60}
	a.GeneratedAt = late
	c.GeneratedAt = early

	ranked := rankSignals([]types.RankedSignal{a, b, c})

	wantOrder := []string{"B", "C", "A"} // score desc, ties by earlier generation
	for i, sym := range wantOrder {
		if ranked[i].Symbol != sym {
			t.Fatalf("rank %d = %s, want %s", i+1, ranked[i].Symbol, sym)
		}
		if ranked[i].Rank != i+1 {
			t.Fatalf("rank field for %s = %d, want %d", sym, ranked[i].Rank, i+1)
		}
	}
}

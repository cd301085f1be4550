package core

import (
	"errors"
	"testing"

	"nse-signal-engine/market"
	"nse-signal-engine/types"
)

type recordingStage struct {
	name string
	runs int
	err  error
	fn   func(ctx *ScanContext)
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) Run(ctx *ScanContext) error {
	s.runs++
	if s.fn != nil {
		s.fn(ctx)
	}
	return s.err
}

func TestPipelineGatesSignalStages(t *testing.T) {
	signal := &recordingStage{name: "signal"}
	always := &recordingStage{name: "always"}
	p := NewPipeline([]Stage{signal}, []Stage{always})

	// Not accepting: only the always group runs.
	p.Run(&ScanContext{Phase: market.PhaseContinuous, AcceptingSignals: false})
	if signal.runs != 0 || always.runs != 1 {
		t.Fatalf("not accepting: signal=%d always=%d, want 0/1", signal.runs, always.runs)
	}

	// Accepting but outside a signal phase: same.
	p.Run(&ScanContext{Phase: market.PhaseWindDown, AcceptingSignals: true})
	if signal.runs != 0 || always.runs != 2 {
		t.Fatalf("wind-down: signal=%d always=%d, want 0/2", signal.runs, always.runs)
	}

	// Accepting in a signal phase: both run.
	p.Run(&ScanContext{Phase: market.PhaseContinuous, AcceptingSignals: true})
	if signal.runs != 1 || always.runs != 3 {
		t.Fatalf("continuous: signal=%d always=%d, want 1/3", signal.runs, always.runs)
	}
}

func TestPipelineStopsSignalGroupWhenGateFlips(t *testing.T) {
	gate := &recordingStage{name: "gate", fn: func(ctx *ScanContext) {
		ctx.AcceptingSignals = false
	}}
	downstream := &recordingStage{name: "downstream"}
	always := &recordingStage{name: "always"}
	p := NewPipeline([]Stage{gate, downstream}, []Stage{always})

	p.Run(&ScanContext{Phase: market.PhaseContinuous, AcceptingSignals: true})
	if gate.runs != 1 {
		t.Fatalf("gate runs = %d, want 1", gate.runs)
	}
	if downstream.runs != 0 {
		t.Fatalf("downstream ran %d times after the gate flipped acceptance off", downstream.runs)
	}
	if always.runs != 1 {
		t.Fatalf("always runs = %d, want 1", always.runs)
	}
}

func TestPipelineReturnsFirstErrorButRunsOn(t *testing.T) {
	errA := errors.New("stage a failed")
	a := &recordingStage{name: "a", err: errA}
	b := &recordingStage{name: "b", err: errors.New("stage b failed")}
	always := &recordingStage{name: "always"}
	p := NewPipeline([]Stage{a, b}, []Stage{always})

	err := p.Run(&ScanContext{Phase: market.PhaseContinuous, AcceptingSignals: true})
	if !errors.Is(err, errA) {
		t.Fatalf("err = %v, want first stage error", err)
	}
	if b.runs != 1 || always.runs != 1 {
		t.Fatalf("later stages skipped after an error: b=%d always=%d", b.runs, always.runs)
	}
}

func TestRegimeKnobFallbacks(t *testing.T) {
	ctx := &ScanContext{}
	if w := ctx.RegimeWeight(types.StrategyGap); w != 1.0 {
		t.Errorf("unclassified RegimeWeight = %.2f, want 1.0", w)
	}
	if m := ctx.MinStar(); m != 0 {
		t.Errorf("unclassified MinStar = %d, want 0", m)
	}
	if p := ctx.PositionModifier(); p != 1.0 {
		t.Errorf("unclassified PositionModifier = %.2f, want 1.0", p)
	}
}

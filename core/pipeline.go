package core

import (
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PIPELINE - ordered stages over one scan context
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two groups. Signal stages run only in a signal phase while the engine is
// accepting; the circuit gate sits first in that group and can flip
// acceptance off mid-cycle, which stops the rest of the group. Always
// stages (exit monitoring) run every cycle in every phase - a tripped
// circuit must never freeze an open position's stop.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Pipeline struct {
	signalStages []Stage
	alwaysStages []Stage
}

func NewPipeline(signalStages, alwaysStages []Stage) *Pipeline {
	return &Pipeline{signalStages: signalStages, alwaysStages: alwaysStages}
}

// Run executes the stage groups against the context. Stage errors are
// logged and counted but do not stop the cycle; the first one is returned
// so the engine can track consecutive failures.
func (p *Pipeline) Run(ctx *ScanContext) error {
	var firstErr error

	if ctx.AcceptingSignals && ctx.Phase.SignalPhase() {
		for _, stage := range p.signalStages {
			if !ctx.AcceptingSignals {
				break
			}
			if err := p.runStage(stage, ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, stage := range p.alwaysStages {
		if err := p.runStage(stage, ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pipeline) runStage(stage Stage, ctx *ScanContext) error {
	start := time.Now()
	err := stage.Run(ctx)
	metrics.StageDuration.WithLabelValues(stage.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error().Err(err).Str("stage", stage.Name()).Int64("cycle", ctx.Cycle).
			Msg("Pipeline stage failed")
	}
	return err
}

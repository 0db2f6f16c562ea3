package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/clients/hiro"
)

// poxSource is the slice of the chain API client the cycle watch needs.
type poxSource interface {
	CurrentPoxCycle(ctx context.Context) (*hiro.PoxCycle, error)
}

// cycleEvaluator is the slice of the engine the cycle watch needs.
type cycleEvaluator interface {
	EvaluateStackingCycle(ctx context.Context, cycle CycleEvent) ([]Event, error)
}

// StackingCycleJob polls the current PoX cycle and fires stacking_cycle
// alerts when the chain rolls into a new one. The first poll only
// establishes the baseline.
type StackingCycleJob struct {
	source    poxSource
	engine    cycleEvaluator
	lastCycle int64
	log       zerolog.Logger
}

// NewStackingCycleJob creates the cycle watch job.
func NewStackingCycleJob(source poxSource, engine cycleEvaluator, log zerolog.Logger) *StackingCycleJob {
	return &StackingCycleJob{
		source:    source,
		engine:    engine,
		lastCycle: -1,
		log:       log.With().Str("job", "stacking_cycle").Logger(),
	}
}

// Name implements scheduler.Job
func (j *StackingCycleJob) Name() string { return "stacking_cycle" }

// Run implements scheduler.Job
func (j *StackingCycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cycle, err := j.source.CurrentPoxCycle(ctx)
	if err != nil {
		return err
	}

	if j.lastCycle < 0 {
		j.lastCycle = cycle.CycleNumber
		return nil
	}
	if cycle.CycleNumber <= j.lastCycle {
		return nil
	}

	// The previous cycle ended and the new one started.
	if _, err := j.engine.EvaluateStackingCycle(ctx, CycleEvent{
		CycleNumber: j.lastCycle,
		Phase:       "end",
		BlockHeight: cycle.BlockHeight,
	}); err != nil {
		j.log.Error().Err(err).Int64("cycle", j.lastCycle).Msg("Cycle end evaluation failed")
	}
	if _, err := j.engine.EvaluateStackingCycle(ctx, CycleEvent{
		CycleNumber: cycle.CycleNumber,
		Phase:       "start",
		BlockHeight: cycle.BlockHeight,
	}); err != nil {
		j.log.Error().Err(err).Int64("cycle", cycle.CycleNumber).Msg("Cycle start evaluation failed")
	}

	j.lastCycle = cycle.CycleNumber
	return nil
}

package pipeline

import (
	"context"
	"log"

	"github.com/scriptreel/api/internal/agent"
)

// runQCLoop alternates QC and Optimizer on the Writer's script, at most
// MaxOptimizeIters optimizer calls. The loop tolerates optimizer failures
// and no-change results: either stops the loop and lets the last QC result
// flow into Gate. Only a QC failure (or a cancel) ends the run itself.
func (o *Orchestrator) runQCLoop(ctx context.Context, in *agent.Input) error {
	item := in.Item
	current := item.Script
	iteration := 0

	for {
		in.Script = current
		in.Iteration = iteration
		if err := o.runStage(ctx, o.agents.QC, in); err != nil {
			return err
		}

		qc := item.QC
		if qc.Passed || iteration >= o.cfg.MaxOptimizeIters {
			return nil
		}
		actionable := qc.Actionable()
		if len(actionable) == 0 {
			log.Printf("Item %s: QC not passed but no actionable weak spots, stopping loop", item.ID)
			return nil
		}

		in.QC = qc
		in.WeakSpots = actionable
		in.Iteration = iteration + 1
		res, err := o.execStage(ctx, o.agents.Optimizer, in)
		if err != nil {
			return err
		}
		if !res.Success {
			log.Printf("Item %s: optimizer failed (%s), keeping last QC result", item.ID, res.Err)
			return nil
		}

		opt := item.Optimization
		if !opt.Changed || opt.Script == nil {
			return nil
		}
		current = opt.Script
		iteration++
	}
}

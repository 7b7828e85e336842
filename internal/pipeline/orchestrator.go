package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/scriptreel/api/internal/agent"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/events"
	"github.com/scriptreel/api/internal/model"
)

var (
	ErrRetryNotAllowed = errors.New("item failure is not retryable")
	ErrRetryCapReached = errors.New("retry cap reached")
	errRunCancelled    = errors.New("run cancelled")
	errStageFailed     = errors.New("stage failed")
	errContentRejected = errors.New("content rejected")
)

// Agents holds the per-item stage agents in pipeline order. Scout is absent:
// it runs once per batch inside the runner, upstream of item processing.
type Agents struct {
	Scorer    agent.Agent
	Analyst   agent.Agent
	Architect agent.Agent
	Writer    agent.Agent
	QC        agent.Agent
	Optimizer agent.Agent
	Gate      agent.Agent
	Delivery  agent.Agent
}

// Orchestrator drives one item through stages 2..9 (fresh run) or 5..9
// (revision run). Stage failures are absorbed here and recorded on the
// item; an error return means the store itself misbehaved, never that a
// stage produced a bad result.
type Orchestrator struct {
	items    ItemStore
	scripts  ScriptStore
	usage    UsageStore
	profiles ProfileStore
	bus      *events.Bus
	agents   Agents
	cfg      config.PipelineConfig
}

func NewOrchestrator(items ItemStore, scripts ScriptStore, usage UsageStore, profiles ProfileStore, bus *events.Bus, agents Agents, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		items:    items,
		scripts:  scripts,
		usage:    usage,
		profiles: profiles,
		bus:      bus,
		agents:   agents,
		cfg:      cfg,
	}
}

// ProcessItem runs the pipeline for a stored item. Revision items enter at
// the Writer; fresh items at the Scorer. The returned error is nil for every
// in-band outcome, including content rejections and stage failures.
func (o *Orchestrator) ProcessItem(ctx context.Context, itemID string) error {
	item, err := o.items.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item %s: %w", itemID, err)
	}
	if item.Status.Terminal() {
		log.Printf("Item %s already %s, skipping", item.ID, item.Status)
		return nil
	}

	profile, err := o.profiles.Get(ctx, item.UserID)
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", item.UserID, err)
	}
	rate, err := o.usage.ApprovalRate(ctx, item.UserID)
	if err != nil {
		return fmt.Errorf("load approval rate for %s: %w", item.UserID, err)
	}

	in := &agent.Input{
		Item:         item,
		Profile:      profile,
		UserID:       item.UserID,
		ApprovalRate: rate,
	}

	err = o.run(ctx, in)
	switch {
	case err == nil:
		return o.finish(ctx, item)
	case errors.Is(err, errRunCancelled):
		log.Printf("Item %s cancelled mid-run, result discarded", item.ID)
		return nil
	case errors.Is(err, errStageFailed), errors.Is(err, errContentRejected):
		return nil
	default:
		return err
	}
}

func (o *Orchestrator) run(ctx context.Context, in *agent.Input) error {
	item := in.Item

	if item.Revision == nil {
		if err := o.runStage(ctx, o.agents.Scorer, in); err != nil {
			return err
		}
		if !item.Score.Passed {
			reason := fmt.Sprintf("score %d below threshold %d", item.Score.Score, item.Score.Threshold)
			return o.reject(ctx, item, model.StageScorer, reason)
		}

		if err := o.runStage(ctx, o.agents.Analyst, in); err != nil {
			return err
		}
		if !item.Analysis.Passed {
			return o.reject(ctx, item, model.StageAnalyst, item.Analysis.RejectReason)
		}

		if err := o.runStage(ctx, o.agents.Architect, in); err != nil {
			return err
		}
	}

	if err := o.runStage(ctx, o.agents.Writer, in); err != nil {
		return err
	}

	if err := o.runQCLoop(ctx, in); err != nil {
		return err
	}

	in.QC = item.QC
	in.Optimization = item.Optimization
	if err := o.runStage(ctx, o.agents.Gate, in); err != nil {
		return err
	}

	// in.Script still holds the loop's final script, the one QC and Gate
	// judged. The Optimization slot cannot be used here: a trailing
	// no-change pass overwrites it and would point Delivery back at the
	// Writer's draft.
	return o.runStage(ctx, o.agents.Delivery, in)
}

// runStage executes one stage and converts a stage failure into an item
// failure. The QC loop uses execStage directly where a failure must not be
// terminal.
func (o *Orchestrator) runStage(ctx context.Context, a agent.Agent, in *agent.Input) error {
	res, err := o.execStage(ctx, a, in)
	if err != nil {
		return err
	}
	if !res.Success {
		if err := o.fail(ctx, in.Item, res.Stage, res.Err, res.FailureKind); err != nil {
			return err
		}
		return errStageFailed
	}
	return nil
}

// execStage runs one stage through the shared wrapper and persists its
// outcome. A cancel issued while the stage was in flight wins: the result
// is discarded, not persisted.
func (o *Orchestrator) execStage(ctx context.Context, a agent.Agent, in *agent.Input) (agent.Result, error) {
	item := in.Item

	if err := o.items.SetCurrentStage(ctx, item.ID, a.Stage()); err != nil {
		return agent.Result{}, fmt.Errorf("set stage %d on %s: %w", a.Stage(), item.ID, err)
	}
	item.CurrentStage = a.Stage()

	res := agent.Process(ctx, a, in, o.bus, o.cfg.LLMCallCost)

	status, err := o.items.Status(ctx, item.ID)
	if err != nil {
		return res, fmt.Errorf("check status of %s: %w", item.ID, err)
	}
	if status == model.ItemStatusCancelled {
		return res, errRunCancelled
	}

	if err := o.items.AppendHistory(ctx, item.ID, res.Record()); err != nil {
		return res, fmt.Errorf("append history for %s: %w", item.ID, err)
	}
	if res.Cost > 0 {
		if err := o.items.AddCost(ctx, item.ID, res.Cost); err != nil {
			return res, fmt.Errorf("add cost for %s: %w", item.ID, err)
		}
		if err := o.usage.AddSpend(ctx, item.UserID, res.Cost); err != nil {
			return res, fmt.Errorf("add spend for %s: %w", item.UserID, err)
		}
		item.TotalCost += res.Cost
	}

	if !res.Success {
		return res, nil
	}

	if err := item.SetStageOutput(a.Stage(), res.Output); err != nil {
		return res, fmt.Errorf("item %s: %w", item.ID, err)
	}
	if err := o.items.SetStageOutput(ctx, item.ID, a.Stage(), res.Output); err != nil {
		return res, fmt.Errorf("persist stage %d for %s: %w", a.Stage(), item.ID, err)
	}
	return res, nil
}

// finish resolves the item after Delivery. A Gate FAIL is a content
// rejection of the whole run even though Delivery itself succeeded.
func (o *Orchestrator) finish(ctx context.Context, item *model.PipelineItem) error {
	if item.Gate != nil && item.Gate.Decision == model.GateFail {
		if err := o.fail(ctx, item, model.StageGate, item.Gate.Reason, model.FailureContent); err != nil {
			return err
		}
		return nil
	}

	if err := o.items.MarkCompleted(ctx, item.ID); err != nil {
		return fmt.Errorf("mark %s completed: %w", item.ID, err)
	}
	o.bus.Publish(model.StageEvent{
		Type:   model.EventItemCompleted,
		UserID: item.UserID,
		ItemID: item.ID,
		Result: item.Delivery,
	})
	return nil
}

func (o *Orchestrator) reject(ctx context.Context, item *model.PipelineItem, stage int, reason string) error {
	if err := o.fail(ctx, item, stage, reason, model.FailureContent); err != nil {
		return err
	}
	return errContentRejected
}

func (o *Orchestrator) fail(ctx context.Context, item *model.PipelineItem, stage int, msg string, kind model.FailureKind) error {
	if err := o.items.MarkFailed(ctx, item.ID, stage, msg, kind); err != nil {
		return fmt.Errorf("mark %s failed: %w", item.ID, err)
	}
	o.releaseRevision(ctx, item)
	o.bus.Publish(model.StageEvent{
		Type:    model.EventItemFailed,
		UserID:  item.UserID,
		ItemID:  item.ID,
		Stage:   stage,
		Message: string(kind),
		Error:   msg,
	})
	return nil
}

// releaseRevision returns a revision's script to pending review when the
// run dies before delivering a new version. Without it the script is stuck
// at revising and every later revision request is refused as in flight.
func (o *Orchestrator) releaseRevision(ctx context.Context, item *model.PipelineItem) {
	if item.Revision == nil {
		return
	}
	script, err := o.scripts.Get(ctx, item.Revision.ScriptID)
	if err != nil {
		log.Printf("Release script %s after failed revision %s: %v", item.Revision.ScriptID, item.ID, err)
		return
	}
	if script.Status != model.ScriptRevising {
		return
	}
	script.Status = model.ScriptPendingReview
	if err := o.scripts.Update(ctx, script); err != nil {
		log.Printf("Release script %s after failed revision %s: %v", script.ID, item.ID, err)
	}
}

// Retry resets a failed item for a full fresh run. Only operational and
// timeout failures qualify, and only below the retry cap. The caller
// re-enqueues the item after a successful reset.
func (o *Orchestrator) Retry(ctx context.Context, itemID string) (int, error) {
	item, err := o.items.Get(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if item.Status != model.ItemStatusFailed {
		return 0, fmt.Errorf("item %s is %s: %w", itemID, item.Status, ErrRetryNotAllowed)
	}
	// A retry rewinds to the Scorer and clears every slot from there on,
	// which would wipe the Analyst and Architect slots a revision run
	// copied from its parent. Failed revisions go through RequestRevision
	// again instead.
	if item.Revision != nil || item.ParentItemID != "" {
		return 0, fmt.Errorf("item %s is a revision run: %w", itemID, ErrRetryNotAllowed)
	}
	if !item.FailureKind.Retryable() {
		return 0, fmt.Errorf("item %s failed with %s: %w", itemID, item.FailureKind, ErrRetryNotAllowed)
	}
	if item.RetryCount >= o.cfg.RetryCap {
		return 0, fmt.Errorf("item %s: %w", itemID, ErrRetryCapReached)
	}
	return o.items.PrepareRetry(ctx, itemID)
}

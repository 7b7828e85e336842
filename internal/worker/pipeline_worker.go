package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/scriptreel/api/internal/pipeline"
	"github.com/scriptreel/api/internal/runner"
	"github.com/scriptreel/api/internal/service"
)

// PipelineWorker dispatches asynq pipeline tasks. Item runs never report an
// error back to asynq for in-band outcomes (content rejections, stage
// failures): those are recorded on the item and must not trigger
// redelivery.
type PipelineWorker struct {
	orch   *pipeline.Orchestrator
	runner *runner.Runner
}

func NewPipelineWorker(orch *pipeline.Orchestrator, r *runner.Runner) *PipelineWorker {
	return &PipelineWorker{orch: orch, runner: r}
}

// HandleProcess runs one fresh item through the full pipeline.
func (w *PipelineWorker) HandleProcess(ctx context.Context, t *asynq.Task) error {
	itemID, err := itemIDFromTask(t)
	if err != nil {
		return err
	}
	log.Printf("Starting pipeline run for item %s", itemID)
	return w.orch.ProcessItem(ctx, itemID)
}

// HandleRevision runs a forked revision item; entry at the Writer is
// carried by the item record itself.
func (w *PipelineWorker) HandleRevision(ctx context.Context, t *asynq.Task) error {
	itemID, err := itemIDFromTask(t)
	if err != nil {
		return err
	}
	log.Printf("Starting revision run for item %s", itemID)
	return w.orch.ProcessItem(ctx, itemID)
}

// HandleBatch runs one discovery and admission round for a user.
func (w *PipelineWorker) HandleBatch(ctx context.Context, t *asynq.Task) error {
	var payload service.BatchTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal batch payload: %w", err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("batch task without user id")
	}

	processed, err := w.runner.ProcessUser(ctx, payload.UserID)
	if err != nil {
		return err
	}
	log.Printf("Batch for user %s processed %d items", payload.UserID, processed)
	return nil
}

func itemIDFromTask(t *asynq.Task) (string, error) {
	var payload service.ItemTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", fmt.Errorf("unmarshal task payload: %w", err)
	}
	if payload.ItemID == "" {
		return "", fmt.Errorf("task without item id")
	}
	return payload.ItemID, nil
}

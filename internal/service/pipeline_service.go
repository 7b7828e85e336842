package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/pipeline"
	"github.com/scriptreel/api/internal/store"
)

const (
	TaskTypeProcess  = "pipeline:process"
	TaskTypeRevision = "pipeline:revision"
	TaskTypeBatch    = "pipeline:batch"

	pipelineQueue = "pipeline"
	taskRetention = 24 * time.Hour
)

var ErrItemNotCancellable = errors.New("item already in terminal state")

// ItemTaskPayload is the asynq payload for per-item runs.
type ItemTaskPayload struct {
	ItemID string `json:"itemId"`
}

// BatchTaskPayload is the asynq payload for per-user batch runs.
type BatchTaskPayload struct {
	UserID string `json:"userId"`
}

// PipelineService is the glue between the operator API and the pipeline:
// it creates items, enqueues runs, and answers status queries. Pipeline
// tasks are enqueued with MaxRetry 0; retry is an explicit operator action,
// never an asynq redelivery.
type PipelineService struct {
	items       *store.ItemStore
	usage       *store.UsageStore
	asynqClient *asynq.Client
	orch        *pipeline.Orchestrator
	cfg         config.PipelineConfig
}

func NewPipelineService(items *store.ItemStore, usage *store.UsageStore, asynqClient *asynq.Client, orch *pipeline.Orchestrator, cfg config.PipelineConfig) *PipelineService {
	return &PipelineService{
		items:       items,
		usage:       usage,
		asynqClient: asynqClient,
		orch:        orch,
		cfg:         cfg,
	}
}

// ProcessItem admits one explicitly submitted source item and enqueues a
// full run for it.
func (s *PipelineService) ProcessItem(ctx context.Context, userID string, req *model.ProcessItemRequest) (*model.ProcessItemResponse, error) {
	publishedAt := time.Now().UTC()
	if req.PublishedAt != nil {
		publishedAt = *req.PublishedAt
	}

	item := &model.PipelineItem{
		ID:           uuid.New().String(),
		UserID:       userID,
		SourceType:   req.SourceType,
		SourceID:     req.SourceID,
		Status:       model.ItemStatusProcessing,
		CurrentStage: model.StageScout,
		Source: &model.SourceMaterial{
			SourceID:    req.SourceID,
			SourceType:  req.SourceType,
			Title:       req.Title,
			Body:        req.Body,
			URL:         req.URL,
			ImageURL:    req.ImageURL,
			PublishedAt: publishedAt,
		},
	}

	if err := s.items.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	if _, err := s.usage.IncrDaily(ctx, userID); err != nil {
		return nil, fmt.Errorf("charge daily counter: %w", err)
	}

	if err := s.enqueueItem(TaskTypeProcess, item.ID); err != nil {
		return nil, err
	}
	return &model.ProcessItemResponse{
		ItemID:    item.ID,
		Status:    item.Status,
		CreatedAt: item.StartedAt,
	}, nil
}

// EnqueueRevision queues a run for an already forked revision item.
func (s *PipelineService) EnqueueRevision(itemID string) error {
	return s.enqueueItem(TaskTypeRevision, itemID)
}

// TriggerBatch queues one discovery and admission round for the user.
func (s *PipelineService) TriggerBatch(ctx context.Context, userID string) (*model.BatchTriggerResponse, error) {
	if err := s.items.RegisterActiveUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	data, err := json.Marshal(BatchTaskPayload{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("marshal batch payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeBatch, data)
	if _, err := s.asynqClient.Enqueue(task,
		asynq.Queue(pipelineQueue),
		asynq.MaxRetry(0),
		asynq.Retention(taskRetention),
	); err != nil {
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}
	return &model.BatchTriggerResponse{UserID: userID, Enqueued: true}, nil
}

// GetStatus returns one item's progress, including the retry affordance.
func (s *PipelineService) GetStatus(ctx context.Context, userID, itemID string) (*model.ItemStatusResponse, error) {
	item, err := s.getOwned(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	retryable := item.Status == model.ItemStatusFailed &&
		item.FailureKind.Retryable() &&
		item.RetryCount < s.cfg.RetryCap

	return &model.ItemStatusResponse{
		ItemID:       item.ID,
		Status:       item.Status,
		CurrentStage: item.CurrentStage,
		StageName:    model.StageTitle(item.CurrentStage),
		TotalCost:    item.TotalCost,
		RetryCount:   item.RetryCount,
		ErrorStage:   item.ErrorStage,
		ErrorMessage: item.ErrorMessage,
		FailureKind:  item.FailureKind,
		Retryable:    retryable,
		StageHistory: item.StageHistory,
		StartedAt:    item.StartedAt,
		CompletedAt:  item.CompletedAt,
	}, nil
}

// Retry resets a failed item and re-enqueues it for a full fresh run.
func (s *PipelineService) Retry(ctx context.Context, userID, itemID string) (*model.RetryItemResponse, error) {
	if _, err := s.getOwned(ctx, userID, itemID); err != nil {
		return nil, err
	}

	count, err := s.orch.Retry(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueueItem(TaskTypeProcess, itemID); err != nil {
		return nil, err
	}
	return &model.RetryItemResponse{
		ItemID:     itemID,
		RetryCount: count,
		Status:     model.ItemStatusProcessing,
	}, nil
}

// Cancel marks an in-flight item cancelled. Any stage already running is
// allowed to finish; its result is discarded, not persisted.
func (s *PipelineService) Cancel(ctx context.Context, userID, itemID string) (*model.CancelItemResponse, error) {
	item, err := s.getOwned(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status.Terminal() {
		return nil, ErrItemNotCancellable
	}

	if err := s.items.MarkCancelled(ctx, itemID); err != nil {
		return nil, err
	}
	return &model.CancelItemResponse{
		ItemID: itemID,
		Status: model.ItemStatusCancelled,
	}, nil
}

// ListItems returns the user's recent items, newest last.
func (s *PipelineService) ListItems(ctx context.Context, userID string, limit int) ([]*model.PipelineItem, error) {
	return s.items.ListByUser(ctx, userID, limit)
}

func (s *PipelineService) getOwned(ctx context.Context, userID, itemID string) (*model.PipelineItem, error) {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, store.ErrItemNotFound
	}
	return item, nil
}

func (s *PipelineService) enqueueItem(taskType, itemID string) error {
	data, err := json.Marshal(ItemTaskPayload{ItemID: itemID})
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := s.asynqClient.Enqueue(task,
		asynq.Queue(pipelineQueue),
		asynq.MaxRetry(0),
		asynq.Retention(taskRetention),
	); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

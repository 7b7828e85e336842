package pipeline

import (
	"context"

	"github.com/scriptreel/api/internal/model"
)

// ItemStore is the slice of the item store the orchestration core depends
// on. Narrowed so tests can run against an in-memory fake.
type ItemStore interface {
	Create(ctx context.Context, item *model.PipelineItem) error
	Get(ctx context.Context, id string) (*model.PipelineItem, error)
	SetStageOutput(ctx context.Context, id string, stage int, output any) error
	CopyStageData(ctx context.Context, parentID, childID string, fromStage, toStage int) error
	AppendHistory(ctx context.Context, id string, rec model.StageRecord) error
	SetCurrentStage(ctx context.Context, id string, stage int) error
	AddCost(ctx context.Context, id string, cost float64) error
	Status(ctx context.Context, id string) (model.ItemStatus, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, stage int, msg string, kind model.FailureKind) error
	PrepareRetry(ctx context.Context, id string) (int, error)
}

// ScriptStore is the slice of the script store the revision path needs.
type ScriptStore interface {
	Get(ctx context.Context, id string) (*model.GeneratedScript, error)
	Update(ctx context.Context, script *model.GeneratedScript) error
	Versions(ctx context.Context, scriptID string) ([]model.ScriptVersion, error)
}

// UsageStore covers spend accounting and the approval-rate signal.
type UsageStore interface {
	AddSpend(ctx context.Context, userID string, amount float64) error
	ApprovalRate(ctx context.Context, userID string) (float64, error)
}

// ProfileStore loads a user's writing profile; implementations return a
// default profile for users who never configured one.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*model.UserWritingProfile, error)
}

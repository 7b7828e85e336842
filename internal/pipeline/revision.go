package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scriptreel/api/internal/model"
)

var (
	ErrRevisionCapReached = errors.New("revision cap reached, script auto-rejected")
	ErrRevisionInFlight   = errors.New("a revision for this script is already running")
	ErrScriptNotOwned     = errors.New("script does not belong to user")
)

// RevisionProcessor forks a delivered script's item for a revision run.
// The fork copies the parent's Scout..Architect output slots verbatim and
// points the new item at the Writer; stages 1..4 are never re-run and never
// re-charged.
type RevisionProcessor struct {
	items   ItemStore
	scripts ScriptStore
	cap     int
	now     func() time.Time
}

func NewRevisionProcessor(items ItemStore, scripts ScriptStore, revisionCap int) *RevisionProcessor {
	return &RevisionProcessor{
		items:   items,
		scripts: scripts,
		cap:     revisionCap,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Fork creates the revision item. A script already at the revision cap is
// auto-rejected instead of forked. The caller enqueues the returned item.
func (p *RevisionProcessor) Fork(ctx context.Context, userID, scriptID, feedback string, sceneIDs []string) (*model.PipelineItem, error) {
	script, err := p.scripts.Get(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if script.UserID != userID {
		return nil, ErrScriptNotOwned
	}
	if script.Status == model.ScriptRevising {
		return nil, ErrRevisionInFlight
	}

	if script.RevisionCount >= p.cap {
		script.Status = model.ScriptRejected
		if err := p.scripts.Update(ctx, script); err != nil {
			return nil, fmt.Errorf("auto-reject script %s: %w", scriptID, err)
		}
		return nil, ErrRevisionCapReached
	}

	parent, err := p.items.Get(ctx, script.ItemID)
	if err != nil {
		return nil, fmt.Errorf("load parent item %s: %w", script.ItemID, err)
	}

	prior, err := p.priorVersions(ctx, script)
	if err != nil {
		return nil, err
	}

	child := &model.PipelineItem{
		ID:           uuid.New().String(),
		UserID:       parent.UserID,
		SourceType:   parent.SourceType,
		SourceID:     parent.SourceID,
		Status:       model.ItemStatusProcessing,
		CurrentStage: model.RevisionEntryStage,
		ParentItemID: parent.ID,
		Revision: &model.RevisionContext{
			Feedback:      feedback,
			ScriptID:      script.ID,
			Attempt:       script.RevisionCount + 1,
			PriorVersions: prior,
			SceneIDs:      sceneIDs,
		},
		StartedAt: p.now(),
	}

	if err := p.items.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("create revision item: %w", err)
	}
	if err := p.items.CopyStageData(ctx, parent.ID, child.ID, model.StageScout, model.StageArchitect); err != nil {
		return nil, fmt.Errorf("copy stage data %s -> %s: %w", parent.ID, child.ID, err)
	}

	script.Status = model.ScriptRevising
	if err := p.scripts.Update(ctx, script); err != nil {
		return nil, fmt.Errorf("mark script %s revising: %w", scriptID, err)
	}
	return child, nil
}

// priorVersions returns up to the last three versions, oldest first, each
// paired with the feedback that prompted it.
func (p *RevisionProcessor) priorVersions(ctx context.Context, script *model.GeneratedScript) ([]model.PriorVersion, error) {
	versions, err := p.scripts.Versions(ctx, script.ID)
	if err != nil {
		return nil, fmt.Errorf("load versions of %s: %w", script.ID, err)
	}
	if len(versions) > 3 {
		versions = versions[len(versions)-3:]
	}

	out := make([]model.PriorVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, model.PriorVersion{
			Version:  v.Version,
			Script:   &model.Script{Scenes: v.Scenes, FullText: v.FullText},
			Feedback: v.Feedback,
		})
	}
	return out, nil
}

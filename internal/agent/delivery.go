package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/scriptreel/api/internal/client"
	"github.com/scriptreel/api/internal/model"
)

// ScriptSink is what Delivery needs from the script store.
type ScriptSink interface {
	Create(ctx context.Context, script *model.GeneratedScript) error
	Get(ctx context.Context, id string) (*model.GeneratedScript, error)
	Update(ctx context.Context, script *model.GeneratedScript) error
	AppendVersion(ctx context.Context, scriptID string, v model.ScriptVersion) (int, error)
}

// StatSink records user-level delivery counters.
type StatSink interface {
	IncrStat(ctx context.Context, userID, stat string) error
}

// DeliveryAgent persists the run's artifact. PASS and NEEDS_REVIEW produce
// a script (new on first runs, a fresh version row on revision runs); FAIL
// writes no script at all and only bumps the failed counter; failed content
// never reaches the review queue.
type DeliveryAgent struct {
	scripts ScriptSink
	stats   StatSink
	archive client.ArchiveClient
}

func NewDeliveryAgent(scripts ScriptSink, stats StatSink, archive client.ArchiveClient) *DeliveryAgent {
	return &DeliveryAgent{scripts: scripts, stats: stats, archive: archive}
}

func (a *DeliveryAgent) Stage() int    { return model.StageDelivery }
func (a *DeliveryAgent) Name() string  { return model.StageTitle(model.StageDelivery) }
func (a *DeliveryAgent) UsesLLM() bool { return false }

func (a *DeliveryAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("delivery: item is required")
	}
	if in.Item.Gate == nil {
		return fmt.Errorf("delivery: gate result is required")
	}
	if in.Item.Gate.Decision != model.GateFail && (in.Script == nil || len(in.Script.Scenes) == 0) {
		return fmt.Errorf("delivery: final script is required")
	}
	return nil
}

func (a *DeliveryAgent) Execute(ctx context.Context, in *Input) (any, error) {
	item := in.Item
	decision := item.Gate.Decision

	if decision == model.GateFail {
		if err := a.stats.IncrStat(ctx, item.UserID, "failed"); err != nil {
			return nil, fmt.Errorf("record failed delivery: %w", err)
		}
		return &model.DeliveryResult{Decision: decision}, nil
	}

	if item.Revision != nil {
		return a.deliverRevision(ctx, in)
	}
	return a.deliverNew(ctx, in)
}

func (a *DeliveryAgent) deliverNew(ctx context.Context, in *Input) (*model.DeliveryResult, error) {
	item := in.Item
	script := &model.GeneratedScript{
		ID:         uuid.New().String(),
		UserID:     item.UserID,
		ItemID:     item.ID,
		SourceID:   item.SourceID,
		SourceType: item.SourceType,
		Title:      item.Source.Title,
		Scenes:     in.Script.Scenes,
		FullText:   in.Script.FullText,
		Scores:     in.QC,
		Decision:   item.Gate.Decision,
		Status:     model.ScriptPendingReview,
	}

	if err := a.scripts.Create(ctx, script); err != nil {
		return nil, fmt.Errorf("persist script: %w", err)
	}
	if err := a.stats.IncrStat(ctx, item.UserID, "delivered"); err != nil {
		return nil, fmt.Errorf("record delivery: %w", err)
	}

	archived := a.archiveScript(ctx, script)
	return &model.DeliveryResult{
		ScriptID: script.ID,
		Version:  1,
		Decision: item.Gate.Decision,
		Archived: archived,
	}, nil
}

func (a *DeliveryAgent) deliverRevision(ctx context.Context, in *Input) (*model.DeliveryResult, error) {
	item := in.Item
	script, err := a.scripts.Get(ctx, item.Revision.ScriptID)
	if err != nil {
		return nil, fmt.Errorf("load script for revision: %w", err)
	}

	version, err := a.scripts.AppendVersion(ctx, script.ID, model.ScriptVersion{
		ItemID:   item.ID,
		Version:  item.Revision.Attempt + 1,
		Scenes:   in.Script.Scenes,
		FullText: in.Script.FullText,
		Scores:   in.QC,
		Decision: item.Gate.Decision,
		Feedback: item.Revision.Feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("append script version: %w", err)
	}

	script.Scenes = in.Script.Scenes
	script.FullText = in.Script.FullText
	script.Scores = in.QC
	script.Decision = item.Gate.Decision
	script.Status = model.ScriptPendingReview
	script.RevisionCount = item.Revision.Attempt
	if err := a.scripts.Update(ctx, script); err != nil {
		return nil, fmt.Errorf("update script head: %w", err)
	}
	if err := a.stats.IncrStat(ctx, item.UserID, "delivered"); err != nil {
		return nil, fmt.Errorf("record delivery: %w", err)
	}

	archived := a.archiveScript(ctx, script)
	return &model.DeliveryResult{
		ScriptID: script.ID,
		Version:  version,
		Decision: item.Gate.Decision,
		Archived: archived,
	}, nil
}

func (a *DeliveryAgent) archiveScript(ctx context.Context, script *model.GeneratedScript) bool {
	if a.archive == nil {
		return false
	}
	data, err := json.Marshal(script)
	if err != nil {
		return false
	}
	key := fmt.Sprintf("scripts/%s/%s.json", script.UserID, script.ID)
	if _, err := a.archive.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		log.Printf("Failed to archive script %s: %v", script.ID, err)
		return false
	}
	script.ArchiveKey = key
	return true
}

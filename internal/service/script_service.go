package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/pipeline"
	"github.com/scriptreel/api/internal/store"
)

var (
	ErrScriptNotReviewable = errors.New("script is not awaiting review")
	ErrScriptNotRevising   = errors.New("script has no revision in flight")
)

// ScriptService covers the review queue: listing, approve/reject, and the
// revision fork.
type ScriptService struct {
	scripts  *store.ScriptStore
	usage    *store.UsageStore
	revision *pipeline.RevisionProcessor
	pipeline *PipelineService
}

func NewScriptService(scripts *store.ScriptStore, usage *store.UsageStore, revision *pipeline.RevisionProcessor, pipelineSvc *PipelineService) *ScriptService {
	return &ScriptService{
		scripts:  scripts,
		usage:    usage,
		revision: revision,
		pipeline: pipelineSvc,
	}
}

// List returns the user's scripts, newest first. Failed runs never created
// a script, so everything here is PASS or NEEDS_REVIEW.
func (s *ScriptService) List(ctx context.Context, userID string, limit int) ([]model.ScriptResponse, error) {
	scripts, err := s.scripts.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScriptResponse, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, toScriptResponse(sc))
	}
	return out, nil
}

// Get returns one script with its version history.
func (s *ScriptService) Get(ctx context.Context, userID, scriptID string) (*model.ScriptResponse, []model.ScriptVersion, error) {
	script, err := s.getOwned(ctx, userID, scriptID)
	if err != nil {
		return nil, nil, err
	}
	versions, err := s.scripts.Versions(ctx, scriptID)
	if err != nil {
		return nil, nil, err
	}
	resp := toScriptResponse(script)
	return &resp, versions, nil
}

// Approve accepts a pending script and feeds the approval-rate signal.
func (s *ScriptService) Approve(ctx context.Context, userID, scriptID string) (*model.ScriptResponse, error) {
	script, err := s.getOwned(ctx, userID, scriptID)
	if err != nil {
		return nil, err
	}
	if script.Status != model.ScriptPendingReview {
		return nil, ErrScriptNotReviewable
	}

	script.Status = model.ScriptApproved
	if err := s.scripts.Update(ctx, script); err != nil {
		return nil, err
	}
	if err := s.usage.IncrStat(ctx, userID, "approved"); err != nil {
		return nil, fmt.Errorf("record approval: %w", err)
	}
	resp := toScriptResponse(script)
	return &resp, nil
}

// Reject declines a pending script with a category, feeding the
// approval-rate signal downward.
func (s *ScriptService) Reject(ctx context.Context, userID, scriptID string, req *model.RejectScriptRequest) (*model.ScriptResponse, error) {
	script, err := s.getOwned(ctx, userID, scriptID)
	if err != nil {
		return nil, err
	}
	if script.Status != model.ScriptPendingReview {
		return nil, ErrScriptNotReviewable
	}

	script.Status = model.ScriptRejected
	script.RejectCategory = req.Category
	script.RejectNote = req.Note
	if err := s.scripts.Update(ctx, script); err != nil {
		return nil, err
	}
	if err := s.usage.IncrStat(ctx, userID, "rejected"); err != nil {
		return nil, fmt.Errorf("record rejection: %w", err)
	}
	resp := toScriptResponse(script)
	return &resp, nil
}

// RequestRevision forks the script's item for a revision run and enqueues
// it. Scripts at the revision cap are auto-rejected by the fork instead.
func (s *ScriptService) RequestRevision(ctx context.Context, userID, scriptID string, req *model.RevisionRequest) (*model.RevisionResponse, error) {
	child, err := s.revision.Fork(ctx, userID, scriptID, req.Feedback, req.SceneIDs)
	if err != nil {
		return nil, err
	}
	if err := s.pipeline.EnqueueRevision(child.ID); err != nil {
		return nil, err
	}
	return &model.RevisionResponse{
		ItemID:   child.ID,
		ScriptID: scriptID,
		Attempt:  child.Revision.Attempt,
	}, nil
}

// ResetStuckRevision returns a script stuck in `revising` to the review
// queue after its revision run died without delivering.
func (s *ScriptService) ResetStuckRevision(ctx context.Context, userID, scriptID string) (*model.ScriptResponse, error) {
	script, err := s.getOwned(ctx, userID, scriptID)
	if err != nil {
		return nil, err
	}
	if script.Status != model.ScriptRevising {
		return nil, ErrScriptNotRevising
	}

	script.Status = model.ScriptPendingReview
	if err := s.scripts.Update(ctx, script); err != nil {
		return nil, err
	}
	resp := toScriptResponse(script)
	return &resp, nil
}

func (s *ScriptService) getOwned(ctx context.Context, userID, scriptID string) (*model.GeneratedScript, error) {
	script, err := s.scripts.Get(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if script.UserID != userID {
		return nil, store.ErrScriptNotFound
	}
	return script, nil
}

func toScriptResponse(sc *model.GeneratedScript) model.ScriptResponse {
	return model.ScriptResponse{
		ID:            sc.ID,
		Title:         sc.Title,
		Scenes:        sc.Scenes,
		FullText:      sc.FullText,
		Scores:        sc.Scores,
		Decision:      sc.Decision,
		Status:        sc.Status,
		RevisionCount: sc.RevisionCount,
		CreatedAt:     sc.CreatedAt,
		UpdatedAt:     sc.UpdatedAt,
	}
}

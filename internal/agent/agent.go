package agent

import (
	"context"
	"strings"
	"time"

	"github.com/scriptreel/api/internal/events"
	"github.com/scriptreel/api/internal/model"
)

// Agent is one pipeline stage: a validation gate plus a black-box execute.
// Execute returns the stage's typed output or an error; it never mutates
// the PipelineItem; the orchestrator persists results after the fact.
type Agent interface {
	Stage() int
	Name() string
	UsesLLM() bool
	Validate(in *Input) error
	Execute(ctx context.Context, in *Input) (any, error)
}

// Input carries everything a stage may need. Each agent validates the
// fields it requires and ignores the rest.
type Input struct {
	Item    *model.PipelineItem
	Profile *model.UserWritingProfile

	// Scout
	UserID string
	Query  *DiscoverInput

	// QC / Optimizer / Gate / Delivery
	Script       *model.Script
	QC           *model.QCResult
	Optimization *model.OptimizationResult
	WeakSpots    []model.WeakSpot
	Iteration    int
	ApprovalRate float64
}

// DiscoverInput narrows a Scout batch.
type DiscoverInput struct {
	SourceType model.SourceType
	Keywords   []string
	Exclude    []string
	Limit      int
}

// Result is the typed outcome of one stage invocation. Failures are values
// here, never errors thrown past the orchestrator.
type Result struct {
	Stage       int
	Agent       string
	Success     bool
	Output      any
	FailureKind model.FailureKind
	Err         string
	Cost        float64
	Duration    time.Duration
	StartedAt   time.Time
	EndedAt     time.Time
}

// Record converts the result into an append-only stage history entry.
func (r Result) Record() model.StageRecord {
	return model.StageRecord{
		Stage:     r.Stage,
		Agent:     r.Agent,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Success:   r.Success,
		Error:     r.Err,
	}
}

// Process is the shared stage wrapper, identical for all nine agents:
// validate, emit started, execute, emit completed/failed, record duration,
// and attach the fixed estimated cost on successful generation-backed
// stages. Errors from Execute are converted into operational failures, not
// re-thrown.
func Process(ctx context.Context, a Agent, in *Input, bus *events.Bus, llmCallCost float64) Result {
	res := Result{
		Stage:     a.Stage(),
		Agent:     a.Name(),
		StartedAt: time.Now().UTC(),
	}

	userID, itemID := eventSubject(in)

	if err := a.Validate(in); err != nil {
		res.EndedAt = time.Now().UTC()
		res.Duration = res.EndedAt.Sub(res.StartedAt)
		res.FailureKind = model.FailureValidation
		res.Err = err.Error()
		return res
	}

	bus.Publish(model.StageEvent{
		Type:    model.EventStageStarted,
		UserID:  userID,
		ItemID:  itemID,
		Stage:   a.Stage(),
		Agent:   a.Name(),
		Message: a.Name() + " started",
	})

	output, err := a.Execute(ctx, in)

	res.EndedAt = time.Now().UTC()
	res.Duration = res.EndedAt.Sub(res.StartedAt)

	if err != nil {
		res.FailureKind = model.FailureOperational
		res.Err = err.Error()
		bus.Publish(model.StageEvent{
			Type:   model.EventStageFailed,
			UserID: userID,
			ItemID: itemID,
			Stage:  a.Stage(),
			Agent:  a.Name(),
			Error:  err.Error(),
		})
		return res
	}

	res.Success = true
	res.Output = output
	if a.UsesLLM() {
		res.Cost = llmCallCost
	}

	bus.Publish(model.StageEvent{
		Type:   model.EventStageCompleted,
		UserID: userID,
		ItemID: itemID,
		Stage:  a.Stage(),
		Agent:  a.Name(),
		Result: output,
	})

	return res
}

func eventSubject(in *Input) (userID, itemID string) {
	if in == nil {
		return "", ""
	}
	if in.Item != nil {
		return in.Item.UserID, in.Item.ID
	}
	return in.UserID, ""
}

// extractJSON pulls the first JSON object out of a free-text response that
// may contain surrounding prose or markdown fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

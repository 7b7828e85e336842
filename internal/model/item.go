package model

import (
	"fmt"
	"time"
)

// PipelineItem is the persisted record of one source item's progress
// through the nine stages.
type PipelineItem struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	SourceType SourceType `json:"sourceType"`
	SourceID   string     `json:"sourceId"`

	Status       ItemStatus `json:"status"`
	CurrentStage int        `json:"currentStage"`

	// Per-stage output slots. A slot is non-nil only if its owning stage
	// returned success; revision runs overwrite the Writer..Gate slots.
	Source       *SourceMaterial     `json:"source,omitempty"`
	Score        *ScoreResult        `json:"score,omitempty"`
	Analysis     *AnalysisResult     `json:"analysis,omitempty"`
	Plan         *FormatPlan         `json:"plan,omitempty"`
	Script       *Script             `json:"script,omitempty"`
	QC           *QCResult           `json:"qc,omitempty"`
	Optimization *OptimizationResult `json:"optimization,omitempty"`
	Gate         *GateResult         `json:"gate,omitempty"`
	Delivery     *DeliveryResult     `json:"delivery,omitempty"`

	StageHistory []StageRecord    `json:"stageHistory,omitempty"`
	Revision     *RevisionContext `json:"revision,omitempty"`
	ParentItemID string           `json:"parentItemId,omitempty"`

	TotalCost    float64     `json:"totalCost"`
	RetryCount   int         `json:"retryCount"`
	ErrorStage   int         `json:"errorStage,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	FailureKind  FailureKind `json:"failureKind,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StageRecord is one append-only stage history entry. Never mutated after
// append; the audit trail and progress reporting read it as-is.
type StageRecord struct {
	Stage     int       `json:"stage"`
	Agent     string    `json:"agent"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// RevisionContext is attached to items forked for a revision run.
type RevisionContext struct {
	Feedback      string         `json:"feedback"`
	ScriptID      string         `json:"scriptId"`
	Attempt       int            `json:"attempt"`
	PriorVersions []PriorVersion `json:"priorVersions,omitempty"`
	SceneIDs      []string       `json:"sceneIds,omitempty"`
}

// PriorVersion carries an earlier script plus the feedback it received,
// for the Writer's revision context.
type PriorVersion struct {
	Version  int     `json:"version"`
	Script   *Script `json:"script"`
	Feedback string  `json:"feedback,omitempty"`
}

// SetStageOutput writes the slot owned by the given stage. The mapping is
// exhaustive: an unmapped stage or a payload of the wrong type is an error,
// never a silent drop.
func (p *PipelineItem) SetStageOutput(stage int, output any) error {
	switch stage {
	case StageScout:
		v, ok := output.(*SourceMaterial)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Source = v
	case StageScorer:
		v, ok := output.(*ScoreResult)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Score = v
	case StageAnalyst:
		v, ok := output.(*AnalysisResult)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Analysis = v
	case StageArchitect:
		v, ok := output.(*FormatPlan)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Plan = v
	case StageWriter:
		v, ok := output.(*Script)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Script = v
	case StageQC:
		v, ok := output.(*QCResult)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.QC = v
	case StageOptimizer:
		v, ok := output.(*OptimizationResult)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Optimization = v
	case StageGate:
		v, ok := output.(*GateResult)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Gate = v
	case StageDelivery:
		v, ok := output.(*DeliveryResult)
		if !ok {
			return stageTypeError(stage, output)
		}
		p.Delivery = v
	default:
		return fmt.Errorf("no output slot for stage %d", stage)
	}
	return nil
}

// StageOutput returns the slot owned by the given stage, or nil.
func (p *PipelineItem) StageOutput(stage int) any {
	switch stage {
	case StageScout:
		if p.Source != nil {
			return p.Source
		}
	case StageScorer:
		if p.Score != nil {
			return p.Score
		}
	case StageAnalyst:
		if p.Analysis != nil {
			return p.Analysis
		}
	case StageArchitect:
		if p.Plan != nil {
			return p.Plan
		}
	case StageWriter:
		if p.Script != nil {
			return p.Script
		}
	case StageQC:
		if p.QC != nil {
			return p.QC
		}
	case StageOptimizer:
		if p.Optimization != nil {
			return p.Optimization
		}
	case StageGate:
		if p.Gate != nil {
			return p.Gate
		}
	case StageDelivery:
		if p.Delivery != nil {
			return p.Delivery
		}
	}
	return nil
}

func stageTypeError(stage int, output any) error {
	return fmt.Errorf("stage %d (%s): wrong output type %T", stage, StageTitle(stage), output)
}

package model

// Source types
type SourceType string

const (
	SourceNews   SourceType = "news"
	SourceSocial SourceType = "social"
)

var ValidSourceTypes = []SourceType{SourceNews, SourceSocial}

// Item status
type ItemStatus string

const (
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusCancelled  ItemStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed || s == ItemStatusCancelled
}

// FailureKind classifies why a run ended without completing.
type FailureKind string

const (
	FailureValidation  FailureKind = "validation"
	FailureContent     FailureKind = "content_rejected"
	FailureOperational FailureKind = "operational"
	FailureTimeout     FailureKind = "timeout"
)

// Retryable reports whether an operator-triggered retry is allowed for
// this kind of failure. Content rejections and validation failures are
// deliberate outcomes, not errors, and are never retried.
func (k FailureKind) Retryable() bool {
	return k == FailureOperational || k == FailureTimeout
}

// Gate decisions
type GateDecision string

const (
	GatePass        GateDecision = "PASS"
	GateNeedsReview GateDecision = "NEEDS_REVIEW"
	GateFail        GateDecision = "FAIL"
)

// Weak spot severity
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Weak spot areas
type WeakArea string

const (
	AreaHook      WeakArea = "hook"
	AreaStructure WeakArea = "structure"
	AreaEmotional WeakArea = "emotional"
	AreaCTA       WeakArea = "cta"
)

// Scene labels
type SceneLabel string

const (
	SceneHook    SceneLabel = "hook"
	SceneContext SceneLabel = "context"
	SceneBuildup SceneLabel = "buildup"
	SceneReveal  SceneLabel = "reveal"
	ScenePayoff  SceneLabel = "payoff"
	SceneCTA     SceneLabel = "cta"
)

var ValidSceneLabels = []SceneLabel{
	SceneHook, SceneContext, SceneBuildup, SceneReveal, ScenePayoff, SceneCTA,
}

// Script review status
type ScriptStatus string

const (
	ScriptPendingReview ScriptStatus = "pending_review"
	ScriptApproved      ScriptStatus = "approved"
	ScriptRejected      ScriptStatus = "rejected"
	ScriptRevising      ScriptStatus = "revising"
)

// Pipeline stages, in execution order. Scout runs once per batch; per-item
// processing begins at Scorer. Revision runs re-enter at Writer.
const (
	StageScout     = 1
	StageScorer    = 2
	StageAnalyst   = 3
	StageArchitect = 4
	StageWriter    = 5
	StageQC        = 6
	StageOptimizer = 7
	StageGate      = 8
	StageDelivery  = 9

	StageCount = 9

	// RevisionEntryStage is where forked revision items resume.
	RevisionEntryStage = StageWriter
)

// StageTitle maps a stage number to its agent name. Unknown stages map to
// the empty string; callers that persist by stage must treat that as an
// error rather than dropping data.
func StageTitle(stage int) string {
	switch stage {
	case StageScout:
		return "scout"
	case StageScorer:
		return "scorer"
	case StageAnalyst:
		return "analyst"
	case StageArchitect:
		return "architect"
	case StageWriter:
		return "writer"
	case StageQC:
		return "qc"
	case StageOptimizer:
		return "optimizer"
	case StageGate:
		return "gate"
	case StageDelivery:
		return "delivery"
	default:
		return ""
	}
}

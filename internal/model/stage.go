package model

import "time"

// SourceMaterial is the Scout stage output: one candidate item discovered
// from a news or social source.
type SourceMaterial struct {
	SourceID    string     `json:"sourceId"`
	SourceType  SourceType `json:"sourceType"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	URL         string     `json:"url,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	PublishedAt time.Time  `json:"publishedAt"`
	ArchiveKey  string     `json:"archiveKey,omitempty"`
}

// ScoreResult is the Scorer stage output.
type ScoreResult struct {
	Score     int      `json:"score"`
	Threshold int      `json:"threshold"`
	Passed    bool     `json:"passed"`
	Reasons   []string `json:"reasons,omitempty"`
}

// AnalysisResult is the Analyst stage output.
type AnalysisResult struct {
	Topic        string   `json:"topic"`
	Angle        string   `json:"angle,omitempty"`
	Facts        []string `json:"facts"`
	Passed       bool     `json:"passed"`
	RejectReason string   `json:"rejectReason,omitempty"`
}

// FormatPlan is the Architect stage output: the chosen script format and
// scene skeleton the Writer fills in.
type FormatPlan struct {
	Format     string       `json:"format"`
	Tone       string       `json:"tone,omitempty"`
	SceneCount int          `json:"sceneCount"`
	Outline    []SceneLabel `json:"outline"`
}

// Scene is one ordered unit of a script.
type Scene struct {
	ID         string     `json:"id"`
	Label      SceneLabel `json:"label"`
	Text       string     `json:"text"`
	StartSec   float64    `json:"startSec"`
	EndSec     float64    `json:"endSec"`
	VisualNote string     `json:"visualNote,omitempty"`
}

// Script is the Writer stage output and the evolving artifact of the
// QC/Optimize loop.
type Script struct {
	Scenes   []Scene `json:"scenes"`
	FullText string  `json:"fullText"`
}

// WeakSpot is one located quality issue identified by QC.
type WeakSpot struct {
	SceneID    string   `json:"sceneId"`
	Area       WeakArea `json:"area"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion"`
}

// QCResult is the quality-control stage output.
type QCResult struct {
	HookScore      int        `json:"hookScore"`
	StructureScore int        `json:"structureScore"`
	EmotionalScore int        `json:"emotionalScore"`
	CTAScore       int        `json:"ctaScore"`
	Overall        int        `json:"overall"`
	WeakSpots      []WeakSpot `json:"weakSpots,omitempty"`
	Passed         bool       `json:"passed"`
}

// HasCritical reports whether any weak spot is severity critical.
func (q *QCResult) HasCritical() bool {
	for _, w := range q.WeakSpots {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Actionable returns the weak spots the optimizer is allowed to act on.
// Minor issues are deliberately dropped.
func (q *QCResult) Actionable() []WeakSpot {
	var out []WeakSpot
	for _, w := range q.WeakSpots {
		if w.Severity == SeverityMajor || w.Severity == SeverityCritical {
			out = append(out, w)
		}
	}
	return out
}

// OptimizationResult is the Optimizer stage output.
type OptimizationResult struct {
	Script    *Script  `json:"script,omitempty"`
	Changed   bool     `json:"changed"`
	Changes   []string `json:"changes,omitempty"`
	Iteration int      `json:"iteration"`
}

// GateResult is the Gate stage output.
type GateResult struct {
	Decision   GateDecision `json:"decision"`
	Reason     string       `json:"reason"`
	Confidence float64      `json:"confidence"`
	FinalScore int          `json:"finalScore"`
}

// DeliveryResult is the Delivery stage output.
type DeliveryResult struct {
	ScriptID string       `json:"scriptId,omitempty"`
	Version  int          `json:"version,omitempty"`
	Decision GateDecision `json:"decision"`
	Archived bool         `json:"archived,omitempty"`
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/scriptreel/api/internal/model"
)

// QC pass thresholds. Product constants; preserved exactly.
const (
	qcPassOverall = 75
	qcPassHook    = 70
)

// QCAgent scores a script on four dimensions and locates weak spots. The
// pass flag is computed here from the sub-scores, never trusted from the
// model's own output.
type QCAgent struct {
	llm TextCompleter
}

func NewQCAgent(llm TextCompleter) *QCAgent {
	return &QCAgent{llm: llm}
}

func (a *QCAgent) Stage() int    { return model.StageQC }
func (a *QCAgent) Name() string  { return model.StageTitle(model.StageQC) }
func (a *QCAgent) UsesLLM() bool { return true }

func (a *QCAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("qc: item is required")
	}
	if in.Script == nil || len(in.Script.Scenes) == 0 {
		return fmt.Errorf("qc: script with scenes is required")
	}
	return nil
}

func (a *QCAgent) Execute(ctx context.Context, in *Input) (any, error) {
	if a.llm == nil || !a.llm.IsConfigured() {
		return a.mock(in), nil
	}

	user := fmt.Sprintf(`Evaluate this short-form video script. Score each dimension 0-100.

%s

Scene ids: %s

Report weak spots per scene with severity minor, major, or critical.
Areas: hook, structure, emotional, cta.
Output as JSON: {"hookScore": 0, "structureScore": 0, "emotionalScore": 0, "ctaScore": 0,
"weakSpots": [{"sceneId": "...", "area": "hook", "severity": "major", "suggestion": "..."}]}`,
		in.Script.FullText, sceneIDs(in.Script))

	response, err := a.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("qc generation failed: %w", err)
	}

	return a.parse(response), nil
}

// parse tolerates malformed output with an all-zero, not-passed verdict
// carrying one critical weak spot, rather than propagating a parse error.
func (a *QCAgent) parse(response string) *model.QCResult {
	var parsed struct {
		HookScore      int              `json:"hookScore"`
		StructureScore int              `json:"structureScore"`
		EmotionalScore int              `json:"emotionalScore"`
		CTAScore       int              `json:"ctaScore"`
		WeakSpots      []model.WeakSpot `json:"weakSpots"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return Finalize(&model.QCResult{
			WeakSpots: []model.WeakSpot{{
				Area:       model.AreaStructure,
				Severity:   model.SeverityCritical,
				Suggestion: "evaluation response was unparseable",
			}},
		})
	}

	return Finalize(&model.QCResult{
		HookScore:      clampScore(parsed.HookScore),
		StructureScore: clampScore(parsed.StructureScore),
		EmotionalScore: clampScore(parsed.EmotionalScore),
		CTAScore:       clampScore(parsed.CTAScore),
		WeakSpots:      parsed.WeakSpots,
	})
}

// Finalize derives the overall score (unweighted rounded mean of the four
// sub-scores) and the pass flag: overall >= 75, no critical weak spot, and
// hook >= 70.
func Finalize(qc *model.QCResult) *model.QCResult {
	sum := qc.HookScore + qc.StructureScore + qc.EmotionalScore + qc.CTAScore
	qc.Overall = int(math.Round(float64(sum) / 4.0))
	qc.Passed = qc.Overall >= qcPassOverall && !qc.HasCritical() && qc.HookScore >= qcPassHook
	return qc
}

func (a *QCAgent) mock(in *Input) *model.QCResult {
	// Mock evaluation passes reasonable scripts so development runs reach
	// delivery.
	return Finalize(&model.QCResult{
		HookScore:      82,
		StructureScore: 80,
		EmotionalScore: 78,
		CTAScore:       76,
	})
}

func sceneIDs(s *model.Script) string {
	ids := ""
	for i, scene := range s.Scenes {
		if i > 0 {
			ids += ", "
		}
		ids += scene.ID
	}
	return ids
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scriptreel/api/internal/model"
)

// ArchitectAgent picks the script format and scene skeleton.
type ArchitectAgent struct {
	llm TextCompleter
}

func NewArchitectAgent(llm TextCompleter) *ArchitectAgent {
	return &ArchitectAgent{llm: llm}
}

func (a *ArchitectAgent) Stage() int    { return model.StageArchitect }
func (a *ArchitectAgent) Name() string  { return model.StageTitle(model.StageArchitect) }
func (a *ArchitectAgent) UsesLLM() bool { return true }

func (a *ArchitectAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("architect: item is required")
	}
	if in.Item.Analysis == nil || !in.Item.Analysis.Passed {
		return fmt.Errorf("architect: passing analysis is required")
	}
	return nil
}

func (a *ArchitectAgent) Execute(ctx context.Context, in *Input) (any, error) {
	if a.llm == nil || !a.llm.IsConfigured() {
		return defaultPlan(), nil
	}

	analysis := in.Item.Analysis
	user := fmt.Sprintf(`Choose the best short-form video format for this topic.

Topic: %s
Angle: %s
Facts: %v

Valid scene labels: hook, context, buildup, reveal, payoff, cta.
Output as JSON: {"format": "...", "tone": "...", "outline": ["hook", "context", "buildup", "reveal", "cta"]}`,
		analysis.Topic, analysis.Angle, analysis.Facts)

	response, err := a.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("format generation failed: %w", err)
	}

	return a.parse(response), nil
}

// parse tolerates malformed output by falling back to the default plan.
func (a *ArchitectAgent) parse(response string) *model.FormatPlan {
	var parsed struct {
		Format  string   `json:"format"`
		Tone    string   `json:"tone"`
		Outline []string `json:"outline"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil || len(parsed.Outline) == 0 {
		return defaultPlan()
	}

	outline := make([]model.SceneLabel, 0, len(parsed.Outline))
	for _, label := range parsed.Outline {
		if validSceneLabel(model.SceneLabel(label)) {
			outline = append(outline, model.SceneLabel(label))
		}
	}
	if len(outline) == 0 {
		return defaultPlan()
	}

	format := parsed.Format
	if format == "" {
		format = "narrative"
	}
	return &model.FormatPlan{
		Format:     format,
		Tone:       parsed.Tone,
		SceneCount: len(outline),
		Outline:    outline,
	}
}

func defaultPlan() *model.FormatPlan {
	outline := []model.SceneLabel{
		model.SceneHook, model.SceneContext, model.SceneBuildup,
		model.SceneReveal, model.SceneCTA,
	}
	return &model.FormatPlan{
		Format:     "narrative",
		Tone:       "direct",
		SceneCount: len(outline),
		Outline:    outline,
	}
}

func validSceneLabel(label model.SceneLabel) bool {
	for _, valid := range model.ValidSceneLabels {
		if label == valid {
			return true
		}
	}
	return false
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/scriptreel/api/internal/model"
)

// OptimizerAgent rewrites a script to address major and critical weak
// spots. It is never given minor issues; when nothing actionable remains
// it reports no changes without touching the generation service, and the
// QC loop stops.
type OptimizerAgent struct {
	llm TextCompleter
}

func NewOptimizerAgent(llm TextCompleter) *OptimizerAgent {
	return &OptimizerAgent{llm: llm}
}

func (a *OptimizerAgent) Stage() int    { return model.StageOptimizer }
func (a *OptimizerAgent) Name() string  { return model.StageTitle(model.StageOptimizer) }
func (a *OptimizerAgent) UsesLLM() bool { return true }

func (a *OptimizerAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("optimizer: item is required")
	}
	if in.Script == nil || len(in.Script.Scenes) == 0 {
		return fmt.Errorf("optimizer: script is required")
	}
	if in.QC == nil {
		return fmt.Errorf("optimizer: qc result is required")
	}
	return nil
}

func (a *OptimizerAgent) Execute(ctx context.Context, in *Input) (any, error) {
	if len(in.WeakSpots) == 0 {
		return &model.OptimizationResult{
			Changed:   false,
			Iteration: in.Iteration,
		}, nil
	}

	if a.llm == nil || !a.llm.IsConfigured() {
		return a.mock(in), nil
	}

	var spots strings.Builder
	for _, w := range in.WeakSpots {
		fmt.Fprintf(&spots, "- scene %s, %s (%s): %s\n", w.SceneID, w.Area, w.Severity, w.Suggestion)
	}

	user := fmt.Sprintf(`Improve this short-form video script. Address only the listed weak spots;
keep everything else as close to the original as possible. Keep scene ids stable.

%s

Weak spots:
%s
Output as JSON: {"scenes": [{"id": "...", "label": "hook", "text": "...", "startSec": 0, "endSec": 4, "visualNote": "..."}], "changes": ["...", "..."]}`,
		in.Script.FullText, spots.String())

	response, err := a.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("optimization generation failed: %w", err)
	}

	return a.parse(response, in), nil
}

// parse tolerates malformed output by reporting no changes, which ends the
// QC loop instead of burning further generation calls.
func (a *OptimizerAgent) parse(response string, in *Input) *model.OptimizationResult {
	var parsed struct {
		Scenes  []model.Scene `json:"scenes"`
		Changes []string      `json:"changes"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil || len(parsed.Scenes) == 0 {
		return &model.OptimizationResult{
			Changed:   false,
			Iteration: in.Iteration,
		}
	}

	for i := range parsed.Scenes {
		if parsed.Scenes[i].ID == "" {
			parsed.Scenes[i].ID = uuid.New().String()
		}
	}
	script := assembleScript(parsed.Scenes)

	return &model.OptimizationResult{
		Script:    script,
		Changed:   script.FullText != in.Script.FullText,
		Changes:   parsed.Changes,
		Iteration: in.Iteration,
	}
}

func (a *OptimizerAgent) mock(in *Input) *model.OptimizationResult {
	scenes := make([]model.Scene, len(in.Script.Scenes))
	copy(scenes, in.Script.Scenes)

	changes := make([]string, 0, len(in.WeakSpots))
	for _, w := range in.WeakSpots {
		for i := range scenes {
			if scenes[i].ID == w.SceneID {
				scenes[i].Text = scenes[i].Text + " (tightened)"
			}
		}
		changes = append(changes, fmt.Sprintf("addressed %s in scene %s", w.Area, w.SceneID))
	}

	script := assembleScript(scenes)
	return &model.OptimizationResult{
		Script:    script,
		Changed:   script.FullText != in.Script.FullText,
		Changes:   changes,
		Iteration: in.Iteration,
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/scriptreel/api/internal/model"
)

// WriterAgent drafts the script. On revision runs it receives the user's
// feedback plus up to the last three prior versions; when specific scene
// ids are targeted it instructs the model to reproduce the other scenes
// verbatim, a contract enforced by instruction rather than verified structurally.
type WriterAgent struct {
	llm TextCompleter
}

func NewWriterAgent(llm TextCompleter) *WriterAgent {
	return &WriterAgent{llm: llm}
}

func (a *WriterAgent) Stage() int    { return model.StageWriter }
func (a *WriterAgent) Name() string  { return model.StageTitle(model.StageWriter) }
func (a *WriterAgent) UsesLLM() bool { return true }

func (a *WriterAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("writer: item is required")
	}
	if in.Item.Source == nil {
		return fmt.Errorf("writer: source material is required")
	}
	if in.Item.Plan == nil || len(in.Item.Plan.Outline) == 0 {
		return fmt.Errorf("writer: format plan is required")
	}
	if in.Item.Revision != nil && in.Item.Revision.Feedback == "" {
		return fmt.Errorf("writer: revision feedback is required")
	}
	return nil
}

func (a *WriterAgent) Execute(ctx context.Context, in *Input) (any, error) {
	if a.llm == nil || !a.llm.IsConfigured() {
		return a.mock(in), nil
	}

	response, err := a.llm.Complete(ctx, systemPrompt, a.buildPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}

	return a.parse(response, in.Item.Plan), nil
}

func (a *WriterAgent) buildPrompt(in *Input) string {
	item := in.Item
	var b strings.Builder

	fmt.Fprintf(&b, `Write a short-form video script (under 60 seconds when spoken).

Topic: %s
Angle: %s
Facts: %v
Format: %s, tone: %s
Scene outline: %v

`, item.Analysis.Topic, item.Analysis.Angle, item.Analysis.Facts,
		item.Plan.Format, item.Plan.Tone, item.Plan.Outline)

	if in.Profile != nil {
		if len(in.Profile.AvoidPatterns) > 0 {
			fmt.Fprintf(&b, "Avoid these patterns: %s\n", strings.Join(in.Profile.AvoidPatterns, "; "))
		}
		if len(in.Profile.PreferPatterns) > 0 {
			fmt.Fprintf(&b, "Prefer these patterns: %s\n", strings.Join(in.Profile.PreferPatterns, "; "))
		}
		if len(in.Profile.Rules) > 0 {
			fmt.Fprintf(&b, "Style rules: %s\n", string(in.Profile.Rules))
		}
	}

	if rev := item.Revision; rev != nil {
		fmt.Fprintf(&b, "\nThis is revision attempt %d. User feedback:\n%s\n", rev.Attempt, rev.Feedback)
		for _, prior := range rev.PriorVersions {
			fmt.Fprintf(&b, "\nPrior version %d:\n%s\n", prior.Version, prior.Script.FullText)
			if prior.Feedback != "" {
				fmt.Fprintf(&b, "Feedback it received: %s\n", prior.Feedback)
			}
		}
		if len(rev.SceneIDs) > 0 {
			fmt.Fprintf(&b, "\nRewrite ONLY the scenes with these ids: %s.\nReproduce every other scene verbatim, byte for byte, including its id.\n",
				strings.Join(rev.SceneIDs, ", "))
		}
	}

	b.WriteString(`
Output as JSON: {"scenes": [{"id": "...", "label": "hook", "text": "...", "startSec": 0, "endSec": 4, "visualNote": "..."}]}`)
	return b.String()
}

// parse tolerates malformed output by distributing the raw response text
// over the planned outline; QC will judge the result on its merits.
func (a *WriterAgent) parse(response string, plan *model.FormatPlan) *model.Script {
	var parsed struct {
		Scenes []model.Scene `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err == nil && len(parsed.Scenes) > 0 {
		for i := range parsed.Scenes {
			if parsed.Scenes[i].ID == "" {
				parsed.Scenes[i].ID = uuid.New().String()
			}
		}
		return assembleScript(parsed.Scenes)
	}

	return fallbackScript(response, plan)
}

func fallbackScript(text string, plan *model.FormatPlan) *model.Script {
	perScene := 60.0 / float64(len(plan.Outline))
	scenes := make([]model.Scene, len(plan.Outline))
	for i, label := range plan.Outline {
		scenes[i] = model.Scene{
			ID:       uuid.New().String(),
			Label:    label,
			Text:     strings.TrimSpace(text),
			StartSec: perScene * float64(i),
			EndSec:   perScene * float64(i+1),
		}
	}
	return assembleScript(scenes)
}

func assembleScript(scenes []model.Scene) *model.Script {
	parts := make([]string, len(scenes))
	for i, s := range scenes {
		parts[i] = s.Text
	}
	return &model.Script{
		Scenes:   scenes,
		FullText: strings.Join(parts, "\n\n"),
	}
}

func (a *WriterAgent) mock(in *Input) *model.Script {
	plan := in.Item.Plan
	perScene := 60.0 / float64(len(plan.Outline))
	scenes := make([]model.Scene, len(plan.Outline))
	for i, label := range plan.Outline {
		scenes[i] = model.Scene{
			ID:       uuid.New().String(),
			Label:    label,
			Text:     fmt.Sprintf("[%s] %s mock line %d", label, in.Item.Analysis.Topic, i+1),
			StartSec: perScene * float64(i),
			EndSec:   perScene * float64(i+1),
		}
	}
	return assembleScript(scenes)
}

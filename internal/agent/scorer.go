package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scriptreel/api/internal/model"
)

// ScorerAgent rates a source item's short-form potential. A score below
// the threshold is a content rejection, not an error: the run ends at this
// stage and nothing downstream executes.
type ScorerAgent struct {
	llm       TextCompleter
	threshold int
}

func NewScorerAgent(llm TextCompleter, threshold int) *ScorerAgent {
	return &ScorerAgent{llm: llm, threshold: threshold}
}

func (a *ScorerAgent) Stage() int    { return model.StageScorer }
func (a *ScorerAgent) Name() string  { return model.StageTitle(model.StageScorer) }
func (a *ScorerAgent) UsesLLM() bool { return true }

func (a *ScorerAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("scorer: item is required")
	}
	if in.Item.Source == nil || in.Item.Source.Body == "" {
		return fmt.Errorf("scorer: source material is required")
	}
	return nil
}

func (a *ScorerAgent) Execute(ctx context.Context, in *Input) (any, error) {
	if a.llm == nil || !a.llm.IsConfigured() {
		return a.mock(in), nil
	}

	src := in.Item.Source
	user := fmt.Sprintf(`Rate this %s item's potential as a short-form video, 0-100.
Consider novelty, emotional pull, and how well it compresses into under 60 seconds.

Title: %s

%s

Output as JSON: {"score": 0-100, "reasons": ["...", "..."]}`,
		src.SourceType, src.Title, src.Body)

	response, err := a.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("score generation failed: %w", err)
	}

	return a.parse(response), nil
}

// parse tolerates malformed output: an unparseable response scores 0 and
// fails the threshold instead of propagating a parse error.
func (a *ScorerAgent) parse(response string) *model.ScoreResult {
	var parsed struct {
		Score   int      `json:"score"`
		Reasons []string `json:"reasons"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return &model.ScoreResult{
			Score:     0,
			Threshold: a.threshold,
			Passed:    false,
			Reasons:   []string{"unparseable scoring response"},
		}
	}

	score := clampScore(parsed.Score)
	return &model.ScoreResult{
		Score:     score,
		Threshold: a.threshold,
		Passed:    score >= a.threshold,
		Reasons:   parsed.Reasons,
	}
}

func (a *ScorerAgent) mock(in *Input) *model.ScoreResult {
	// Deterministic mock: longer source material scores higher.
	score := 60 + len(in.Item.Source.Body)%40
	return &model.ScoreResult{
		Score:     score,
		Threshold: a.threshold,
		Passed:    score >= a.threshold,
		Reasons:   []string{"mock score"},
	}
}

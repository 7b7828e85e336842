package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scriptreel/api/internal/model"
)

// AnalystAgent extracts the topic, angle, and supporting facts. It rejects
// items whose topic matches the user's avoid-list or that yield too few
// facts, both deliberate content rejections.
type AnalystAgent struct {
	llm      TextCompleter
	minFacts int
}

func NewAnalystAgent(llm TextCompleter, minFacts int) *AnalystAgent {
	return &AnalystAgent{llm: llm, minFacts: minFacts}
}

func (a *AnalystAgent) Stage() int    { return model.StageAnalyst }
func (a *AnalystAgent) Name() string  { return model.StageTitle(model.StageAnalyst) }
func (a *AnalystAgent) UsesLLM() bool { return true }

func (a *AnalystAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("analyst: item is required")
	}
	if in.Item.Source == nil {
		return fmt.Errorf("analyst: source material is required")
	}
	if in.Item.Score == nil || !in.Item.Score.Passed {
		return fmt.Errorf("analyst: passing score result is required")
	}
	return nil
}

func (a *AnalystAgent) Execute(ctx context.Context, in *Input) (any, error) {
	var result *model.AnalysisResult
	if a.llm == nil || !a.llm.IsConfigured() {
		result = a.mock(in)
	} else {
		src := in.Item.Source
		user := fmt.Sprintf(`Analyze this %s item for a short-form video script.
Extract the core topic, the most compelling angle, and the key supporting facts.

Title: %s

%s

Output as JSON: {"topic": "...", "angle": "...", "facts": ["...", "..."]}`,
			src.SourceType, src.Title, src.Body)

		response, err := a.llm.Complete(ctx, systemPrompt, user)
		if err != nil {
			return nil, fmt.Errorf("analysis generation failed: %w", err)
		}
		result = a.parse(response)
	}

	a.applyRejectionRules(result, in.Profile)
	return result, nil
}

// parse tolerates malformed output with a safe not-passed default.
func (a *AnalystAgent) parse(response string) *model.AnalysisResult {
	var parsed struct {
		Topic string   `json:"topic"`
		Angle string   `json:"angle"`
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return &model.AnalysisResult{
			Passed:       false,
			RejectReason: "unparseable analysis response",
		}
	}
	return &model.AnalysisResult{
		Topic:  parsed.Topic,
		Angle:  parsed.Angle,
		Facts:  parsed.Facts,
		Passed: true,
	}
}

func (a *AnalystAgent) applyRejectionRules(result *model.AnalysisResult, profile *model.UserWritingProfile) {
	if !result.Passed {
		return
	}
	if profile != nil {
		topic := strings.ToLower(result.Topic)
		for _, avoid := range profile.AvoidTopics {
			if avoid != "" && strings.Contains(topic, strings.ToLower(avoid)) {
				result.Passed = false
				result.RejectReason = fmt.Sprintf("topic matches avoid-list entry %q", avoid)
				return
			}
		}
	}
	if len(result.Facts) < a.minFacts {
		result.Passed = false
		result.RejectReason = fmt.Sprintf("only %d supporting facts extracted, need %d", len(result.Facts), a.minFacts)
	}
}

func (a *AnalystAgent) mock(in *Input) *model.AnalysisResult {
	src := in.Item.Source
	facts := []string{
		"mock fact one from " + src.Title,
		"mock fact two",
		"mock fact three",
	}
	return &model.AnalysisResult{
		Topic:  strings.ToLower(src.Title),
		Angle:  "why this matters right now",
		Facts:  facts,
		Passed: true,
	}
}

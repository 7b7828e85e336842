package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/scriptreel/api/internal/agent"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/model"
)

// fakeItemStore keeps items in memory and mirrors the redis store's layout:
// stage outputs live in a raw JSON slot map next to the item record, so
// tests can assert on the exact persisted bytes.
type fakeItemStore struct {
	mu    sync.Mutex
	items map[string]*model.PipelineItem
	raw   map[string]map[int]string
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{
		items: make(map[string]*model.PipelineItem),
		raw:   make(map[string]map[int]string),
	}
}

func (s *fakeItemStore) Create(ctx context.Context, item *model.PipelineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	s.raw[item.ID] = make(map[int]string)
	return nil
}

func (s *fakeItemStore) Get(ctx context.Context, id string) (*model.PipelineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s not found", id)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var copy model.PipelineItem
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, err
	}
	return &copy, nil
}

func (s *fakeItemStore) SetStageOutput(ctx context.Context, id string, stage int, output any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	data, err := json.Marshal(output)
	if err != nil {
		return err
	}
	s.raw[id][stage] = string(data)
	return item.SetStageOutput(stage, output)
}

func (s *fakeItemStore) CopyStageData(ctx context.Context, parentID, childID string, fromStage, toStage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.raw[parentID]
	if !ok {
		return fmt.Errorf("item %s not found", parentID)
	}
	dst, ok := s.raw[childID]
	if !ok {
		return fmt.Errorf("item %s not found", childID)
	}
	for stage := fromStage; stage <= toStage; stage++ {
		if data, ok := src[stage]; ok {
			dst[stage] = data
		}
	}
	return nil
}

func (s *fakeItemStore) AppendHistory(ctx context.Context, id string, rec model.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.StageHistory = append(item.StageHistory, rec)
	return nil
}

func (s *fakeItemStore) SetCurrentStage(ctx context.Context, id string, stage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.CurrentStage = stage
	return nil
}

func (s *fakeItemStore) AddCost(ctx context.Context, id string, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.TotalCost += cost
	return nil
}

func (s *fakeItemStore) Status(ctx context.Context, id string) (model.ItemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return "", fmt.Errorf("item %s not found", id)
	}
	return item.Status, nil
}

func (s *fakeItemStore) MarkCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Status = model.ItemStatusCompleted
	return nil
}

func (s *fakeItemStore) MarkFailed(ctx context.Context, id string, stage int, msg string, kind model.FailureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Status = model.ItemStatusFailed
	item.ErrorStage = stage
	item.ErrorMessage = msg
	item.FailureKind = kind
	return nil
}

func (s *fakeItemStore) MarkCancelled(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Status = model.ItemStatusCancelled
	return nil
}

func (s *fakeItemStore) PrepareRetry(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return 0, fmt.Errorf("item %s not found", id)
	}
	item.Status = model.ItemStatusProcessing
	item.CurrentStage = model.StageScorer
	item.ErrorStage = 0
	item.ErrorMessage = ""
	item.FailureKind = ""
	item.RetryCount++
	// Mirror the Redis store: every slot from the Scorer on is cleared.
	item.Score = nil
	item.Analysis = nil
	item.Plan = nil
	item.Script = nil
	item.QC = nil
	item.Optimization = nil
	item.Gate = nil
	item.Delivery = nil
	if raw, ok := s.raw[id]; ok {
		for stage := model.StageScorer; stage <= model.StageDelivery; stage++ {
			delete(raw, stage)
		}
	}
	return item.RetryCount, nil
}

// stored returns the live record, bypassing the copy Get makes.
func (s *fakeItemStore) stored(id string) *model.PipelineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id]
}

func (s *fakeItemStore) rawSlot(id string, stage int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots, ok := s.raw[id]
	if !ok {
		return "", false
	}
	data, ok := slots[stage]
	return data, ok
}

type fakeScriptStore struct {
	mu       sync.Mutex
	scripts  map[string]*model.GeneratedScript
	versions map[string][]model.ScriptVersion
}

func newFakeScriptStore() *fakeScriptStore {
	return &fakeScriptStore{
		scripts:  make(map[string]*model.GeneratedScript),
		versions: make(map[string][]model.ScriptVersion),
	}
}

func (s *fakeScriptStore) Get(ctx context.Context, id string) (*model.GeneratedScript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	script, ok := s.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script %s not found", id)
	}
	copy := *script
	return &copy, nil
}

func (s *fakeScriptStore) Update(ctx context.Context, script *model.GeneratedScript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[script.ID] = script
	return nil
}

func (s *fakeScriptStore) Versions(ctx context.Context, scriptID string) ([]model.ScriptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[scriptID], nil
}

type fakeUsageStore struct {
	mu    sync.Mutex
	spend map[string]float64
	rate  float64
}

func newFakeUsageStore(rate float64) *fakeUsageStore {
	return &fakeUsageStore{spend: make(map[string]float64), rate: rate}
}

func (s *fakeUsageStore) AddSpend(ctx context.Context, userID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spend[userID] += amount
	return nil
}

func (s *fakeUsageStore) ApprovalRate(ctx context.Context, userID string) (float64, error) {
	return s.rate, nil
}

type fakeProfileStore struct{}

func (fakeProfileStore) Get(ctx context.Context, userID string) (*model.UserWritingProfile, error) {
	return &model.UserWritingProfile{}, nil
}

// stageStub is a scripted stage agent. fn receives the 1-based call number
// so multi-iteration tests can vary output per call.
type stageStub struct {
	stage int
	llm   bool
	calls int
	fn    func(call int, in *agent.Input) (any, error)
}

func (s *stageStub) Stage() int    { return s.stage }
func (s *stageStub) Name() string  { return model.StageTitle(s.stage) }
func (s *stageStub) UsesLLM() bool { return s.llm }

func (s *stageStub) Validate(in *agent.Input) error { return nil }

func (s *stageStub) Execute(ctx context.Context, in *agent.Input) (any, error) {
	s.calls++
	return s.fn(s.calls, in)
}

func constStub(stage int, llm bool, output any) *stageStub {
	return &stageStub{
		stage: stage,
		llm:   llm,
		fn: func(int, *agent.Input) (any, error) {
			return output, nil
		},
	}
}

func passingScript() *model.Script {
	return &model.Script{
		Scenes: []model.Scene{
			{ID: "scene-1", Label: model.SceneHook, Text: "hook", StartSec: 0, EndSec: 3},
			{ID: "scene-2", Label: model.ScenePayoff, Text: "payoff", StartSec: 3, EndSec: 20},
		},
		FullText: "hook payoff",
	}
}

func passingQC() *model.QCResult {
	return &model.QCResult{
		HookScore: 85, StructureScore: 80, EmotionalScore: 80, CTAScore: 75,
		Overall: 80, Passed: true,
	}
}

func failingQC(severity model.Severity) *model.QCResult {
	return &model.QCResult{
		HookScore: 60, StructureScore: 65, EmotionalScore: 60, CTAScore: 55,
		Overall: 60, Passed: false,
		WeakSpots: []model.WeakSpot{{
			SceneID: "scene-1", Area: model.AreaHook, Severity: severity,
			Suggestion: "open with the number",
		}},
	}
}

// defaultAgents returns a full set of stubs for a run that completes with
// NEEDS_REVIEW. Callers overwrite individual stages per test.
func defaultAgents() Agents {
	return Agents{
		Scorer:    constStub(model.StageScorer, true, &model.ScoreResult{Score: 80, Threshold: 70, Passed: true}),
		Analyst:   constStub(model.StageAnalyst, true, &model.AnalysisResult{Topic: "topic", Facts: []string{"a", "b", "c"}, Passed: true}),
		Architect: constStub(model.StageArchitect, true, &model.FormatPlan{Format: "discovery", SceneCount: 2, Outline: []model.SceneLabel{model.SceneHook, model.ScenePayoff}}),
		Writer:    constStub(model.StageWriter, true, passingScript()),
		QC:        constStub(model.StageQC, true, passingQC()),
		Optimizer: constStub(model.StageOptimizer, true, &model.OptimizationResult{Changed: false}),
		Gate:      constStub(model.StageGate, false, &model.GateResult{Decision: model.GateNeedsReview, Reason: "review", Confidence: 0.70, FinalScore: 80}),
		Delivery:  constStub(model.StageDelivery, false, &model.DeliveryResult{ScriptID: "script-1", Version: 1, Decision: model.GateNeedsReview}),
	}
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ScoreThreshold:   70,
		MinFacts:         3,
		MaxOptimizeIters: 2,
		RevisionCap:      5,
		RetryCap:         3,
		LLMCallCost:      0.02,
	}
}

func freshItem(id string) *model.PipelineItem {
	return &model.PipelineItem{
		ID:         id,
		UserID:     "user-1",
		SourceType: model.SourceNews,
		SourceID:   "src-" + id,
		Status:     model.ItemStatusProcessing,
		Source: &model.SourceMaterial{
			SourceID:   "src-" + id,
			SourceType: model.SourceNews,
			Title:      "headline",
			Body:       "body text",
		},
		CurrentStage: model.StageScorer,
	}
}

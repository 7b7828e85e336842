package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/scriptreel/api/internal/agent"
	"github.com/scriptreel/api/internal/events"
	"github.com/scriptreel/api/internal/model"
)

type testRig struct {
	items   *fakeItemStore
	scripts *fakeScriptStore
	usage   *fakeUsageStore
	agents  Agents
	orch    *Orchestrator
	events  []model.StageEvent
}

func newRig(t *testing.T, agents Agents, rate float64) *testRig {
	t.Helper()
	rig := &testRig{
		items:   newFakeItemStore(),
		scripts: newFakeScriptStore(),
		usage:   newFakeUsageStore(rate),
		agents:  agents,
	}
	bus := events.NewBus()
	bus.Subscribe(func(ev model.StageEvent) {
		rig.events = append(rig.events, ev)
	})
	rig.orch = NewOrchestrator(rig.items, rig.scripts, rig.usage, fakeProfileStore{}, bus, agents, testConfig())
	return rig
}

func (r *testRig) seed(t *testing.T, item *model.PipelineItem) {
	t.Helper()
	if err := r.items.Create(context.Background(), item); err != nil {
		t.Fatalf("seeding item: %v", err)
	}
}

func (r *testRig) eventTypes() []string {
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func historyStages(item *model.PipelineItem) []int {
	var out []int
	for _, rec := range item.StageHistory {
		out = append(out, rec.Stage)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestProcessItem_FreshRunCompletes(t *testing.T) {
	rig := newRig(t, defaultAgents(), 0.5)
	rig.seed(t, freshItem("item-1"))

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item := rig.items.stored("item-1")
	if item.Status != model.ItemStatusCompleted {
		t.Fatalf("status = %s, want completed", item.Status)
	}
	want := []int{
		model.StageScorer, model.StageAnalyst, model.StageArchitect,
		model.StageWriter, model.StageQC, model.StageGate, model.StageDelivery,
	}
	if got := historyStages(item); !equalInts(got, want) {
		t.Errorf("stage history = %v, want %v", got, want)
	}

	// Five generation-backed stages ran; gate and delivery are free.
	wantCost := 5 * 0.02
	if math.Abs(item.TotalCost-wantCost) > 1e-9 {
		t.Errorf("totalCost = %f, want %f", item.TotalCost, wantCost)
	}
	if math.Abs(rig.usage.spend["user-1"]-wantCost) > 1e-9 {
		t.Errorf("user spend = %f, want %f", rig.usage.spend["user-1"], wantCost)
	}

	last := rig.events[len(rig.events)-1]
	if last.Type != model.EventItemCompleted {
		t.Errorf("last event = %s, want item completed", last.Type)
	}
}

func TestProcessItem_ScorerRejection(t *testing.T) {
	agents := defaultAgents()
	agents.Scorer = constStub(model.StageScorer, true, &model.ScoreResult{Score: 40, Threshold: 70, Passed: false})
	analyst := agents.Analyst.(*stageStub)
	rig := newRig(t, agents, 0.5)
	rig.seed(t, freshItem("item-1"))

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("rejections are in-band, got error: %v", err)
	}

	item := rig.items.stored("item-1")
	if item.Status != model.ItemStatusFailed {
		t.Fatalf("status = %s, want failed", item.Status)
	}
	if item.ErrorStage != model.StageScorer {
		t.Errorf("errorStage = %d, want %d", item.ErrorStage, model.StageScorer)
	}
	if item.FailureKind != model.FailureContent {
		t.Errorf("failureKind = %s, want content_rejected", item.FailureKind)
	}
	if analyst.calls != 0 {
		t.Error("nothing after the scorer may run on a rejection")
	}

	last := rig.events[len(rig.events)-1]
	if last.Type != model.EventItemFailed || last.Message != string(model.FailureContent) {
		t.Errorf("last event = %s/%s, want item failed with content_rejected", last.Type, last.Message)
	}
}

func TestProcessItem_AnalystRejection(t *testing.T) {
	agents := defaultAgents()
	agents.Analyst = constStub(model.StageAnalyst, true, &model.AnalysisResult{
		Passed: false, RejectReason: "topic on avoid list",
	})
	architect := agents.Architect.(*stageStub)
	rig := newRig(t, agents, 0.5)
	rig.seed(t, freshItem("item-1"))

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item := rig.items.stored("item-1")
	if item.Status != model.ItemStatusFailed || item.ErrorStage != model.StageAnalyst {
		t.Fatalf("got %s at stage %d, want failed at analyst", item.Status, item.ErrorStage)
	}
	if item.ErrorMessage != "topic on avoid list" {
		t.Errorf("errorMessage = %q", item.ErrorMessage)
	}
	if architect.calls != 0 {
		t.Error("architect must not run after an analyst rejection")
	}
}

func TestProcessItem_OperationalFailureAborts(t *testing.T) {
	agents := defaultAgents()
	agents.Writer = &stageStub{
		stage: model.StageWriter,
		llm:   true,
		fn: func(int, *agent.Input) (any, error) {
			return nil, errors.New("llm timeout")
		},
	}
	qc := agents.QC.(*stageStub)
	rig := newRig(t, agents, 0.5)
	rig.seed(t, freshItem("item-1"))

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("stage failures are in-band, got error: %v", err)
	}

	item := rig.items.stored("item-1")
	if item.Status != model.ItemStatusFailed || item.ErrorStage != model.StageWriter {
		t.Fatalf("got %s at stage %d, want failed at writer", item.Status, item.ErrorStage)
	}
	if item.FailureKind != model.FailureOperational {
		t.Errorf("failureKind = %s, want operational", item.FailureKind)
	}
	if qc.calls != 0 {
		t.Error("qc must not run after an aborted writer")
	}
	// Failed stages are not billed.
	if math.Abs(item.TotalCost-3*0.02) > 1e-9 {
		t.Errorf("totalCost = %f, want cost of the three stages that succeeded", item.TotalCost)
	}
}

func TestProcessItem_GateFailDeliversNothing(t *testing.T) {
	agents := defaultAgents()
	agents.Gate = constStub(model.StageGate, false, &model.GateResult{
		Decision: model.GateFail, Reason: "score 50 below 65", Confidence: 0.90, FinalScore: 50,
	})
	agents.Delivery = constStub(model.StageDelivery, false, &model.DeliveryResult{Decision: model.GateFail})
	delivery := agents.Delivery.(*stageStub)
	rig := newRig(t, agents, 0.5)
	rig.seed(t, freshItem("item-1"))

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if delivery.calls != 1 {
		t.Error("delivery still runs on a gate FAIL to record the outcome")
	}
	item := rig.items.stored("item-1")
	if item.Status != model.ItemStatusFailed {
		t.Fatalf("status = %s, want failed", item.Status)
	}
	if item.ErrorStage != model.StageGate {
		t.Errorf("errorStage = %d, want gate", item.ErrorStage)
	}
	if item.FailureKind != model.FailureContent {
		t.Errorf("failureKind = %s, want content_rejected", item.FailureKind)
	}
	if item.ErrorMessage != "score 50 below 65" {
		t.Errorf("errorMessage = %q, want the gate reason", item.ErrorMessage)
	}
}

func TestProcessItem_CancelDiscardsResult(t *testing.T) {
	agents := defaultAgents()
	rig := newRig(t, agents, 0.5)
	rig.seed(t, freshItem("item-1"))

	// Cancel arrives while the writer is in flight.
	agents.Writer = &stageStub{
		stage: model.StageWriter,
		llm:   true,
		fn: func(_ int, in *agent.Input) (any, error) {
			if err := rig.items.MarkCancelled(context.Background(), "item-1"); err != nil {
				t.Fatalf("cancelling: %v", err)
			}
			return passingScript(), nil
		},
	}
	rig.orch.agents.Writer = agents.Writer

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("cancellation is in-band, got error: %v", err)
	}

	item := rig.items.stored("item-1")
	if item.Status != model.ItemStatusCancelled {
		t.Fatalf("status = %s, want cancelled", item.Status)
	}
	if _, ok := rig.items.rawSlot("item-1", model.StageWriter); ok {
		t.Error("a result produced after cancel must not be persisted")
	}
	qc := agents.QC.(*stageStub)
	if qc.calls != 0 {
		t.Error("nothing may run after a cancel")
	}
}

func TestProcessItem_TerminalItemSkipped(t *testing.T) {
	agents := defaultAgents()
	scorer := agents.Scorer.(*stageStub)
	rig := newRig(t, agents, 0.5)

	item := freshItem("item-1")
	item.Status = model.ItemStatusCompleted
	rig.seed(t, item)

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scorer.calls != 0 {
		t.Error("terminal items must not be reprocessed")
	}
}

func TestProcessItem_RevisionEntersAtWriter(t *testing.T) {
	agents := defaultAgents()
	scorer := agents.Scorer.(*stageStub)
	writer := agents.Writer.(*stageStub)
	rig := newRig(t, agents, 0.5)

	item := freshItem("item-1")
	item.CurrentStage = model.RevisionEntryStage
	item.Revision = &model.RevisionContext{
		Feedback: "tighten the hook",
		ScriptID: "script-1",
		Attempt:  1,
	}
	rig.seed(t, item)

	if err := rig.orch.ProcessItem(context.Background(), "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if scorer.calls != 0 {
		t.Error("revision runs must not re-run research stages")
	}
	if writer.calls != 1 {
		t.Errorf("writer calls = %d, want 1", writer.calls)
	}
	stored := rig.items.stored("item-1")
	if stored.Status != model.ItemStatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}

func revisionItem(id string) *model.PipelineItem {
	item := freshItem(id)
	item.CurrentStage = model.RevisionEntryStage
	item.ParentItemID = "parent-1"
	item.Revision = &model.RevisionContext{
		Feedback: "tighten the hook",
		ScriptID: "script-1",
		Attempt:  1,
	}
	return item
}

func seedRevisingScript(t *testing.T, scripts *fakeScriptStore) {
	t.Helper()
	script := &model.GeneratedScript{
		ID:            "script-1",
		UserID:        "user-1",
		ItemID:        "parent-1",
		Status:        model.ScriptRevising,
		RevisionCount: 1,
	}
	if err := scripts.Update(context.Background(), script); err != nil {
		t.Fatalf("seeding script: %v", err)
	}
}

func TestProcessItem_FailedRevisionReleasesScript(t *testing.T) {
	agents := defaultAgents()
	agents.Writer = &stageStub{
		stage: model.StageWriter,
		llm:   true,
		fn: func(int, *agent.Input) (any, error) {
			return nil, errors.New("llm timeout")
		},
	}
	rig := newRig(t, agents, 0.5)
	seedRevisingScript(t, rig.scripts)
	rig.seed(t, revisionItem("item-2"))

	if err := rig.orch.ProcessItem(context.Background(), "item-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := rig.items.stored("item-2").Status; got != model.ItemStatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	script, err := rig.scripts.Get(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("loading script: %v", err)
	}
	if script.Status != model.ScriptPendingReview {
		t.Errorf("script status = %s, a dead revision run must release the script", script.Status)
	}
}

func TestProcessItem_GateFailRevisionReleasesScript(t *testing.T) {
	agents := defaultAgents()
	agents.Gate = constStub(model.StageGate, false, &model.GateResult{
		Decision:   model.GateFail,
		Confidence: 0.9,
		Reason:     "weak hook",
	})
	rig := newRig(t, agents, 0.5)
	seedRevisingScript(t, rig.scripts)
	rig.seed(t, revisionItem("item-2"))

	if err := rig.orch.ProcessItem(context.Background(), "item-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	script, err := rig.scripts.Get(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("loading script: %v", err)
	}
	if script.Status != model.ScriptPendingReview {
		t.Errorf("script status = %s, a rejected revision run must release the script", script.Status)
	}
}

func TestRetry(t *testing.T) {
	rig := newRig(t, defaultAgents(), 0.5)
	ctx := context.Background()

	item := freshItem("item-1")
	item.Status = model.ItemStatusFailed
	item.ErrorStage = model.StageWriter
	item.FailureKind = model.FailureOperational
	rig.seed(t, item)
	if err := rig.items.SetStageOutput(ctx, "item-1", model.StageScorer, &model.ScoreResult{Score: 80, Threshold: 70, Passed: true}); err != nil {
		t.Fatalf("seeding scorer slot: %v", err)
	}

	count, err := rig.orch.Retry(ctx, "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("retryCount = %d, want 1", count)
	}
	stored := rig.items.stored("item-1")
	if stored.Status != model.ItemStatusProcessing {
		t.Errorf("status = %s, want processing", stored.Status)
	}
	if stored.CurrentStage != model.StageScorer {
		t.Errorf("currentStage = %d, retry restarts from the scorer", stored.CurrentStage)
	}
	if stored.Score != nil {
		t.Error("retry must clear the scorer slot along with every later one")
	}
	if _, ok := rig.items.rawSlot("item-1", model.StageScorer); ok {
		t.Error("retry must clear persisted stage data from the scorer on")
	}
}

func TestRetry_ContentFailureNotRetryable(t *testing.T) {
	rig := newRig(t, defaultAgents(), 0.5)

	item := freshItem("item-1")
	item.Status = model.ItemStatusFailed
	item.FailureKind = model.FailureContent
	rig.seed(t, item)

	_, err := rig.orch.Retry(context.Background(), "item-1")
	if !errors.Is(err, ErrRetryNotAllowed) {
		t.Errorf("err = %v, want ErrRetryNotAllowed", err)
	}
}

func TestRetry_CapReached(t *testing.T) {
	rig := newRig(t, defaultAgents(), 0.5)

	item := freshItem("item-1")
	item.Status = model.ItemStatusFailed
	item.FailureKind = model.FailureOperational
	item.RetryCount = 3
	rig.seed(t, item)

	_, err := rig.orch.Retry(context.Background(), "item-1")
	if !errors.Is(err, ErrRetryCapReached) {
		t.Errorf("err = %v, want ErrRetryCapReached", err)
	}
}

func TestRetry_RevisionItemRefused(t *testing.T) {
	rig := newRig(t, defaultAgents(), 0.5)

	// Retrying would rewind to the Scorer and wipe the Analyst and
	// Architect slots copied from the parent, so a failed revision run
	// goes back through RequestRevision instead.
	item := freshItem("item-2")
	item.ParentItemID = "item-1"
	item.Revision = &model.RevisionContext{
		Feedback: "tighten the hook",
		ScriptID: "script-1",
		Attempt:  1,
	}
	item.Status = model.ItemStatusFailed
	item.ErrorStage = model.StageWriter
	item.FailureKind = model.FailureOperational
	rig.seed(t, item)

	_, err := rig.orch.Retry(context.Background(), "item-2")
	if !errors.Is(err, ErrRetryNotAllowed) {
		t.Errorf("err = %v, want ErrRetryNotAllowed", err)
	}
	if got := rig.items.stored("item-2").Status; got != model.ItemStatusFailed {
		t.Errorf("status = %s, a refused retry must not touch the item", got)
	}
}

func TestRetry_NonFailedItem(t *testing.T) {
	rig := newRig(t, defaultAgents(), 0.5)
	rig.seed(t, freshItem("item-1"))

	_, err := rig.orch.Retry(context.Background(), "item-1")
	if !errors.Is(err, ErrRetryNotAllowed) {
		t.Errorf("err = %v, want ErrRetryNotAllowed", err)
	}
}

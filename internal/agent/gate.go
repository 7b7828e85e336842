package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/scriptreel/api/internal/model"
)

// Gate ladder thresholds. Product constants; preserved exactly.
const (
	gateAutoPassScore  = 85
	gateAutoPassHook   = 80
	gateReviewScore    = 75
	gateReviewLowScore = 70
	gateCriticalFloor  = 65
	gateTrustedRate    = 0.7
	gateWeakHook       = 50
)

// EvaluateGate converts the final QC result and the user's historical
// approval rate into a PASS / NEEDS_REVIEW / FAIL verdict. The ladder is
// total: every input hits exactly one rung, evaluated top to bottom.
func EvaluateGate(qc *model.QCResult, opt *model.OptimizationResult, approvalRate float64) *model.GateResult {
	score := qc.Overall
	hook := qc.HookScore
	critical := qc.HasCritical()

	iterations := 0
	if opt != nil {
		iterations = opt.Iteration
	}

	switch {
	case score >= gateAutoPassScore && !critical && hook >= gateAutoPassHook:
		return &model.GateResult{
			Decision:   model.GatePass,
			Reason:     fmt.Sprintf("strong script: score %d, hook %d, no critical issues", score, hook),
			Confidence: 0.95,
			FinalScore: score,
		}
	case score >= gateReviewScore && !critical && approvalRate > gateTrustedRate:
		return &model.GateResult{
			Decision:   model.GatePass,
			Reason:     fmt.Sprintf("score %d with no critical issues and a trusted approval history (%.2f)", score, approvalRate),
			Confidence: 0.80,
			FinalScore: score,
		}
	case score >= gateReviewScore && !critical:
		return &model.GateResult{
			Decision:   model.GateNeedsReview,
			Reason:     fmt.Sprintf("score %d with no critical issues; user review requested", score),
			Confidence: 0.70,
			FinalScore: score,
		}
	case score >= gateReviewLowScore && !critical:
		return &model.GateResult{
			Decision:   model.GateNeedsReview,
			Reason:     fmt.Sprintf("borderline score %d after %d optimization passes; user review requested", score, iterations),
			Confidence: 0.60,
			FinalScore: score,
		}
	case score >= gateCriticalFloor && critical:
		return &model.GateResult{
			Decision:   model.GateNeedsReview,
			Reason:     fmt.Sprintf("score %d but critical issues remain; user review requested", score),
			Confidence: 0.50,
			FinalScore: score,
		}
	default:
		var parts []string
		if score < gateCriticalFloor {
			parts = append(parts, fmt.Sprintf("score %d below %d", score, gateCriticalFloor))
		}
		if critical && score < gateCriticalFloor {
			parts = append(parts, "critical issues at low score")
		}
		if hook < gateWeakHook {
			parts = append(parts, fmt.Sprintf("hook score %d below %d", hook, gateWeakHook))
		}
		if len(parts) == 0 {
			parts = append(parts, fmt.Sprintf("score %d insufficient", score))
		}
		return &model.GateResult{
			Decision:   model.GateFail,
			Reason:     strings.Join(parts, "; "),
			Confidence: 0.90,
			FinalScore: score,
		}
	}
}

// GateAgent wraps the pure ladder as stage 8 so the decision shows up in
// the item's event stream and audit history like every other stage.
type GateAgent struct{}

func NewGateAgent() *GateAgent { return &GateAgent{} }

func (a *GateAgent) Stage() int    { return model.StageGate }
func (a *GateAgent) Name() string  { return model.StageTitle(model.StageGate) }
func (a *GateAgent) UsesLLM() bool { return false }

func (a *GateAgent) Validate(in *Input) error {
	if in == nil || in.Item == nil {
		return fmt.Errorf("gate: item is required")
	}
	if in.QC == nil {
		return fmt.Errorf("gate: qc result is required")
	}
	if in.ApprovalRate < 0 || in.ApprovalRate > 1 {
		return fmt.Errorf("gate: approval rate %f out of range", in.ApprovalRate)
	}
	return nil
}

func (a *GateAgent) Execute(ctx context.Context, in *Input) (any, error) {
	return EvaluateGate(in.QC, in.Optimization, in.ApprovalRate), nil
}

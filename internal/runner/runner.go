package runner

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/scriptreel/api/internal/agent"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/events"
	"github.com/scriptreel/api/internal/model"
)

// ItemStore is what admission and the stuck sweep need from the item store.
type ItemStore interface {
	Create(ctx context.Context, item *model.PipelineItem) error
	Get(ctx context.Context, id string) (*model.PipelineItem, error)
	IsProcessed(ctx context.Context, userID string, st model.SourceType, sourceID string) (bool, error)
	ListActiveUsers(ctx context.Context) ([]string, error)
	ListStuck(ctx context.Context, before time.Time) ([]string, error)
	MarkFailed(ctx context.Context, id string, stage int, msg string, kind model.FailureKind) error
}

// UsageStore covers the admission counters. Increments are atomic at the
// storage layer so concurrent manual triggers cannot undercount.
type UsageStore interface {
	DailyCount(ctx context.Context, userID string) (int, error)
	IncrDaily(ctx context.Context, userID string) (int, error)
	MonthlySpend(ctx context.Context, userID string) (float64, error)
}

// ProfileStore supplies the discovery keyword filters.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*model.UserWritingProfile, error)
}

// Processor runs one stored item through the pipeline.
type Processor interface {
	ProcessItem(ctx context.Context, itemID string) error
}

// Runner is the periodic driver: discovers candidates per user, admits them
// under the daily cap and monthly budget, and hands them to the pipeline
// one at a time. It also sweeps items stuck in processing past the timeout.
type Runner struct {
	items    ItemStore
	usage    UsageStore
	profiles ProfileStore
	scout    agent.Agent
	proc     Processor
	bus      *events.Bus
	cfg      config.PipelineConfig
	interval time.Duration
	Now      func() time.Time
}

func New(items ItemStore, usage UsageStore, profiles ProfileStore, scout agent.Agent, proc Processor, bus *events.Bus, cfg config.PipelineConfig, interval time.Duration) *Runner {
	return &Runner{
		items:    items,
		usage:    usage,
		profiles: profiles,
		scout:    scout,
		proc:     proc,
		bus:      bus,
		cfg:      cfg,
		interval: interval,
		Now:      time.Now,
	}
}

// Start runs the scheduling loop until the context is cancelled. Users are
// processed sequentially, and items within a user sequentially; each stage's
// dominant cost is a generation round-trip, so the loop tolerates the
// latency instead of parallelizing.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("Runner started, interval %s", r.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Runner stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
			r.SweepStuck(ctx)
		}
	}
}

// RunOnce processes one scheduling round across all known users.
func (r *Runner) RunOnce(ctx context.Context) {
	users, err := r.items.ListActiveUsers(ctx)
	if err != nil {
		log.Printf("Runner: list users: %v", err)
		return
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.ProcessUser(ctx, userID); err != nil {
			log.Printf("Runner: user %s: %v", userID, err)
		}
	}
}

// ProcessUser runs one user's batch and returns how many items were
// admitted and processed.
func (r *Runner) ProcessUser(ctx context.Context, userID string) (int, error) {
	admitted, reason, err := r.admission(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !admitted {
		r.publishBudgetExceeded(userID, reason)
		return 0, nil
	}

	candidates, err := r.discover(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	maxToProcess, err := r.batchBudget(ctx, userID, len(candidates))
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, material := range candidates {
		if processed >= maxToProcess {
			break
		}
		// Caps are re-checked per item so a mid-batch breach (e.g. a
		// concurrent manual trigger) stops admission immediately.
		admitted, reason, err := r.admission(ctx, userID)
		if err != nil {
			return processed, err
		}
		if !admitted {
			r.publishBudgetExceeded(userID, reason)
			break
		}

		done, err := r.items.IsProcessed(ctx, userID, material.SourceType, material.SourceID)
		if err != nil {
			return processed, err
		}
		if done {
			continue
		}

		itemID, err := r.admitItem(ctx, userID, material)
		if err != nil {
			log.Printf("Runner: admit %s/%s: %v", userID, material.SourceID, err)
			continue
		}
		if err := r.proc.ProcessItem(ctx, itemID); err != nil {
			log.Printf("Runner: process item %s: %v", itemID, err)
		}
		processed++
	}
	return processed, nil
}

// admission checks the monthly budget and the daily cap, in that order.
func (r *Runner) admission(ctx context.Context, userID string) (bool, string, error) {
	spend, err := r.usage.MonthlySpend(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("monthly spend: %w", err)
	}
	if spend >= r.cfg.MonthlyBudget {
		return false, fmt.Sprintf("monthly budget reached (%.2f/%.2f)", spend, r.cfg.MonthlyBudget), nil
	}

	daily, err := r.usage.DailyCount(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("daily count: %w", err)
	}
	if daily >= r.cfg.DailyItemCap {
		return false, fmt.Sprintf("daily cap reached (%d/%d)", daily, r.cfg.DailyItemCap), nil
	}
	return true, "", nil
}

// batchBudget bounds the round by remaining daily capacity and remaining
// budget at the estimated per-item cost.
func (r *Runner) batchBudget(ctx context.Context, userID string, found int) (int, error) {
	spend, err := r.usage.MonthlySpend(ctx, userID)
	if err != nil {
		return 0, err
	}
	daily, err := r.usage.DailyCount(ctx, userID)
	if err != nil {
		return 0, err
	}

	remainingDaily := r.cfg.DailyItemCap - daily
	affordable := int(math.Floor((r.cfg.MonthlyBudget - spend) / r.cfg.EstimatedItemCost))

	n := found
	if remainingDaily < n {
		n = remainingDaily
	}
	if affordable < n {
		n = affordable
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (r *Runner) discover(ctx context.Context, userID string) ([]model.SourceMaterial, error) {
	profile, err := r.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var out []model.SourceMaterial
	for _, st := range []model.SourceType{model.SourceNews, model.SourceSocial} {
		in := &agent.Input{
			UserID:  userID,
			Profile: profile,
			Query: &agent.DiscoverInput{
				SourceType: st,
				Keywords:   profile.Keywords,
				Exclude:    profile.ExcludeWords,
				Limit:      r.cfg.DailyItemCap,
			},
		}
		res := agent.Process(ctx, r.scout, in, r.bus, r.cfg.LLMCallCost)
		if !res.Success {
			log.Printf("Runner: scout %s/%s failed: %s", userID, st, res.Err)
			continue
		}
		batch, ok := res.Output.(*agent.ScoutResult)
		if !ok {
			continue
		}
		out = append(out, batch.Candidates...)
	}
	return out, nil
}

// admitItem creates the item record with its source slot already populated
// and charges the daily counter.
func (r *Runner) admitItem(ctx context.Context, userID string, material model.SourceMaterial) (string, error) {
	item := &model.PipelineItem{
		ID:           uuid.New().String(),
		UserID:       userID,
		SourceType:   material.SourceType,
		SourceID:     material.SourceID,
		Status:       model.ItemStatusProcessing,
		CurrentStage: model.StageScout,
		Source:       &material,
		StartedAt:    r.Now().UTC(),
	}
	if err := r.items.Create(ctx, item); err != nil {
		return "", err
	}
	if _, err := r.usage.IncrDaily(ctx, userID); err != nil {
		return "", err
	}
	return item.ID, nil
}

// SweepStuck fails any item still processing past the stuck timeout. This
// is the only automatic recovery from a crashed or hung run.
func (r *Runner) SweepStuck(ctx context.Context) {
	cutoff := r.Now().Add(-r.cfg.StuckTimeout)
	ids, err := r.items.ListStuck(ctx, cutoff)
	if err != nil {
		log.Printf("Runner: list stuck items: %v", err)
		return
	}

	for _, id := range ids {
		item, err := r.items.Get(ctx, id)
		if err != nil {
			log.Printf("Runner: load stuck item %s: %v", id, err)
			continue
		}
		if item.Status.Terminal() {
			continue
		}
		msg := fmt.Sprintf("processing exceeded %s at stage %d", r.cfg.StuckTimeout, item.CurrentStage)
		if err := r.items.MarkFailed(ctx, id, item.CurrentStage, msg, model.FailureTimeout); err != nil {
			log.Printf("Runner: sweep item %s: %v", id, err)
			continue
		}
		log.Printf("Runner: swept stuck item %s (stage %d)", id, item.CurrentStage)
	}
}

func (r *Runner) publishBudgetExceeded(userID, reason string) {
	if reason == "" {
		return
	}
	r.bus.Publish(model.StageEvent{
		Type:    model.EventBudgetExceeded,
		UserID:  userID,
		Message: reason,
	})
}

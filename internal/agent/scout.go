package agent

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scriptreel/api/internal/client"
	"github.com/scriptreel/api/internal/model"
)

// ScoutResult is one discovery batch: the eligible candidates found for a
// user, ready to become per-item runs.
type ScoutResult struct {
	Candidates []model.SourceMaterial `json:"candidates"`
}

// ScoutAgent discovers candidate source items. It runs once per batch,
// upstream of per-item processing, and does not hit the generation service.
type ScoutAgent struct {
	sources       *client.SourceClient
	archive       client.ArchiveClient
	minContentLen int
	maxAge        time.Duration
}

func NewScoutAgent(sources *client.SourceClient, archive client.ArchiveClient, minContentLen int, maxAge time.Duration) *ScoutAgent {
	return &ScoutAgent{
		sources:       sources,
		archive:       archive,
		minContentLen: minContentLen,
		maxAge:        maxAge,
	}
}

func (a *ScoutAgent) Stage() int    { return model.StageScout }
func (a *ScoutAgent) Name() string  { return model.StageTitle(model.StageScout) }
func (a *ScoutAgent) UsesLLM() bool { return false }

func (a *ScoutAgent) Validate(in *Input) error {
	if in == nil || in.UserID == "" {
		return fmt.Errorf("scout: user id is required")
	}
	if in.Query == nil {
		return fmt.Errorf("scout: discovery query is required")
	}
	return nil
}

func (a *ScoutAgent) Execute(ctx context.Context, in *Input) (any, error) {
	candidates, err := a.sources.Discover(ctx, client.DiscoverQuery{
		SourceType: in.Query.SourceType,
		Keywords:   in.Query.Keywords,
		Exclude:    in.Query.Exclude,
		MaxAge:     a.maxAge,
		Limit:      in.Query.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("discover candidates: %w", err)
	}

	cutoff := time.Now().Add(-a.maxAge)
	result := &ScoutResult{}
	for _, c := range candidates {
		if !c.PublishedAt.IsZero() && c.PublishedAt.Before(cutoff) {
			continue
		}
		if excluded(c, in.Query.Exclude) {
			continue
		}

		body := c.Body
		if len(body) < a.minContentLen {
			// One on-demand full fetch before discarding a thin candidate.
			full, ferr := a.sources.Fetch(ctx, c.SourceType, c.ID)
			if ferr != nil || len(full.Body) < a.minContentLen {
				continue
			}
			body = full.Body
		}

		material := model.SourceMaterial{
			SourceID:    c.ID,
			SourceType:  c.SourceType,
			Title:       c.Title,
			Body:        body,
			URL:         c.URL,
			ImageURL:    c.ImageURL,
			PublishedAt: c.PublishedAt,
		}
		a.archiveBody(ctx, in.UserID, &material)
		result.Candidates = append(result.Candidates, material)
	}

	return result, nil
}

func (a *ScoutAgent) archiveBody(ctx context.Context, userID string, m *model.SourceMaterial) {
	if a.archive == nil {
		return
	}
	key := fmt.Sprintf("sources/%s/%s/%s.txt", userID, m.SourceType, m.SourceID)
	if _, err := a.archive.Upload(ctx, key, bytes.NewReader([]byte(m.Body)), "text/plain"); err != nil {
		log.Printf("Failed to archive source %s: %v", m.SourceID, err)
		return
	}
	m.ArchiveKey = key
}

func excluded(c client.Candidate, exclude []string) bool {
	text := strings.ToLower(c.Title + " " + c.Body)
	for _, word := range exclude {
		if word != "" && strings.Contains(text, strings.ToLower(word)) {
			return true
		}
	}
	return false
}

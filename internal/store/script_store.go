package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scriptreel/api/internal/model"
)

var ErrScriptNotFound = errors.New("script not found")

// ScriptStore persists GeneratedScripts and their append-only version rows.
type ScriptStore struct {
	redis *redis.Client
	Now   func() time.Time
}

func NewScriptStore(redisClient *redis.Client) *ScriptStore {
	return &ScriptStore{redis: redisClient, Now: time.Now}
}

func scriptKey(id string) string   { return "script:" + id }
func versionsKey(id string) string { return "script:" + id + ":versions" }
func userScriptsKey(uid string) string {
	return "user:" + uid + ":scripts"
}

// Create persists a brand-new script and its first version row.
func (s *ScriptStore) Create(ctx context.Context, script *model.GeneratedScript) error {
	now := s.Now().UTC()
	script.CreatedAt = now
	script.UpdatedAt = now

	if err := s.save(ctx, script); err != nil {
		return err
	}

	version := model.ScriptVersion{
		Version:   1,
		ItemID:    script.ItemID,
		Scenes:    script.Scenes,
		FullText:  script.FullText,
		Scores:    script.Scores,
		Decision:  script.Decision,
		CreatedAt: now,
	}
	if _, err := s.AppendVersion(ctx, script.ID, version); err != nil {
		return err
	}

	return s.redis.RPush(ctx, userScriptsKey(script.UserID), script.ID).Err()
}

// Update rewrites the script head in place.
func (s *ScriptStore) Update(ctx context.Context, script *model.GeneratedScript) error {
	script.UpdatedAt = s.Now().UTC()
	return s.save(ctx, script)
}

func (s *ScriptStore) save(ctx context.Context, script *model.GeneratedScript) error {
	data, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("marshal script: %w", err)
	}
	return s.redis.Set(ctx, scriptKey(script.ID), data, 0).Err()
}

// Get loads one script head.
func (s *ScriptStore) Get(ctx context.Context, id string) (*model.GeneratedScript, error) {
	data, err := s.redis.Get(ctx, scriptKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrScriptNotFound
	}
	if err != nil {
		return nil, err
	}
	var script model.GeneratedScript
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("unmarshal script: %w", err)
	}
	return &script, nil
}

// AppendVersion appends one version row and returns the new version count.
func (s *ScriptStore) AppendVersion(ctx context.Context, scriptID string, v model.ScriptVersion) (int, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.Now().UTC()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal script version: %w", err)
	}
	count, err := s.redis.RPush(ctx, versionsKey(scriptID), data).Result()
	return int(count), err
}

// VersionCount returns how many version rows the script has.
func (s *ScriptStore) VersionCount(ctx context.Context, scriptID string) (int, error) {
	count, err := s.redis.LLen(ctx, versionsKey(scriptID)).Result()
	return int(count), err
}

// Versions returns all version rows in order.
func (s *ScriptStore) Versions(ctx context.Context, scriptID string) ([]model.ScriptVersion, error) {
	raw, err := s.redis.LRange(ctx, versionsKey(scriptID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	versions := make([]model.ScriptVersion, 0, len(raw))
	for _, entry := range raw {
		var v model.ScriptVersion
		if err := json.Unmarshal([]byte(entry), &v); err != nil {
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// ListByUser returns the user's scripts, newest last. FAIL runs never
// create scripts, so everything here is review-queue material.
func (s *ScriptStore) ListByUser(ctx context.Context, userID string, limit int) ([]*model.GeneratedScript, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.redis.LRange(ctx, userScriptsKey(userID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	scripts := make([]*model.GeneratedScript, 0, len(ids))
	for _, id := range ids {
		script, err := s.Get(ctx, id)
		if err == ErrScriptNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

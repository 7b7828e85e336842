package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/scriptreel/api/internal/model"
)

// ProfileStore holds per-user writing profiles. Users who never configured
// one get an empty default: no avoid lists, no keyword filters.
type ProfileStore struct {
	redis *redis.Client
}

func NewProfileStore(redisClient *redis.Client) *ProfileStore {
	return &ProfileStore{redis: redisClient}
}

func profileKey(userID string) string { return "user:" + userID + ":profile" }

func (s *ProfileStore) Get(ctx context.Context, userID string) (*model.UserWritingProfile, error) {
	data, err := s.redis.Get(ctx, profileKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return &model.UserWritingProfile{}, nil
	}
	if err != nil {
		return nil, err
	}

	var profile model.UserWritingProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("parse profile for %s: %w", userID, err)
	}
	return &profile, nil
}

func (s *ProfileStore) Set(ctx context.Context, userID string, profile *model.UserWritingProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return s.redis.Set(ctx, profileKey(userID), data, 0).Err()
}

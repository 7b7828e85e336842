package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// User stat counter names.
const (
	StatApproved  = "approved"
	StatRejected  = "rejected"
	StatDelivered = "delivered"
	StatFailed    = "failed"
)

// UsageStore tracks per-user throughput and spend. All writes are atomic
// Redis increments so concurrent scheduled and manual triggers never lose
// updates to a read-modify-write race.
type UsageStore struct {
	redis *redis.Client
	Now   func() time.Time
}

func NewUsageStore(redisClient *redis.Client) *UsageStore {
	return &UsageStore{redis: redisClient, Now: time.Now}
}

func (s *UsageStore) dailyKey(userID string) string {
	return fmt.Sprintf("usage:daily:%s:%s", userID, s.Now().UTC().Format("20060102"))
}

func (s *UsageStore) spendKey(userID string) string {
	return fmt.Sprintf("usage:spend:%s:%s", userID, s.Now().UTC().Format("200601"))
}

func statsKey(userID string) string { return "user:" + userID + ":stats" }

// DailyCount returns how many items were processed for the user today.
func (s *UsageStore) DailyCount(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.Get(ctx, s.dailyKey(userID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// IncrDaily counts one processed item against today's cap.
func (s *UsageStore) IncrDaily(ctx context.Context, userID string) (int, error) {
	key := s.dailyKey(userID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		s.redis.Expire(ctx, key, 48*time.Hour)
	}
	return int(count), nil
}

// MonthlySpend returns the user's generation spend for the current month.
func (s *UsageStore) MonthlySpend(ctx context.Context, userID string) (float64, error) {
	spend, err := s.redis.Get(ctx, s.spendKey(userID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return spend, err
}

// AddSpend counts generation cost against the user's monthly budget.
func (s *UsageStore) AddSpend(ctx context.Context, userID string, amount float64) error {
	if amount == 0 {
		return nil
	}
	key := s.spendKey(userID)
	if err := s.redis.IncrByFloat(ctx, key, amount).Err(); err != nil {
		return err
	}
	return s.redis.Expire(ctx, key, 45*24*time.Hour).Err()
}

// IncrStat bumps one of the user's lifetime counters.
func (s *UsageStore) IncrStat(ctx context.Context, userID, stat string) error {
	return s.redis.HIncrBy(ctx, statsKey(userID), stat, 1).Err()
}

// ApprovalRate returns the fraction of reviewed scripts the user approved,
// or 0.5 when there is no history yet.
func (s *UsageStore) ApprovalRate(ctx context.Context, userID string) (float64, error) {
	stats, err := s.redis.HGetAll(ctx, statsKey(userID)).Result()
	if err != nil {
		return 0.5, err
	}
	approved := parseIntField(stats, StatApproved)
	rejected := parseIntField(stats, StatRejected)
	total := approved + rejected
	if total == 0 {
		return 0.5, nil
	}
	return float64(approved) / float64(total), nil
}

func parseIntField(fields map[string]string, name string) int {
	var n int
	fmt.Sscanf(fields[name], "%d", &n)
	return n
}

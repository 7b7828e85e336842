package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scriptreel/api/internal/model"
)

const eventLogTTL = 7 * 24 * time.Hour

// EventLog durably records stage lifecycle events keyed by (user, item).
// Live websocket delivery is best-effort; this log is what a reconnecting
// client replays to rebuild progress.
type EventLog struct {
	redis *redis.Client
}

func NewEventLog(redisClient *redis.Client) *EventLog {
	return &EventLog{redis: redisClient}
}

func eventLogKey(userID, itemID string) string {
	return fmt.Sprintf("events:%s:%s", userID, itemID)
}

// Append logs one event.
func (l *EventLog) Append(ctx context.Context, ev model.StageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := eventLogKey(ev.UserID, ev.ItemID)
	pipe := l.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, eventLogTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Replay returns every logged event for the item, in emission order.
func (l *EventLog) Replay(ctx context.Context, userID, itemID string) ([]model.StageEvent, error) {
	raw, err := l.redis.LRange(ctx, eventLogKey(userID, itemID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]model.StageEvent, 0, len(raw))
	for _, entry := range raw {
		var ev model.StageEvent
		if err := json.Unmarshal([]byte(entry), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

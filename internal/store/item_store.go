package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scriptreel/api/internal/model"
)

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrItemTerminal     = errors.New("item already in terminal state")
	ErrUnmappedStage    = errors.New("no output slot for stage")
	ErrSlotNotPopulated = errors.New("stage slot not populated")
)

const (
	itemTTL        = 30 * 24 * time.Hour
	processingZSet = "items:processing"
	activeUsersSet = "users:active"
)

// ItemStore persists PipelineItems in Redis. Each item is a hash with one
// field per stage slot plus scalar meta fields, so every stage-data write
// and counter increment is a single atomic Redis operation rather than a
// read-modify-write of a whole record.
type ItemStore struct {
	redis *redis.Client
	Now   func() time.Time
}

func NewItemStore(redisClient *redis.Client) *ItemStore {
	return &ItemStore{redis: redisClient, Now: time.Now}
}

func itemKey(id string) string    { return "item:" + id }
func historyKey(id string) string { return "item:" + id + ":history" }
func userItemsKey(uid string) string {
	return "user:" + uid + ":items"
}
func processedKey(uid string) string { return "processed:" + uid }
func stageField(stage int) (string, error) {
	if model.StageTitle(stage) == "" {
		return "", fmt.Errorf("%w: %d", ErrUnmappedStage, stage)
	}
	return "stage:" + strconv.Itoa(stage), nil
}

// Create writes a new item record and registers it in the user index, the
// processed-source marker set, and the in-flight sweep index.
func (s *ItemStore) Create(ctx context.Context, item *model.PipelineItem) error {
	if item.StartedAt.IsZero() {
		item.StartedAt = s.Now().UTC()
	}
	if item.Status == "" {
		item.Status = model.ItemStatusProcessing
	}

	fields := map[string]interface{}{
		"id":            item.ID,
		"user_id":       item.UserID,
		"source_type":   string(item.SourceType),
		"source_id":     item.SourceID,
		"status":        string(item.Status),
		"current_stage": item.CurrentStage,
		"retry_count":   item.RetryCount,
		"total_cost":    item.TotalCost,
		"started_at":    item.StartedAt.Format(time.RFC3339Nano),
	}
	if item.ParentItemID != "" {
		fields["parent_item_id"] = item.ParentItemID
	}
	if item.Revision != nil {
		data, err := json.Marshal(item.Revision)
		if err != nil {
			return fmt.Errorf("marshal revision context: %w", err)
		}
		fields["revision"] = string(data)
	}
	for stage := model.StageScout; stage <= model.StageDelivery; stage++ {
		out := item.StageOutput(stage)
		if out == nil {
			continue
		}
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal stage %d output: %w", stage, err)
		}
		field, err := stageField(stage)
		if err != nil {
			return err
		}
		fields[field] = string(data)
	}

	key := itemKey(item.ID)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, itemTTL)
	pipe.RPush(ctx, userItemsKey(item.UserID), item.ID)
	pipe.SAdd(ctx, processedKey(item.UserID), sourceMember(item.SourceType, item.SourceID))
	pipe.SAdd(ctx, activeUsersSet, item.UserID)
	pipe.ZAdd(ctx, processingZSet, redis.Z{Score: float64(item.StartedAt.Unix()), Member: item.ID})
	_, err := pipe.Exec(ctx)
	return err
}

// Get loads a full item including stage slots and history.
func (s *ItemStore) Get(ctx context.Context, id string) (*model.PipelineItem, error) {
	fields, err := s.redis.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrItemNotFound
	}

	item := &model.PipelineItem{
		ID:           fields["id"],
		UserID:       fields["user_id"],
		SourceType:   model.SourceType(fields["source_type"]),
		SourceID:     fields["source_id"],
		Status:       model.ItemStatus(fields["status"]),
		ErrorMessage: fields["error_message"],
		FailureKind:  model.FailureKind(fields["failure_kind"]),
		ParentItemID: fields["parent_item_id"],
	}
	item.CurrentStage, _ = strconv.Atoi(fields["current_stage"])
	item.RetryCount, _ = strconv.Atoi(fields["retry_count"])
	item.ErrorStage, _ = strconv.Atoi(fields["error_stage"])
	item.TotalCost, _ = strconv.ParseFloat(fields["total_cost"], 64)
	if v := fields["started_at"]; v != "" {
		item.StartedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := fields["completed_at"]; v != "" {
		t, perr := time.Parse(time.RFC3339Nano, v)
		if perr == nil {
			item.CompletedAt = &t
		}
	}
	if v := fields["revision"]; v != "" {
		var rc model.RevisionContext
		if err := json.Unmarshal([]byte(v), &rc); err == nil {
			item.Revision = &rc
		}
	}

	for stage := model.StageScout; stage <= model.StageDelivery; stage++ {
		field, ferr := stageField(stage)
		if ferr != nil {
			return nil, ferr
		}
		raw, ok := fields[field]
		if !ok || raw == "" {
			continue
		}
		if err := decodeStageOutput(item, stage, []byte(raw)); err != nil {
			return nil, err
		}
	}

	history, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}
	item.StageHistory = history

	return item, nil
}

// decodeStageOutput unmarshals one stage slot into its typed payload. The
// switch is exhaustive over the nine stages.
func decodeStageOutput(item *model.PipelineItem, stage int, raw []byte) error {
	var out any
	switch stage {
	case model.StageScout:
		out = &model.SourceMaterial{}
	case model.StageScorer:
		out = &model.ScoreResult{}
	case model.StageAnalyst:
		out = &model.AnalysisResult{}
	case model.StageArchitect:
		out = &model.FormatPlan{}
	case model.StageWriter:
		out = &model.Script{}
	case model.StageQC:
		out = &model.QCResult{}
	case model.StageOptimizer:
		out = &model.OptimizationResult{}
	case model.StageGate:
		out = &model.GateResult{}
	case model.StageDelivery:
		out = &model.DeliveryResult{}
	default:
		return fmt.Errorf("%w: %d", ErrUnmappedStage, stage)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode stage %d output: %w", stage, err)
	}
	return item.SetStageOutput(stage, out)
}

// SetStageOutput persists one stage slot as a single HSET.
func (s *ItemStore) SetStageOutput(ctx context.Context, id string, stage int, output any) error {
	field, err := stageField(stage)
	if err != nil {
		return err
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal stage %d output: %w", stage, err)
	}
	return s.redis.HSet(ctx, itemKey(id), field, string(data)).Err()
}

// RawStageData returns the stored JSON for one slot without decoding it.
func (s *ItemStore) RawStageData(ctx context.Context, id string, stage int) (string, error) {
	field, err := stageField(stage)
	if err != nil {
		return "", err
	}
	raw, err := s.redis.HGet(ctx, itemKey(id), field).Result()
	if err == redis.Nil {
		return "", ErrSlotNotPopulated
	}
	return raw, err
}

// CopyStageData copies slots [fromStage, toStage] from parent to child as
// raw bytes, so the fork holds byte-identical copies of the parent's data.
func (s *ItemStore) CopyStageData(ctx context.Context, parentID, childID string, fromStage, toStage int) error {
	pipe := s.redis.TxPipeline()
	for stage := fromStage; stage <= toStage; stage++ {
		raw, err := s.RawStageData(ctx, parentID, stage)
		if err != nil {
			return fmt.Errorf("copy stage %d from %s: %w", stage, parentID, err)
		}
		field, _ := stageField(stage)
		pipe.HSet(ctx, itemKey(childID), field, raw)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// AppendHistory appends one stage record to the item's audit trail.
func (s *ItemStore) AppendHistory(ctx context.Context, id string, rec model.StageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal stage record: %w", err)
	}
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, historyKey(id), string(data))
	pipe.Expire(ctx, historyKey(id), itemTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// History returns the item's append-only stage records in order.
func (s *ItemStore) History(ctx context.Context, id string) ([]model.StageRecord, error) {
	raw, err := s.redis.LRange(ctx, historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]model.StageRecord, 0, len(raw))
	for _, entry := range raw {
		var rec model.StageRecord
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// SetCurrentStage records which stage the item is on.
func (s *ItemStore) SetCurrentStage(ctx context.Context, id string, stage int) error {
	return s.redis.HSet(ctx, itemKey(id), "current_stage", stage).Err()
}

// AddCost atomically increments the item's accumulated cost.
func (s *ItemStore) AddCost(ctx context.Context, id string, cost float64) error {
	if cost == 0 {
		return nil
	}
	return s.redis.HIncrByFloat(ctx, itemKey(id), "total_cost", cost).Err()
}

// Status reads just the item's status. Used as the cheap cancellation
// check between stages.
func (s *ItemStore) Status(ctx context.Context, id string) (model.ItemStatus, error) {
	v, err := s.redis.HGet(ctx, itemKey(id), "status").Result()
	if err == redis.Nil {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", err
	}
	return model.ItemStatus(v), nil
}

// MarkCompleted transitions the item to its terminal completed state.
func (s *ItemStore) MarkCompleted(ctx context.Context, id string) error {
	return s.markTerminal(ctx, id, map[string]interface{}{
		"status":       string(model.ItemStatusCompleted),
		"completed_at": s.Now().UTC().Format(time.RFC3339Nano),
	})
}

// MarkFailed transitions the item to failed, recording where and why.
func (s *ItemStore) MarkFailed(ctx context.Context, id string, stage int, msg string, kind model.FailureKind) error {
	return s.markTerminal(ctx, id, map[string]interface{}{
		"status":        string(model.ItemStatusFailed),
		"completed_at":  s.Now().UTC().Format(time.RFC3339Nano),
		"error_stage":   stage,
		"error_message": msg,
		"failure_kind":  string(kind),
	})
}

// MarkCancelled transitions the item to cancelled. The in-flight run sees
// the new status at its next persistence point and discards its result.
func (s *ItemStore) MarkCancelled(ctx context.Context, id string) error {
	return s.markTerminal(ctx, id, map[string]interface{}{
		"status":       string(model.ItemStatusCancelled),
		"completed_at": s.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *ItemStore) markTerminal(ctx context.Context, id string, fields map[string]interface{}) error {
	status, err := s.Status(ctx, id)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return ErrItemTerminal
	}
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, itemKey(id), fields)
	pipe.ZRem(ctx, processingZSet, id)
	_, err = pipe.Exec(ctx)
	return err
}

// PrepareRetry resets a failed item for a full fresh run: bumps the retry
// counter, clears error fields and every post-Scout slot, and re-registers
// the item as in-flight. The source slot and the audit history survive.
func (s *ItemStore) PrepareRetry(ctx context.Context, id string) (int, error) {
	key := itemKey(id)
	count, err := s.redis.HIncrBy(ctx, key, "retry_count", 1).Result()
	if err != nil {
		return 0, err
	}

	now := s.Now().UTC()
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":        string(model.ItemStatusProcessing),
		"current_stage": model.StageScorer,
		"error_stage":   0,
		"error_message": "",
		"failure_kind":  "",
		"completed_at":  "",
		"started_at":    now.Format(time.RFC3339Nano),
	})
	for stage := model.StageScorer; stage <= model.StageDelivery; stage++ {
		field, _ := stageField(stage)
		pipe.HDel(ctx, key, field)
	}
	pipe.ZAdd(ctx, processingZSet, redis.Z{Score: float64(now.Unix()), Member: id})
	_, err = pipe.Exec(ctx)
	return int(count), err
}

// ListStuck returns ids of items that entered processing before the cutoff
// and never reached a terminal state.
func (s *ItemStore) ListStuck(ctx context.Context, before time.Time) ([]string, error) {
	return s.redis.ZRangeByScore(ctx, processingZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
}

// IsProcessed reports whether this user+source pair already has an item.
func (s *ItemStore) IsProcessed(ctx context.Context, userID string, st model.SourceType, sourceID string) (bool, error) {
	return s.redis.SIsMember(ctx, processedKey(userID), sourceMember(st, sourceID)).Result()
}

// ListByUser returns the user's most recent items, newest last.
func (s *ItemStore) ListByUser(ctx context.Context, userID string, limit int) ([]*model.PipelineItem, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.redis.LRange(ctx, userItemsKey(userID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]*model.PipelineItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.Get(ctx, id)
		if err == ErrItemNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ListActiveUsers returns users eligible for scheduled processing.
func (s *ItemStore) ListActiveUsers(ctx context.Context) ([]string, error) {
	return s.redis.SMembers(ctx, activeUsersSet).Result()
}

// RegisterActiveUser opts a user into scheduled discovery.
func (s *ItemStore) RegisterActiveUser(ctx context.Context, userID string) error {
	return s.redis.SAdd(ctx, activeUsersSet, userID).Err()
}

func sourceMember(st model.SourceType, sourceID string) string {
	return string(st) + ":" + sourceID
}

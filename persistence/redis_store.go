package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relay/types"
)

// RedisRecordStore is a Redis-based implementation of RecordStore.
// Suitable for distributed production deployments. Records are stored as
// JSON blobs indexed by two sorted sets (global and per-conversation) scored
// by the record timestamp, so read-since maps to ZRANGEBYSCORE.
type RedisRecordStore struct {
	client    *redis.Client
	keyPrefix string
	config    StoreConfig
}

// NewRedisRecordStore creates a new Redis-based record store.
func NewRedisRecordStore(config StoreConfig) (*RedisRecordStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "relay:"
	}

	return &RedisRecordStore{
		client:    client,
		keyPrefix: keyPrefix + "handoff:",
		config:    config,
	}, nil
}

func (s *RedisRecordStore) recordKey(id string) string {
	return s.keyPrefix + "record:" + id
}

func (s *RedisRecordStore) globalKey() string {
	return s.keyPrefix + "by_time"
}

func (s *RedisRecordStore) convKey(conversationID string) string {
	return s.keyPrefix + "conv:" + conversationID
}

// Append stores a record.
func (s *RedisRecordStore) Append(ctx context.Context, record *types.HandoffRecord) error {
	if record == nil || record.ConversationID == "" {
		return ErrInvalidInput
	}

	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	record.ID = stored.ID
	record.Timestamp = stored.Timestamp

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	score := float64(stored.Timestamp.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(stored.ID), data, s.config.Retention)
	pipe.ZAdd(ctx, s.globalKey(), redis.Z{Score: score, Member: stored.ID})
	pipe.ZAdd(ctx, s.convKey(stored.ConversationID), redis.Z{Score: score, Member: stored.ID})
	if s.config.Retention > 0 {
		cutoff := strconv.FormatInt(time.Now().Add(-s.config.Retention).UnixNano(), 10)
		pipe.ZRemRangeByScore(ctx, s.globalKey(), "-inf", cutoff)
		pipe.ZRemRangeByScore(ctx, s.convKey(stored.ConversationID), "-inf", cutoff)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// Since returns all records from the given time, oldest first.
func (s *RedisRecordStore) Since(ctx context.Context, since time.Time) ([]*types.HandoffRecord, error) {
	return s.readRange(ctx, s.globalKey(), since)
}

// ForConversation returns the records of one conversation, oldest first.
func (s *RedisRecordStore) ForConversation(ctx context.Context, conversationID string, since time.Time) ([]*types.HandoffRecord, error) {
	return s.readRange(ctx, s.convKey(conversationID), since)
}

func (s *RedisRecordStore) readRange(ctx context.Context, indexKey string, since time.Time) ([]*types.HandoffRecord, error) {
	ids, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read record index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	records := make([]*types.HandoffRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Blob expired while still indexed; skip.
			continue
		}
		var record types.HandoffRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, &record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// Ping checks if the store is healthy.
func (s *RedisRecordStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Reset removes all records under the store's key prefix.
func (s *RedisRecordStore) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Close closes the store.
func (s *RedisRecordStore) Close() error {
	return s.client.Close()
}

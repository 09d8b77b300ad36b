package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "swarmflow:"

func newRedisClient(cfg StoreConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func keyPrefix(cfg StoreConfig) string {
	if cfg.Redis.KeyPrefix != "" {
		return cfg.Redis.KeyPrefix
	}
	return defaultKeyPrefix
}

// RedisMessageStore persists message records in redis: one JSON value
// per record plus a per-topic list index and a global created-at index.
type RedisMessageStore struct {
	client *redis.Client
	prefix string
}

// NewRedisMessageStore creates a redis-backed message store.
func NewRedisMessageStore(cfg StoreConfig) (*RedisMessageStore, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisMessageStore{client: client, prefix: keyPrefix(cfg) + "msg:"}, nil
}

func (s *RedisMessageStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }
func (s *RedisMessageStore) Close() error                   { return s.client.Close() }

func (s *RedisMessageStore) dataKey(id string) string     { return s.prefix + "data:" + id }
func (s *RedisMessageStore) topicKey(topic string) string { return s.prefix + "topic:" + topic }
func (s *RedisMessageStore) indexKey() string             { return s.prefix + "index" }

func (s *RedisMessageStore) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message record: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(rec.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
	if rec.Topic != "" {
		pipe.RPush(ctx, s.topicKey(rec.Topic), rec.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisMessageStore) GetMessage(ctx context.Context, id string) (*MessageRecord, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec MessageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal message record: %w", err)
	}
	return &rec, nil
}

func (s *RedisMessageStore) ListByTopic(ctx context.Context, topic string, limit int) ([]*MessageRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := s.client.LRange(ctx, s.topicKey(topic), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*MessageRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetMessage(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisMessageStore) AckMessage(ctx context.Context, id string) error {
	rec, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	rec.AckedAt = &now
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.dataKey(id), data, 0).Err()
}

func (s *RedisMessageStore) IncrementRetry(ctx context.Context, id string) error {
	rec, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	rec.Retries++
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.dataKey(id), data, 0).Err()
}

func (s *RedisMessageStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixNano()),
	}).Result()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		rec, err := s.GetMessage(ctx, id)
		if err == ErrNotFound {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return removed, err
		}
		if rec.AckedAt == nil || !rec.AckedAt.Before(cutoff) {
			continue
		}
		pipe := s.client.Pipeline()
		pipe.Del(ctx, s.dataKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		if rec.Topic != "" {
			pipe.LRem(ctx, s.topicKey(rec.Topic), 1, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *RedisMessageStore) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.indexKey()).Result()
}

// RedisTaskStore archives task results in redis.
type RedisTaskStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTaskStore creates a redis-backed task store.
func NewRedisTaskStore(cfg StoreConfig) (*RedisTaskStore, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisTaskStore{client: client, prefix: keyPrefix(cfg) + "task:"}, nil
}

func (s *RedisTaskStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }
func (s *RedisTaskStore) Close() error                   { return s.client.Close() }

func (s *RedisTaskStore) dataKey(taskID string) string { return s.prefix + "data:" + taskID }
func (s *RedisTaskStore) indexKey() string             { return s.prefix + "index" }

func (s *RedisTaskStore) SaveResult(ctx context.Context, rec *TaskRecord) error {
	if rec == nil || rec.TaskID == "" {
		return ErrInvalidInput
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(rec.TaskID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CompletedAt.UnixNano()), Member: rec.TaskID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisTaskStore) GetResult(ctx context.Context, taskID string) (*TaskRecord, error) {
	data, err := s.client.Get(ctx, s.dataKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal task record: %w", err)
	}
	return &rec, nil
}

func (s *RedisTaskStore) ListResults(ctx context.Context, limit int) ([]*TaskRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*TaskRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetResult(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisTaskStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		pipe := s.client.Pipeline()
		pipe.Del(ctx, s.dataKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

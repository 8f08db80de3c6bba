package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore shares execution keys across orchestrator replicas.
// SET NX gives the atomic claim; the record is stored as JSON.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "pathwise:exec:"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*ExecutionRecord, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution key: %w", err)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode execution record: %w", err)
	}
	return &rec, nil
}

func (s *RedisIdempotencyStore) PutIfAbsent(ctx context.Context, record *ExecutionRecord, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encode execution record: %w", err)
	}
	claimed, err := s.client.SetNX(ctx, s.prefix+record.Key, raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim execution key: %w", err)
	}
	return claimed, nil
}

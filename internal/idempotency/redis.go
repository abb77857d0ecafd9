package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository stores records as JSON strings with a TTL, so expiry needs
// no cleanup job.
type RedisRepository struct {
	client *redis.Client
	expiry time.Duration
	prefix string
}

// NewRedisRepository creates a Redis-backed repository.
func NewRedisRepository(client *redis.Client, expiry time.Duration) *RedisRepository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &RedisRepository{client: client, expiry: expiry, prefix: "esign:idempotency:"}
}

func (r *RedisRepository) redisKey(scope, key string) string {
	return r.prefix + scope + ":" + key
}

// Get retrieves a live record.
func (r *RedisRepository) Get(ctx context.Context, scope, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, r.redisKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &record, nil
}

// Store saves a record with SET NX so the first writer wins.
func (r *RedisRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.redisKey(record.Scope, record.Key), raw, r.expiry).Result()
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

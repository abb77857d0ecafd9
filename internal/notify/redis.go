package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list the mail worker consumes.
const DefaultQueueKey = "esign:notifications"

// RedisQueueSender pushes messages onto a Redis list. A separate mail worker
// pops them and handles transport retries.
type RedisQueueSender struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

var _ Queue = (*RedisQueueSender)(nil)

// NewRedisQueueSender creates a sender that enqueues to key.
// An empty key uses DefaultQueueKey.
func NewRedisQueueSender(client *redis.Client, key string) *RedisQueueSender {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueueSender{client: client, key: key, now: time.Now}
}

// Send enqueues msg as JSON.
func (s *RedisQueueSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Pop removes the oldest queued message, waiting up to timeout.
// It returns (nil, nil) when the queue stays empty.
func (s *RedisQueueSender) Pop(ctx context.Context, timeout time.Duration) (*Message, error) {
	res, err := s.client.BRPop(ctx, timeout, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop notification: %w", err)
	}
	// BRPOP returns [key, value]
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &msg, nil
}

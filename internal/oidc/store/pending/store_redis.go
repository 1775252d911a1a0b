package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rpgateway/internal/oidc/models"
	"rpgateway/pkg/platform/sentinel"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "oidc:pending:"

// RedisStore keeps pending attempts in Redis so any instance can serve the
// callback. Values expire with the session TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, handle string, attempt models.AuthorizationAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal pending attempt: %w", err)
	}
	if err := s.client.Set(ctx, pendingKeyPrefix+handle, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store pending attempt: %w", err)
	}
	return nil
}

func (s *RedisStore) TakeAndClear(ctx context.Context, handle string) (*models.AuthorizationAttempt, error) {
	data, err := s.client.GetDel(ctx, pendingKeyPrefix+handle).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending attempt not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("take pending attempt: %w", err)
	}
	var attempt models.AuthorizationAttempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, fmt.Errorf("decode pending attempt: %w", err)
	}
	return &attempt, nil
}

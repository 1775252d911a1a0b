package exchangecode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpgateway/pkg/platform/sentinel"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	redeemDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rpgateway_exchange_code_redeem_duration_ms",
		Help:    "Latency of exchange code redemption against Redis in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	})
)

const (
	exchangeCodeKeyPrefix = "oidc:exchange:"
	// Collisions on a v4 UUID are not expected; the retry covers a broken RNG.
	issueAttempts = 3
)

// RedisStore shares exchange codes across instances. Redeem uses GETDEL so
// the read and delete are one atomic server-side step; Redis TTL enforces expiry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Issue(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	if err := validateTTL(ttl); err != nil {
		return "", err
	}
	for range issueAttempts {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		ok, err := s.client.SetNX(ctx, exchangeCodeKeyPrefix+code, userID.String(), ttl).Result()
		if err != nil {
			return "", fmt.Errorf("store exchange code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("store exchange code: %w", sentinel.ErrConflict)
}

func (s *RedisStore) Redeem(ctx context.Context, code string) (uuid.UUID, error) {
	start := time.Now()
	defer func() {
		redeemDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	val, err := s.client.GetDel(ctx, exchangeCodeKeyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, fmt.Errorf("exchange code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("redeem exchange code: %w", err)
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt exchange code entry: %w", err)
	}
	return userID, nil
}

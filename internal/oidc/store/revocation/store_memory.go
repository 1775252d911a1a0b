package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rpgateway/pkg/platform/sentinel"
)

// InMemoryTRL is a single-instance token revocation list.
type InMemoryTRL struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	clock   func() time.Time
}

type Option func(*InMemoryTRL)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(t *InMemoryTRL) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func NewInMemoryTRL(opts ...Option) *InMemoryTRL {
	t := &InMemoryTRL{revoked: make(map[string]time.Time), clock: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *InMemoryTRL) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revoked[jti] = t.clock().Add(ttl)
	return nil
}

func (t *InMemoryTRL) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	expiresAt, ok := t.revoked[jti]
	if !ok {
		return false, nil
	}
	return t.clock().Before(expiresAt), nil
}

// DeleteExpired drops entries whose token would have expired by now.
func (t *InMemoryTRL) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deleted := 0
	for jti, expiresAt := range t.revoked {
		if !now.Before(expiresAt) {
			delete(t.revoked, jti)
			deleted++
		}
	}
	return deleted, nil
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

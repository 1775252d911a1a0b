package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rpgateway/internal/oidc/models"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/requestcontext"
)

// Error Contract:
// - TakeAndClear returns ErrNotFound when no attempt is held for the handle,
//   including after it was already taken or its session TTL lapsed
// - Put overwrites any attempt already held for the handle

type entry struct {
	attempt   models.AuthorizationAttempt
	expiresAt time.Time
}

// InMemoryStore holds one pending attempt per session handle. Suitable for a
// single instance; use RedisStore when callbacks may land on another node.
type InMemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	attempts map[string]entry
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{ttl: ttl, attempts: make(map[string]entry)}
}

func (s *InMemoryStore) Put(ctx context.Context, handle string, attempt models.AuthorizationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[handle] = entry{attempt: attempt, expiresAt: requestcontext.Now(ctx).Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) TakeAndClear(ctx context.Context, handle string) (*models.AuthorizationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.attempts[handle]
	if !ok {
		return nil, fmt.Errorf("pending attempt not found: %w", sentinel.ErrNotFound)
	}
	delete(s.attempts, handle)
	if !requestcontext.Now(ctx).Before(e.expiresAt) {
		return nil, fmt.Errorf("pending attempt not found: %w", sentinel.ErrNotFound)
	}
	attempt := e.attempt
	return &attempt, nil
}

// DeleteExpired drops attempts whose session window closed before now.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for handle, e := range s.attempts {
		if !now.Before(e.expiresAt) {
			delete(s.attempts, handle)
			deleted++
		}
	}
	return deleted, nil
}

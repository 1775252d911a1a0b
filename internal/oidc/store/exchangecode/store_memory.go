package exchangecode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rpgateway/internal/oidc/models"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/requestcontext"

	"github.com/google/uuid"
)

// Error Contract:
// - Redeem returns ErrNotFound for unknown, expired and already-redeemed codes alike
// - Issue returns ErrInvalidState for a non-positive ttl
// - Infrastructure failures are wrapped with context

// InMemoryStore keeps exchange codes in a map guarded by a mutex. Redeem
// deletes under the write lock, so concurrent redemptions of one code see
// exactly one success.
type InMemoryStore struct {
	mu    sync.Mutex
	codes map[string]models.ExchangeCodeEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{codes: make(map[string]models.ExchangeCodeEntry)}
}

// Issue mints a UUIDv4 code for userID valid for ttl from the request time.
func (s *InMemoryStore) Issue(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	if err := validateTTL(ttl); err != nil {
		return "", err
	}
	code, err := newCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = models.ExchangeCodeEntry{
		Code:      code,
		UserID:    userID,
		ExpiresAt: requestcontext.Now(ctx).Add(ttl),
	}
	return code, nil
}

// Redeem returns the bound user and removes the code.
func (s *InMemoryStore) Redeem(ctx context.Context, code string) (uuid.UUID, error) {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[code]
	if !ok {
		return uuid.Nil, fmt.Errorf("exchange code not found: %w", sentinel.ErrNotFound)
	}
	delete(s.codes, code)
	if entry.IsExpired(now) {
		return uuid.Nil, fmt.Errorf("exchange code not found: %w", sentinel.ErrNotFound)
	}
	return entry.UserID, nil
}

// DeleteExpired removes codes that expired as of now and reports how many.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for code, entry := range s.codes {
		if entry.IsExpired(now) {
			delete(s.codes, code)
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

func newCode() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate exchange code: %w", err)
	}
	return id.String(), nil
}

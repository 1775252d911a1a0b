package store

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"rpgateway/internal/user/models"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/requestcontext"

	"github.com/google/uuid"
)

// InMemoryStore keeps users in process memory. Refresh tokens are held in
// plaintext; use the SQL store when they must be protected at rest.
type InMemoryStore struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*models.User
	byIdentifier map[string]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:        make(map[uuid.UUID]*models.User),
		byIdentifier: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) Upsert(ctx context.Context, in models.UpsertInput) (*models.User, bool, error) {
	if in.Identifier == "" {
		return nil, false, fmt.Errorf("identifier is required")
	}
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byIdentifier[in.Identifier]; ok {
		u := s.users[id]
		u.Attributes = maps.Clone(in.Attributes)
		if in.RefreshToken != "" {
			u.RefreshToken = in.RefreshToken
		}
		u.UpdatedAt = now
		return cloneUser(u), false, nil
	}

	u := &models.User{
		ID:           uuid.New(),
		Identifier:   in.Identifier,
		RefreshToken: in.RefreshToken,
		Attributes:   maps.Clone(in.Attributes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.byIdentifier[u.Identifier] = u.ID
	return cloneUser(u), true, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *InMemoryStore) FindByIdentifier(_ context.Context, identifier string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdentifier[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *InMemoryStore) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	u.RefreshToken = ""
	u.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func cloneUser(u *models.User) *models.User {
	out := *u
	out.Attributes = maps.Clone(u.Attributes)
	return &out
}

package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"rpgateway/internal/oidc/models"
	usermodels "rpgateway/internal/user/models"
	"rpgateway/internal/user/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvers(t *testing.T) {
	claims := models.Claims{"sub": "u1", "email": "ada@example.com", "name": "", "age": float64(36)}

	v, ok := Claim("email")(claims)
	assert.True(t, ok)
	assert.Equal(t, "ada@example.com", v)

	_, ok = Claim("missing")(claims)
	assert.False(t, ok)

	v, ok = FirstOf("name", "email")(claims)
	assert.True(t, ok)
	assert.Equal(t, "ada@example.com", v, "empty name falls back to email")

	v, ok = Claim("age")(claims)
	assert.True(t, ok)
	assert.Equal(t, "36", v)

	_, ok = FirstOf("a", "b")(claims)
	assert.False(t, ok)
}

func TestFromSpec(t *testing.T) {
	resolvers, err := FromSpec(map[string]string{"name": "name|email", "email": " email "})
	require.NoError(t, err)

	v, ok := resolvers["name"](models.Claims{"email": "e@x"})
	assert.True(t, ok)
	assert.Equal(t, "e@x", v)

	v, ok = resolvers["email"](models.Claims{"email": "e@x"})
	assert.True(t, ok)
	assert.Equal(t, "e@x", v)

	_, err = FromSpec(map[string]string{"name": "|"})
	require.Error(t, err)
	_, err = FromSpec(map[string]string{"": "email"})
	require.Error(t, err)
}

func TestMapCreatesThenUpdates(t *testing.T) {
	users := store.NewInMemoryStore()
	m, err := NewMapper(Config{}, users)
	require.NoError(t, err)
	ctx := context.Background()

	u, created, err := m.Map(ctx, models.Claims{"sub": "u1", "name": "Ada", "email": "ada@example.com"}, "RT1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u1", u.Identifier)
	assert.Equal(t, map[string]string{"name": "Ada", "email": "ada@example.com"}, u.Attributes)
	assert.Equal(t, "RT1", u.RefreshToken)

	again, created, err := m.Map(ctx, models.Claims{"sub": "u1", "email": "ada@example.com"}, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "ada@example.com", again.Attribute("name"))
	assert.Equal(t, "RT1", again.RefreshToken)
}

func TestMapCustomIdentifierClaim(t *testing.T) {
	m, err := NewMapper(Config{IdentifierClaim: "preferred_username"}, store.NewInMemoryStore())
	require.NoError(t, err)

	u, _, err := m.Map(context.Background(), models.Claims{"sub": "ignored", "preferred_username": "ada"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Identifier)
}

func TestMapDistinguishesLargeNumericIdentifiers(t *testing.T) {
	users := store.NewInMemoryStore()
	m, err := NewMapper(Config{}, users)
	require.NoError(t, err)
	ctx := context.Background()

	first, created, err := m.Map(ctx, models.Claims{"sub": json.Number("9007199254740993")}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "9007199254740993", first.Identifier)

	second, created, err := m.Map(ctx, models.Claims{"sub": json.Number("9007199254740992")}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMapMissingIdentifier(t *testing.T) {
	m, err := NewMapper(Config{}, store.NewInMemoryStore())
	require.NoError(t, err)

	_, _, err = m.Map(context.Background(), models.Claims{"email": "x@y"}, "")
	assert.Equal(t, models.KindMissingClaim, models.KindOf(err))
}

type failingStore struct{}

func (failingStore) Upsert(context.Context, usermodels.UpsertInput) (*usermodels.User, bool, error) {
	return nil, false, errors.New("db down")
}

func TestMapStoreFailure(t *testing.T) {
	m, err := NewMapper(Config{}, failingStore{})
	require.NoError(t, err)

	_, _, err = m.Map(context.Background(), models.Claims{"sub": "u1"}, "")
	require.Error(t, err)
	assert.Equal(t, models.KindMappingFailed, models.KindOf(err))
	assert.ErrorContains(t, err, "db down")
}

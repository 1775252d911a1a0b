package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"rpgateway/internal/platform/config"
	"rpgateway/internal/platform/database"
	"rpgateway/internal/user/models"
	"rpgateway/pkg/platform/secretbox"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(context.Background(), config.Database{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "users.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRefreshTokenIsEncryptedAtRest(t *testing.T) {
	db := openSQLite(t)
	box, err := secretbox.New("k")
	require.NoError(t, err)
	store, err := NewSQLStore(db, SQLite, models.DefaultColumns(), box)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	_, _, err = store.Upsert(context.Background(), models.UpsertInput{Identifier: "u1", RefreshToken: "RT-secret"})
	require.NoError(t, err)

	var raw string
	require.NoError(t, db.QueryRow("SELECT auth_server_refresh_token FROM users").Scan(&raw))
	assert.NotContains(t, raw, "RT-secret")

	plain, err := box.Open(raw, "u1")
	require.NoError(t, err)
	assert.Equal(t, "RT-secret", plain)
}

func TestCustomColumns(t *testing.T) {
	db := openSQLite(t)
	box, err := secretbox.New("k")
	require.NoError(t, err)
	cols := models.Columns{Identifier: "keycloak_id", RefreshToken: "kc_refresh"}
	store, err := NewSQLStore(db, SQLite, cols, box)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	u, created, err := store.Upsert(context.Background(), models.UpsertInput{Identifier: "kc-1", RefreshToken: "RT"})
	require.NoError(t, err)
	assert.True(t, created)

	var ident string
	require.NoError(t, db.QueryRow("SELECT keycloak_id FROM users WHERE id = ?1", u.ID.String()).Scan(&ident))
	assert.Equal(t, "kc-1", ident)
}

func TestUpsertJoinsAmbientTransaction(t *testing.T) {
	db := openSQLite(t)
	box, err := secretbox.New("k")
	require.NoError(t, err)
	store, err := NewSQLStore(db, SQLite, models.DefaultColumns(), box)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	sqlTx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	ctx := tx.WithTx(context.Background(), sqlTx)

	_, created, err := store.Upsert(ctx, models.UpsertInput{Identifier: "u1"})
	require.NoError(t, err)
	assert.True(t, created)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, sqlTx.Rollback())
	n, err = store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunCommitsStoreWrites(t *testing.T) {
	db := openSQLite(t)
	box, err := secretbox.New("k")
	require.NoError(t, err)
	store, err := NewSQLStore(db, SQLite, models.DefaultColumns(), box)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	err = tx.Run(context.Background(), db, func(ctx context.Context) error {
		u, _, err := store.Upsert(ctx, models.UpsertInput{Identifier: "u1", RefreshToken: "RT"})
		if err != nil {
			return err
		}
		return store.ClearRefreshToken(ctx, u.ID)
	})
	require.NoError(t, err)

	u, err := store.FindByIdentifier(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, u.HasRefreshToken())

	err = tx.Run(context.Background(), db, func(ctx context.Context) error {
		return store.ClearRefreshToken(ctx, uuid.New())
	})
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestNewSQLStoreRejectsUnsafeColumns(t *testing.T) {
	box, err := secretbox.New("k")
	require.NoError(t, err)
	_, err = NewSQLStore(openSQLite(t), SQLite, models.Columns{Identifier: "sub; --", RefreshToken: "rt"}, box)
	require.Error(t, err)
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "$3", d.placeholder(3))

	d, err = DialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "?3", d.placeholder(3))

	_, err = DialectFor("memory")
	require.Error(t, err)
}

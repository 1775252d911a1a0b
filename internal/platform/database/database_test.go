package database

import (
	"context"
	"path/filepath"
	"testing"

	"rpgateway/internal/platform/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryReturnsNil(t *testing.T) {
	db, err := Open(context.Background(), config.Database{Driver: "memory"})
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	db, err := Open(context.Background(), config.Database{Driver: "sqlite", DSN: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Database{Driver: "mysql"})
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "data/users.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", SQLiteDSN("data/users.db"))
	assert.Equal(t, "file::memory:?cache=shared", SQLiteDSN("file::memory:?cache=shared"))
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"rpgateway/internal/platform/config"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the configured SQL database and verifies the connection.
// The memory driver has no database and returns nil.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "memory", "":
		return nil, nil
	case "postgres":
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
		db.SetConnMaxLifetime(30 * time.Minute)
	case "sqlite":
		db, err = sql.Open("sqlite", SQLiteDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent upserts.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// SQLiteDSN turns a file path into a DSN with WAL and a busy timeout. Values
// that already carry query parameters are returned unchanged.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") || strings.HasPrefix(path, "file:") {
		return path
	}
	return filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

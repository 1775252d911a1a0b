package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rpgateway/internal/user/models"
	"rpgateway/pkg/platform/secretbox"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/platform/tx"
	"rpgateway/pkg/requestcontext"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var upsertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rpgateway_user_upsert_duration_ms",
	Help:    "Latency of user upserts by dialect in milliseconds",
	Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250},
}, []string{"dialect"})

// SQLStore persists users in a relational table named users. The identifier
// and refresh-token column names are configurable; refresh tokens are sealed
// with the secret box and bound to the row's identifier.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	cols    models.Columns
	box     *secretbox.Box

	upsertQuery string
	selectCols  string
}

// dbtx is the subset of *sql.DB and *sql.Tx the store needs.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLStore(db *sql.DB, dialect Dialect, cols models.Columns, box *secretbox.Box) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if box == nil {
		return nil, errors.New("secret box is required")
	}
	if !cols.Valid() {
		return nil, fmt.Errorf("invalid user columns %q, %q", cols.Identifier, cols.RefreshToken)
	}
	s := &SQLStore{db: db, dialect: dialect, cols: cols, box: box}
	s.selectCols = fmt.Sprintf("id, %s, %s, attributes, created_at, updated_at", cols.Identifier, cols.RefreshToken)
	s.upsertQuery = fmt.Sprintf(`
		INSERT INTO users (id, %[1]s, %[2]s, attributes, created_at, updated_at)
		VALUES (%[3]s, %[4]s, %[5]s, %[6]s, %[7]s, %[7]s)
		ON CONFLICT (%[1]s) DO UPDATE SET
			attributes = excluded.attributes,
			%[2]s = COALESCE(excluded.%[2]s, users.%[2]s),
			updated_at = excluded.updated_at
		RETURNING %[8]s`,
		cols.Identifier, cols.RefreshToken,
		dialect.placeholder(1), dialect.placeholder(2), dialect.placeholder(3),
		dialect.placeholder(4), dialect.placeholder(5),
		s.selectCols,
	)
	return s, nil
}

// Migrate creates the users table when it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS users (
			id %[3]s PRIMARY KEY,
			%[1]s TEXT NOT NULL UNIQUE,
			%[2]s TEXT,
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at %[4]s NOT NULL,
			updated_at %[4]s NOT NULL
		)`, s.cols.Identifier, s.cols.RefreshToken, s.dialect.uuidType, s.dialect.timeType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

// Upsert inserts or updates the user keyed by identifier. created is true
// only for the call that inserted the row.
func (s *SQLStore) Upsert(ctx context.Context, in models.UpsertInput) (*models.User, bool, error) {
	if in.Identifier == "" {
		return nil, false, fmt.Errorf("identifier is required")
	}
	start := time.Now()
	defer func() {
		upsertDuration.WithLabelValues(s.dialect.Name).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	attrs, err := json.Marshal(nonNil(in.Attributes))
	if err != nil {
		return nil, false, fmt.Errorf("encode attributes: %w", err)
	}
	var refresh any
	if in.RefreshToken != "" {
		sealed, err := s.box.Seal(in.RefreshToken, in.Identifier)
		if err != nil {
			return nil, false, fmt.Errorf("seal refresh token: %w", err)
		}
		refresh = sealed
	}

	newID := uuid.New()
	now := s.dialect.encodeTime(requestcontext.Now(ctx))
	row := s.conn(ctx).QueryRowContext(ctx, s.upsertQuery, newID.String(), in.Identifier, refresh, string(attrs), now)
	u, err := s.scan(row)
	if err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}
	return u, u.ID == newID, nil
}

func (s *SQLStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = %s", s.selectCols, s.dialect.placeholder(1))
	u, err := s.scan(s.conn(ctx).QueryRowContext(ctx, query, id.String()))
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

func (s *SQLStore) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s = %s", s.selectCols, s.cols.Identifier, s.dialect.placeholder(1))
	u, err := s.scan(s.conn(ctx).QueryRowContext(ctx, query, identifier))
	if err != nil {
		return nil, fmt.Errorf("find user by identifier: %w", err)
	}
	return u, nil
}

func (s *SQLStore) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf("UPDATE users SET %s = NULL, updated_at = %s WHERE id = %s",
		s.cols.RefreshToken, s.dialect.placeholder(1), s.dialect.placeholder(2))
	res, err := s.conn(ctx).ExecContext(ctx, query, s.dialect.encodeTime(requestcontext.Now(ctx)), id.String())
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// conn returns the transaction carried by ctx, if any, so callers can group
// store calls with their own writes.
func (s *SQLStore) conn(ctx context.Context) dbtx {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *SQLStore) scan(row *sql.Row) (*models.User, error) {
	var (
		rawID     string
		u         models.User
		refresh   sql.NullString
		attrs     string
		createdAt dbTime
		updatedAt dbTime
	)
	if err := row.Scan(&rawID, &u.Identifier, &refresh, &attrs, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	if err := json.Unmarshal([]byte(attrs), &u.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if refresh.Valid && strings.TrimSpace(refresh.String) != "" {
		plain, err := s.box.Open(refresh.String, u.Identifier)
		if err != nil {
			return nil, fmt.Errorf("open refresh token: %w", err)
		}
		u.RefreshToken = plain
	}
	return &u, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

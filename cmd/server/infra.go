package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rpgateway/internal/oidc/mapping"
	"rpgateway/internal/oidc/service"
	"rpgateway/internal/oidc/store/exchangecode"
	"rpgateway/internal/oidc/store/pending"
	"rpgateway/internal/oidc/store/revocation"
	"rpgateway/internal/platform/config"
	"rpgateway/internal/platform/database"
	"rpgateway/internal/platform/redis"
	usermodels "rpgateway/internal/user/models"
	userstore "rpgateway/internal/user/store"
	"rpgateway/pkg/platform/audit"
	"rpgateway/pkg/platform/audit/publisher"
	auditkafka "rpgateway/pkg/platform/audit/store/kafka"
	auditmemory "rpgateway/pkg/platform/audit/store/memory"
	"rpgateway/pkg/platform/secretbox"
)

type userStore interface {
	mapping.UserStore
	service.UserStore
}

type revocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// sweeper drops expired entries from an in-memory store.
type sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// infra holds the backends selected by configuration. Redis, when set,
// backs pending attempts, exchange codes and revoked tokens; otherwise they
// live in process and are swept periodically.
type infra struct {
	redis *redis.Client
	db    *sql.DB
	kafka *auditkafka.Store

	users         userStore
	pending       service.PendingStore
	exchangeCodes service.ExchangeCodeStore
	revocations   revocationList
	audit         *publisher.Publisher
	sweepers      []sweeper
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *infra, err error) {
	in := &infra{}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	in.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if in.redis != nil {
		in.pending = pending.NewRedisStore(in.redis.Client, cfg.Session.TTL)
		in.exchangeCodes = exchangecode.NewRedisStore(in.redis.Client)
		in.revocations = revocation.NewRedisTRL(in.redis.Client)
	} else {
		p := pending.NewInMemoryStore(cfg.Session.TTL)
		c := exchangecode.NewInMemoryStore()
		t := revocation.NewInMemoryTRL()
		in.pending, in.exchangeCodes, in.revocations = p, c, t
		in.sweepers = []sweeper{p, c, t}
	}

	in.db, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if in.db == nil {
		in.users = userstore.NewInMemoryStore()
	} else {
		dialect, err := userstore.DialectFor(cfg.Database.Driver)
		if err != nil {
			return nil, err
		}
		box, err := secretbox.New(cfg.Database.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("OIDC_TOKEN_ENCRYPTION_KEY: %w", err)
		}
		cols := usermodels.Columns{
			Identifier:   cfg.Mapping.IdentifierColumn,
			RefreshToken: cfg.Mapping.RefreshTokenColumn,
		}
		sqlStore, err := userstore.NewSQLStore(in.db, dialect, cols, box)
		if err != nil {
			return nil, err
		}
		if err := sqlStore.Migrate(ctx); err != nil {
			return nil, err
		}
		in.users = sqlStore
	}

	var auditStore audit.Store
	if len(cfg.Audit.KafkaBrokers) > 0 {
		in.kafka, err = auditkafka.New(ctx, cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, err
		}
		auditStore = in.kafka
	} else {
		auditStore = auditmemory.NewInMemoryStore()
	}
	in.audit = publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithLogger(log),
	)
	return in, nil
}

// Health pings the external backends that are configured.
func (in *infra) Health(ctx context.Context) error {
	var errs []error
	if in.redis != nil {
		if err := in.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if in.db != nil {
		if err := in.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close drains the audit buffer before closing the backends it writes to.
func (in *infra) Close() {
	if in.audit != nil {
		in.audit.Close()
	}
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
}

func runSweeper(ctx context.Context, sweepers []sweeper, every time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := 0
			for _, s := range sweepers {
				n, err := s.DeleteExpired(ctx, now)
				if err != nil {
					log.WarnContext(ctx, "sweep failed", "error", err)
					continue
				}
				removed += n
			}
			if removed > 0 {
				log.DebugContext(ctx, "swept expired entries", "removed", removed)
			}
		}
	}
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jwttoken "rpgateway/internal/jwt_token"
	"rpgateway/internal/oidc/metrics"
	"rpgateway/internal/oidc/models"
	"rpgateway/internal/oidc/pkce"
	"rpgateway/internal/oidc/provider"
	usermodels "rpgateway/internal/user/models"
	"rpgateway/pkg/platform/audit"

	"github.com/google/uuid"
)

type PendingStore interface {
	Put(ctx context.Context, handle string, attempt models.AuthorizationAttempt) error
	TakeAndClear(ctx context.Context, handle string) (*models.AuthorizationAttempt, error)
}

type ExchangeCodeStore interface {
	Issue(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, code string) (uuid.UUID, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*usermodels.User, error)
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
}

// TokenRevocationList blocks session tokens after local logout.
type TokenRevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

type TokenExchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (*models.TokenSet, error)
}

type UserInfoFetcher interface {
	Fetch(ctx context.Context, accessToken string) (models.Claims, error)
}

type RefreshTokenRevoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

type IdentityMapper interface {
	Map(ctx context.Context, claims models.Claims, refreshToken string) (*usermodels.User, bool, error)
}

type SessionTokenIssuer interface {
	Issue(userID uuid.UUID) (*jwttoken.IssuedToken, error)
}

// TxRunner groups the callback's user write with the handoff so a failed
// handoff leaves no partial login behind.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config holds the values the flow needs beyond its collaborators.
type Config struct {
	Provider        provider.Config
	FrontendURL     string
	CallbackPath    string
	ExchangeCodeTTL time.Duration
}

// Stores groups the persistence collaborators.
type Stores struct {
	Pending       PendingStore
	ExchangeCodes ExchangeCodeStore
	Users         UserStore
	Revocations   TokenRevocationList
}

// Clients groups the calls made to the authorization server.
type Clients struct {
	Token    TokenExchanger
	UserInfo UserInfoFetcher
	Revoker  RefreshTokenRevoker
}

// Service runs the authorization code flow: it starts attempts, drives the
// callback through token exchange, userinfo and identity mapping, and hands
// the result to the frontend through a one-time exchange code.
type Service struct {
	cfg     Config
	stores  Stores
	clients Clients
	mapper  IdentityMapper
	tokens  SessionTokenIssuer

	pkce    pkce.Generator
	tx      TxRunner
	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTxRunner(r TxRunner) Option {
	return func(s *Service) {
		s.tx = r
	}
}

// WithPKCEGenerator replaces the random source for state and verifier.
func WithPKCEGenerator(g pkce.Generator) Option {
	return func(s *Service) {
		s.pkce = g
	}
}

func New(cfg Config, stores Stores, clients Clients, mapper IdentityMapper, tokens SessionTokenIssuer, opts ...Option) (*Service, error) {
	var errs []error
	if stores.Pending == nil || stores.ExchangeCodes == nil || stores.Users == nil {
		errs = append(errs, errors.New("pending, exchange code and user stores are required"))
	}
	if clients.Token == nil || clients.UserInfo == nil || clients.Revoker == nil {
		errs = append(errs, errors.New("token, userinfo and revocation clients are required"))
	}
	if mapper == nil {
		errs = append(errs, errors.New("identity mapper is required"))
	}
	if tokens == nil {
		errs = append(errs, errors.New("session token issuer is required"))
	}
	if cfg.ExchangeCodeTTL <= 0 {
		errs = append(errs, errors.New("exchange code ttl must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback"
	}

	s := &Service{
		cfg:     cfg,
		stores:  stores,
		clients: clients,
		mapper:  mapper,
		tokens:  tokens,
		tx:      noTx{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

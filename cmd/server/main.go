package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jwttoken "rpgateway/internal/jwt_token"
	"rpgateway/internal/oidc/handler"
	"rpgateway/internal/oidc/mapping"
	oidcmetrics "rpgateway/internal/oidc/metrics"
	"rpgateway/internal/oidc/provider"
	"rpgateway/internal/oidc/service"
	"rpgateway/internal/platform/config"
	"rpgateway/internal/platform/httpserver"
	"rpgateway/internal/platform/logger"
	"rpgateway/internal/platform/metrics"
	"rpgateway/internal/platform/middleware"
	"rpgateway/pkg/platform/httputil"
	authmw "rpgateway/pkg/platform/middleware/auth"
	"rpgateway/pkg/platform/middleware/device"
	"rpgateway/pkg/platform/middleware/metadata"
	"rpgateway/pkg/platform/middleware/requesttime"
	"rpgateway/pkg/platform/tx"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Login logic lives in internal/oidc.
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	backends, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	reg := prometheus.DefaultRegisterer
	httpMetrics := metrics.New(reg)
	oidcMetrics := oidcmetrics.New(reg)

	providerCfg := providerConfig(cfg)
	if budget := providerCfg.CallbackBudget(); cfg.Server.RequestTimeout < budget {
		log.WarnContext(ctx, "request timeout cuts provider retries short",
			"request_timeout", cfg.Server.RequestTimeout.String(),
			"provider_budget", budget.String(),
		)
	}
	clientOpts := []provider.Option{
		provider.WithLogger(log),
		provider.WithTracerProvider(otel.GetTracerProvider()),
	}

	attributes, err := mapping.FromSpec(cfg.Mapping.Attributes)
	if err != nil {
		return fmt.Errorf("OIDC_USER_ATTRIBUTES: %w", err)
	}
	mapper, err := mapping.NewMapper(mapping.Config{
		IdentifierClaim: cfg.Mapping.IdentifierClaim,
		Attributes:      attributes,
	}, backends.users)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.TokenTTL)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithAuditPublisher(backends.audit),
		service.WithMetrics(oidcMetrics),
	}
	if backends.db != nil {
		svcOpts = append(svcOpts, service.WithTxRunner(tx.NewRunner(backends.db)))
	}

	svc, err := service.New(
		service.Config{
			Provider:        providerCfg,
			FrontendURL:     cfg.Frontend.URL,
			CallbackPath:    cfg.Frontend.CallbackPath,
			ExchangeCodeTTL: cfg.Mapping.ExchangeCodeTTL,
		},
		service.Stores{
			Pending:       backends.pending,
			ExchangeCodes: backends.exchangeCodes,
			Users:         backends.users,
			Revocations:   backends.revocations,
		},
		service.Clients{
			Token:    provider.NewTokenClient(providerCfg, clientOpts...),
			UserInfo: provider.NewUserInfoClient(providerCfg, clientOpts...),
			Revoker:  provider.NewRevocationClient(providerCfg, clientOpts...),
		},
		mapper,
		jwtService,
		svcOpts...,
	)
	if err != nil {
		return fmt.Errorf("oidc service: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(device.Middleware)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := backends.Health(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	requireAuth := authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), backends.revocations, log)
	handler.New(svc, handler.Config{
		WebPrefix:    cfg.Server.WebPrefix,
		APIPrefix:    cfg.Server.APIPrefix,
		CookieName:   cfg.Session.CookieName,
		SessionTTL:   cfg.Session.TTL,
		SecureCookie: cfg.Session.SecureCookie,
	}, log, httpMetrics, requireAuth).Register(r)

	srv := httpserver.New(cfg.Server, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting rpgateway", "addr", cfg.Server.Addr, "db_driver", cfg.Database.Driver, "redis", backends.redis != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if len(backends.sweepers) > 0 {
		g.Go(func() error {
			runSweeper(gctx, backends.sweepers, time.Minute, log)
			return nil
		})
	}
	return g.Wait()
}

func providerConfig(cfg config.Config) provider.Config {
	p := cfg.Provider
	return provider.Config{
		ClientID:        p.ClientID,
		ClientSecret:    p.ClientSecret,
		RedirectURI:     p.RedirectURI,
		Scopes:          p.Scopes,
		AuthorizeURL:    p.Endpoint(p.AuthorizePath),
		TokenURL:        p.Endpoint(p.TokenPath),
		UserInfoURL:     p.Endpoint(p.UserInfoPath),
		RevokeURL:       p.Endpoint(p.RevokePath),
		LogoutURL:       p.Endpoint(p.LogoutPath),
		Timeout:         cfg.HTTP.Timeout,
		RetryTimes:      cfg.HTTP.RetryTimes,
		RetryDelay:      cfg.HTTP.RetryDelay,
		IdentifierClaim: cfg.Mapping.IdentifierClaim,
	}
}

package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	jwttoken "rpgateway/internal/jwt_token"
	"rpgateway/internal/oidc/handler"
	"rpgateway/internal/oidc/mapping"
	"rpgateway/internal/oidc/pkce"
	"rpgateway/internal/oidc/provider"
	"rpgateway/internal/oidc/service"
	"rpgateway/internal/oidc/store/exchangecode"
	"rpgateway/internal/oidc/store/pending"
	"rpgateway/internal/oidc/store/revocation"
	"rpgateway/internal/platform/config"
	"rpgateway/internal/platform/database"
	"rpgateway/internal/platform/middleware"
	usermodels "rpgateway/internal/user/models"
	userstore "rpgateway/internal/user/store"
	authmw "rpgateway/pkg/platform/middleware/auth"
	"rpgateway/pkg/platform/secretbox"
	"rpgateway/pkg/platform/tx"
	"rpgateway/pkg/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// authServer is a minimal authorization server that checks PKCE.
type authServer struct {
	srv *httptest.Server

	mu         sync.Mutex
	challenge  string
	revoked    []string
	tokenCalls int
}

func newAuthServer(t *testing.T) *authServer {
	as := &authServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		as.mu.Lock()
		challenge := as.challenge
		as.tokenCalls++
		as.mu.Unlock()
		if r.PostForm.Get("code") != "provider-code" || pkce.Challenge(r.PostForm.Get("code_verifier")) != challenge {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /api/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer AT1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"u1","email":"a@b.com"}`))
	})
	mux.HandleFunc("POST /oauth/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		as.mu.Lock()
		as.revoked = append(as.revoked, r.PostForm.Get("token"))
		as.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	as.srv = httptest.NewServer(mux)
	t.Cleanup(as.srv.Close)
	return as
}

func (as *authServer) setChallenge(c string) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.challenge = c
}

func (as *authServer) revokedTokens() []string {
	as.mu.Lock()
	defer as.mu.Unlock()
	return append([]string(nil), as.revoked...)
}

type gateway struct {
	router http.Handler
	users  *userstore.SQLStore
	jwt    *jwttoken.JWTService
}

func newGateway(t *testing.T, as *authServer) *gateway {
	t.Helper()
	return newGatewayWithCodes(t, as, exchangecode.NewInMemoryStore())
}

func newGatewayWithCodes(t *testing.T, as *authServer, codes service.ExchangeCodeStore) *gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.Open(context.Background(), config.Database{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "users.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	box, err := secretbox.New("e2e-key")
	require.NoError(t, err)
	users, err := userstore.NewSQLStore(db, userstore.SQLite, usermodels.DefaultColumns(), box)
	require.NoError(t, err)
	require.NoError(t, users.Migrate(context.Background()))

	pcfg := provider.Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "https://app.example.com/auth/callback",
		Scopes:       []string{"openid", "profile", "email"},
		AuthorizeURL: as.srv.URL + "/oauth/authorize",
		TokenURL:     as.srv.URL + "/oauth/token",
		UserInfoURL:  as.srv.URL + "/api/oauth/userinfo",
		RevokeURL:    as.srv.URL + "/oauth/revoke",
		LogoutURL:    as.srv.URL + "/oauth/logout",
		Timeout:      2 * time.Second,
		RetryTimes:   0,
	}
	mapper, err := mapping.NewMapper(mapping.Config{IdentifierClaim: "sub"}, users)
	require.NoError(t, err)

	jwt := jwttoken.NewJWTService("e2e-signing-key", "rpgateway", time.Hour)
	trl := revocation.NewInMemoryTRL()

	svc, err := service.New(
		service.Config{
			Provider:        pcfg,
			FrontendURL:     "https://spa.example.com",
			CallbackPath:    "/callback",
			ExchangeCodeTTL: 5 * time.Minute,
		},
		service.Stores{
			Pending:       pending.NewInMemoryStore(10 * time.Minute),
			ExchangeCodes: codes,
			Users:         users,
			Revocations:   trl,
		},
		service.Clients{
			Token:    provider.NewTokenClient(pcfg),
			UserInfo: provider.NewUserInfoClient(pcfg),
			Revoker:  provider.NewRevocationClient(pcfg),
		},
		mapper,
		jwt,
		service.WithLogger(logger),
		service.WithTxRunner(tx.NewRunner(db)),
	)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	requireAuth := authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwt), trl, logger)
	handler.New(svc, handler.Config{SessionTTL: 10 * time.Minute}, logger, nil, requireAuth).Register(r)

	return &gateway{router: r, users: users, jwt: jwt}
}

type exchangeBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		User        struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	} `json:"data"`
}

func TestLoginFlowEndToEnd(t *testing.T) {
	as := newAuthServer(t)
	gw := newGateway(t, as)

	var (
		session      *http.Cookie
		state        string
		exchangeCode string
		sessionToken string
	)

	testutil.Given(t, "a browser starting a login", func(t *testing.T) {
		rr := testutil.DoRequest(gw.router, httptest.NewRequest(http.MethodGet, "/auth/redirect", nil))
		loc := testutil.RedirectQuery(t, rr)
		q := loc.Query()

		assert.Equal(t, as.srv.URL+"/oauth/authorize", loc.Scheme+"://"+loc.Host+loc.Path)
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.Len(t, q.Get("state"), 43)

		state = q.Get("state")
		as.setChallenge(q.Get("code_challenge"))
		session = testutil.Cookie(rr, "oidc_session")
		require.NotNil(t, session)
	})

	testutil.When(t, "the provider calls back with a matching state", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/auth/callback?code=provider-code&state="+url.QueryEscape(state), nil)
		req.AddCookie(session)
		rr := testutil.DoRequest(gw.router, req)

		loc := testutil.RedirectQuery(t, rr)
		assert.Equal(t, "https://spa.example.com/callback", loc.Scheme+"://"+loc.Host+loc.Path)
		assert.Empty(t, loc.Query().Get("error"))
		exchangeCode = loc.Query().Get("code")
		require.Len(t, exchangeCode, 36)
	})

	testutil.Then(t, "the local user exists with the refresh token", func(t *testing.T) {
		u, err := gw.users.FindByIdentifier(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", u.Attribute("email"))
		assert.Equal(t, "RT1", u.RefreshToken)
	})

	testutil.Then(t, "the exchange code yields a session token exactly once", func(t *testing.T) {
		rr := testutil.DoRequest(gw.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/auth/exchange",
			map[string]string{"code": exchangeCode}))
		testutil.AssertStatus(t, rr, http.StatusOK)
		body := testutil.UnmarshalResponse[exchangeBody](t, rr)
		assert.True(t, body.Success)
		assert.Equal(t, "Bearer", body.Data.TokenType)
		assert.Equal(t, "a@b.com", body.Data.User.Email)

		claims, err := gw.jwt.ValidateToken(body.Data.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, body.Data.User.ID, claims.Subject)
		sessionToken = body.Data.AccessToken

		rr = testutil.DoRequest(gw.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/auth/exchange",
			map[string]string{"code": exchangeCode}))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
		again := testutil.UnmarshalResponse[exchangeBody](t, rr)
		assert.False(t, again.Success)
		assert.Equal(t, "Invalid or expired exchange code", again.Message)
	})

	testutil.Then(t, "logout revokes the provider token and the session token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+sessionToken)
		rr := testutil.DoRequest(gw.router, req)
		testutil.AssertStatus(t, rr, http.StatusOK)

		var body struct {
			Data struct {
				Revoked   bool   `json:"revoked"`
				LogoutURL string `json:"logout_url"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.True(t, body.Data.Revoked)
		assert.Contains(t, body.Data.LogoutURL, "/oauth/logout?post_logout_redirect_uri=")
		assert.Equal(t, []string{"RT1"}, as.revokedTokens())

		me := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		me.Header.Set("Authorization", "Bearer "+sessionToken)
		testutil.AssertStatusAndError(t, testutil.DoRequest(gw.router, me), http.StatusUnauthorized, "unauthorized")
	})
}

func TestCallbackWithoutSessionIsForbidden(t *testing.T) {
	gw := newGateway(t, newAuthServer(t))

	rr := testutil.DoRequest(gw.router,
		httptest.NewRequest(http.MethodGet, "/auth/callback?code=provider-code&state=guess", nil))

	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "invalid_state")
}

func TestCallbackWithProviderErrorSkipsTokenExchange(t *testing.T) {
	as := newAuthServer(t)
	gw := newGateway(t, as)

	rr := testutil.DoRequest(gw.router, httptest.NewRequest(http.MethodGet, "/auth/redirect", nil))
	session := testutil.Cookie(rr, "oidc_session")
	require.NotNil(t, session)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?error=totally_custom&error_description=%3Cb%3Ehi%3C%2Fb%3E", nil)
	req.AddCookie(session)
	loc := testutil.RedirectQuery(t, testutil.DoRequest(gw.router, req))

	assert.Equal(t, "unknown_error", loc.Query().Get("error"))
	assert.NotContains(t, loc.Query().Get("error_description"), "<b>")

	as.mu.Lock()
	defer as.mu.Unlock()
	assert.Zero(t, as.tokenCalls)
}

type unavailableCodes struct{}

func (unavailableCodes) Issue(context.Context, uuid.UUID, time.Duration) (string, error) {
	return "", errors.New("code store unavailable")
}

func (unavailableCodes) Redeem(context.Context, string) (uuid.UUID, error) {
	return uuid.Nil, errors.New("code store unavailable")
}

func TestFailedHandoffLeavesNoUser(t *testing.T) {
	as := newAuthServer(t)
	gw := newGatewayWithCodes(t, as, unavailableCodes{})

	rr := testutil.DoRequest(gw.router, httptest.NewRequest(http.MethodGet, "/auth/redirect", nil))
	session := testutil.Cookie(rr, "oidc_session")
	require.NotNil(t, session)
	q := testutil.RedirectQuery(t, rr).Query()
	as.setChallenge(q.Get("code_challenge"))

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=provider-code&state="+url.QueryEscape(q.Get("state")), nil)
	req.AddCookie(session)
	loc := testutil.RedirectQuery(t, testutil.DoRequest(gw.router, req))
	assert.Equal(t, "auth_failed", loc.Query().Get("error"))

	n, err := gw.users.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "user write is rolled back with the failed handoff")
}

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rpgateway/pkg/requestcontext"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return v.claims, v.err
}

type stubRevocations struct {
	revoked bool
	err     error
}

func (r stubRevocations) IsTokenRevoked(context.Context, string) (bool, error) {
	return r.revoked, r.err
}

func serve(t *testing.T, v JWTValidator, rc TokenRevocationChecker, header string) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	var seen context.Context
	h := RequireAuth(v, rc, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.Context()
			w.WriteHeader(http.StatusNoContent)
		}))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireAuth(t *testing.T) {
	userID := uuid.New()
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := stubValidator{claims: &JWTClaims{UserID: userID.String(), JTI: "jti-1", ExpiresAt: exp}}

	t.Run("valid token populates context", func(t *testing.T) {
		rec, ctx := serve(t, valid, stubRevocations{}, "Bearer tok")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, userID, requestcontext.UserID(ctx))
		assert.Equal(t, "jti-1", requestcontext.TokenID(ctx))
		assert.Equal(t, exp, requestcontext.TokenExpiry(ctx))
	})

	t.Run("missing header", func(t *testing.T) {
		rec, _ := serve(t, valid, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`, rec.Body.String())
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec, _ := serve(t, valid, nil, "Basic abc")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec, _ := serve(t, stubValidator{err: errors.New("bad")}, nil, "Bearer tok")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("revoked token", func(t *testing.T) {
		rec, _ := serve(t, valid, stubRevocations{revoked: true}, "Bearer tok")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Token has been revoked")
	})

	t.Run("revocation lookup failure", func(t *testing.T) {
		rec, _ := serve(t, valid, stubRevocations{err: errors.New("redis down")}, "Bearer tok")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("missing jti with revocation checks", func(t *testing.T) {
		noJTI := stubValidator{claims: &JWTClaims{UserID: userID.String()}}
		rec, _ := serve(t, noJTI, stubRevocations{}, "Bearer tok")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

package testutil

import (
	"net/http"
	"time"

	"rpgateway/pkg/requestcontext"

	"github.com/google/uuid"
)

// WithUserID adds a user ID to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If the userID is not a valid UUID, it will not be added to the context.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsed, err := uuid.Parse(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
	}
	return req
}

// WithSessionToken adds the session token's jti and expiry, as the auth
// middleware does after validating a bearer token.
func WithSessionToken(req *http.Request, jti string, expiresAt time.Time) *http.Request {
	ctx := requestcontext.WithTokenID(req.Context(), jti)
	ctx = requestcontext.WithTokenExpiry(ctx, expiresAt)
	return req.WithContext(ctx)
}

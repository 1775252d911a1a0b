package models

import (
	"encoding/json"
	"time"

	usermodels "rpgateway/internal/user/models"

	"github.com/google/uuid"
)

// AuthorizationAttempt is the {state, verifier} pair for one login attempt.
// It lives only in the pending store and is read at most once.
type AuthorizationAttempt struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenSet is the decoded token endpoint response. Only RefreshToken is ever persisted.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	Extra        map[string]any
}

// Claims is the userinfo response body.
type Claims map[string]any

// String returns the claim as a string. Numbers and booleans are formatted,
// json.Number verbatim. Objects, arrays and null report false.
func (c Claims) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number, float64, bool, int, int64:
		return formatScalar(t), true
	default:
		return "", false
	}
}

// ExchangeCodeEntry binds a one-time code to a local user until ExpiresAt.
type ExchangeCodeEntry struct {
	Code      string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// IsExpired reports whether the entry is unusable at now.
func (e ExchangeCodeEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// AuthorizationRequest is what the browser needs to start a login.
type AuthorizationRequest struct {
	URL   string
	State string
}

// CallbackParams are the query parameters the provider sends back.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult tells the transport where to send the browser.
// Exactly one of ExchangeCode or ErrorCode is set, unless Forbidden is true.
type CallbackResult struct {
	RedirectURL  string
	ExchangeCode string
	ErrorCode    string
	ErrorMessage string
	// Forbidden marks a state mismatch, which gets a 403 instead of a redirect.
	Forbidden bool
	UserID    uuid.UUID
	NewUser   bool
}

// LogoutResult is returned from a local logout.
type LogoutResult struct {
	Revoked   bool   `json:"revoked"`
	LogoutURL string `json:"logout_url"`
}

// ExchangeResult is the session handed to the frontend for a redeemed code.
type ExchangeResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
	User        *usermodels.User
}

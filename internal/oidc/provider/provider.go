// Package provider talks to the external authorization server: building the
// authorize and logout URLs, exchanging codes, fetching userinfo and revoking
// refresh tokens.
package provider

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "rpgateway/internal/oidc/provider"
	// userInfoTimeoutFloor keeps the userinfo budget usable when the token
	// timeout is configured low.
	userInfoTimeoutFloor = 5 * time.Second
	maxResponseBytes     = 1 << 20
)

// Config is the client registration plus endpoint URLs and the HTTP budget.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	RevokeURL    string
	LogoutURL    string

	Timeout    time.Duration
	RetryTimes int
	RetryDelay time.Duration

	IdentifierClaim string
}

// UserInfoTimeout is Timeout minus five seconds, but never below five seconds.
func (c Config) UserInfoTimeout() time.Duration {
	return max(userInfoTimeoutFloor, c.Timeout-5*time.Second)
}

// CallbackBudget is the longest a callback can spend on the provider: every
// token and userinfo attempt timing out, with the retry delay between them.
func (c Config) CallbackBudget() time.Duration {
	attempts := time.Duration(1 + max(c.RetryTimes, 0))
	delays := 2 * (attempts - 1) * c.RetryDelay
	return attempts*(c.Timeout+c.UserInfoTimeout()) + delays
}

// AuthorizeRequestURL builds the authorization request URL with the PKCE challenge.
func (c Config) AuthorizeRequestURL(state, codeChallenge string) string {
	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(c.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	return appendQuery(c.AuthorizeURL, q)
}

// LogoutRequestURL builds the provider's end-session URL returning to frontendURL.
func (c Config) LogoutRequestURL(frontendURL string) string {
	q := url.Values{}
	q.Set("post_logout_redirect_uri", frontendURL)
	return appendQuery(c.LogoutURL, q)
}

func appendQuery(base string, q url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

type Option func(*options)

// WithHTTPClient replaces the default client. Per-call timeouts are applied
// through the request context, not the client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{},
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

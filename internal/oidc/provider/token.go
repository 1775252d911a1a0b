package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"rpgateway/internal/oidc/models"
)

// TokenClient exchanges an authorization code for tokens.
type TokenClient struct {
	cfg Config
	rt  roundTripper
}

func NewTokenClient(cfg Config, opts ...Option) *TokenClient {
	o := buildOptions(opts)
	return &TokenClient{cfg: cfg, rt: roundTripper{opts: o, retryTimes: cfg.RetryTimes, retryDelay: cfg.RetryDelay}}
}

// Exchange posts the authorization_code grant. Errors are *models.FlowError
// of kind ServerUnreachable, TokenExchangeFailed or MalformedResponse.
func (c *TokenClient) Exchange(ctx context.Context, code, codeVerifier string) (*models.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code", code)
	form.Set("code_verifier", codeVerifier)
	encoded := form.Encode()

	resp, err := c.rt.send(ctx, "token", c.cfg.Timeout, c.rt.retryTimes, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, &models.FlowError{Kind: models.KindServerUnreachable, Code: models.CodeServerUnreachable, Err: err}
	}
	if !resp.ok() {
		return nil, &models.FlowError{
			Kind:   models.KindTokenExchangeFailed,
			Code:   models.CodeTokenExchangeFailed,
			Status: resp.status,
			Detail: resp.describe(),
		}
	}
	return parseTokenSet(resp)
}

func parseTokenSet(resp *response) (*models.TokenSet, error) {
	malformed := func(detail string, err error) error {
		return &models.FlowError{
			Kind:   models.KindMalformedResponse,
			Code:   models.CodeMalformedResponse,
			Status: resp.status,
			Detail: detail,
			Err:    err,
		}
	}

	dec := json.NewDecoder(bytes.NewReader(resp.body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed("token response is not a JSON object", err)
	}

	ts := &models.TokenSet{Extra: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "access_token":
			ts.AccessToken, _ = v.(string)
		case "refresh_token":
			ts.RefreshToken, _ = v.(string)
		case "token_type":
			ts.TokenType, _ = v.(string)
		case "expires_in":
			ts.ExpiresIn = parseExpiresIn(v)
		default:
			ts.Extra[k] = v
		}
	}
	if ts.AccessToken == "" {
		return nil, malformed("token response missing access_token", nil)
	}
	return ts, nil
}

// parseExpiresIn accepts a JSON number or a numeric string; anything else is 0.
func parseExpiresIn(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return 0
}

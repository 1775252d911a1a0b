package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"rpgateway/internal/oidc/models"
)

// UserInfoClient fetches the claims for an access token.
type UserInfoClient struct {
	cfg Config
	rt  roundTripper
}

func NewUserInfoClient(cfg Config, opts ...Option) *UserInfoClient {
	o := buildOptions(opts)
	return &UserInfoClient{cfg: cfg, rt: roundTripper{opts: o, retryTimes: cfg.RetryTimes, retryDelay: cfg.RetryDelay}}
}

// Fetch GETs the userinfo endpoint with bearer auth. The configured identifier
// claim must be present and non-empty.
func (c *UserInfoClient) Fetch(ctx context.Context, accessToken string) (models.Claims, error) {
	resp, err := c.rt.send(ctx, "userinfo", c.cfg.UserInfoTimeout(), c.rt.retryTimes, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserInfoURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, &models.FlowError{Kind: models.KindServerUnreachable, Code: models.CodeServerUnreachable, Err: err}
	}
	if !resp.ok() {
		return nil, &models.FlowError{
			Kind:   models.KindTokenExchangeFailed,
			Code:   models.CodeUserInfoFailed,
			Status: resp.status,
			Detail: resp.describe(),
		}
	}

	// Numeric identifiers keep their exact digits.
	dec := json.NewDecoder(bytes.NewReader(resp.body))
	dec.UseNumber()
	var claims models.Claims
	if err := dec.Decode(&claims); err != nil || claims == nil {
		return nil, &models.FlowError{
			Kind:   models.KindMalformedResponse,
			Code:   models.CodeMalformedResponse,
			Status: resp.status,
			Detail: "userinfo response is not a JSON object",
			Err:    err,
		}
	}

	claim := c.cfg.IdentifierClaim
	if claim == "" {
		claim = "sub"
	}
	if v, ok := claims.String(claim); !ok || v == "" {
		return nil, &models.FlowError{
			Kind:   models.KindMissingClaim,
			Code:   models.CodeMissingClaim,
			Detail: "userinfo response missing claim " + claim,
		}
	}
	return claims, nil
}

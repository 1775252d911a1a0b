package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var errRevocationRejected = errors.New("revocation rejected")

// RevocationClient revokes refresh tokens at the provider. A single attempt
// is made; logout never waits on retries.
type RevocationClient struct {
	cfg Config
	rt  roundTripper
}

func NewRevocationClient(cfg Config, opts ...Option) *RevocationClient {
	o := buildOptions(opts)
	return &RevocationClient{cfg: cfg, rt: roundTripper{opts: o}}
}

// Revoke posts token and token_type_hint=refresh_token with client basic auth.
// An empty token returns nil without a network call.
func (c *RevocationClient) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", refreshToken)
	form.Set("token_type_hint", "refresh_token")
	encoded := form.Encode()

	resp, err := c.rt.send(ctx, "revoke", c.cfg.Timeout, 0, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !resp.ok() {
		return fmt.Errorf("%w: status %d: %s", errRevocationRejected, resp.status, resp.describe())
	}
	return nil
}

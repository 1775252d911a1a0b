package service

import (
	"context"

	"rpgateway/internal/oidc/models"
	dErrors "rpgateway/pkg/domain-errors"
	"rpgateway/pkg/requestcontext"
)

// BeginAuthorization starts a login attempt for the session handle. It
// replaces any attempt already pending for that handle.
func (s *Service) BeginAuthorization(ctx context.Context, handle string) (*models.AuthorizationRequest, error) {
	if handle == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session handle required")
	}

	pair, err := s.pkce.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate authorization parameters")
	}

	attempt := models.AuthorizationAttempt{
		State:        pair.State,
		CodeVerifier: pair.CodeVerifier,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := s.stores.Pending.Put(ctx, handle, attempt); err != nil {
		s.logger.ErrorContext(ctx, "failed to store pending authorization",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to start authorization")
	}

	return &models.AuthorizationRequest{
		URL:   s.cfg.Provider.AuthorizeRequestURL(pair.State, pair.CodeChallenge),
		State: pair.State,
	}, nil
}

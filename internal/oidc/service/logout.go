package service

import (
	"context"
	"errors"
	"time"

	"rpgateway/internal/oidc/models"
	usermodels "rpgateway/internal/user/models"
	dErrors "rpgateway/pkg/domain-errors"
	"rpgateway/pkg/platform/audit"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/requestcontext"

	"github.com/google/uuid"
)

// Logout ends the local session identified by jti, revokes the user's
// provider refresh token when one is stored, and returns the provider
// logout URL. A failed provider revocation does not fail the logout.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID, jti string, tokenExpiresAt time.Time) (*models.LogoutResult, error) {
	if userID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}

	if jti != "" && s.stores.Revocations != nil {
		ttl := tokenExpiresAt.Sub(requestcontext.Now(ctx))
		if ttl < time.Second {
			ttl = time.Second
		}
		if err := s.stores.Revocations.RevokeToken(ctx, jti, ttl); err != nil {
			s.logger.ErrorContext(ctx, "failed to add token to revocation list",
				"error", err,
				"jti", jti,
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session token")
		}
	}

	revoked := false
	user, err := s.stores.Users.FindByID(ctx, userID)
	switch {
	case err == nil:
		revoked = s.RevokeProviderToken(ctx, user)
	case errors.Is(err, sentinel.ErrNotFound):
		revoked = s.RevokeProviderToken(ctx, nil)
	default:
		s.logger.ErrorContext(ctx, "failed to load user for logout",
			"error", err,
			"user_id", userID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	s.emit(ctx, audit.Event{
		Action: string(audit.EventOIDCLoggedOut),
		UserID: userID,
	})

	return &models.LogoutResult{
		Revoked:   revoked,
		LogoutURL: s.LogoutURL(),
	}, nil
}

// RevokeProviderToken revokes the user's stored refresh token at the provider
// and clears it locally on success. A nil user or one without a stored token
// has nothing to revoke and reports true without a network call; false means
// the provider refused or could not be reached.
func (s *Service) RevokeProviderToken(ctx context.Context, user *usermodels.User) bool {
	if !user.IsOIDCUser() || !user.HasRefreshToken() {
		return true
	}

	if err := s.clients.Revoker.Revoke(ctx, user.RefreshToken); err != nil {
		s.metrics.IncrementRevocation(false)
		s.logger.WarnContext(ctx, "failed to revoke provider refresh token",
			"error", err,
			"user_id", user.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return false
	}
	s.metrics.IncrementRevocation(true)

	if err := s.stores.Users.ClearRefreshToken(ctx, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear revoked refresh token",
			"error", err,
			"user_id", user.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	s.emit(ctx, audit.Event{
		Action:  string(audit.EventOIDCTokenRevoked),
		UserID:  user.ID,
		Subject: user.Identifier,
	})
	return true
}

// LogoutURL is the provider's single sign-out URL, returning to the frontend.
func (s *Service) LogoutURL() string {
	return s.cfg.Provider.LogoutRequestURL(s.cfg.FrontendURL)
}

// CurrentUser returns the authenticated user's record.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*usermodels.User, error) {
	if userID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	user, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return user, nil
}

package service

import (
	"context"
	"errors"

	"rpgateway/internal/oidc/models"
	dErrors "rpgateway/pkg/domain-errors"
	"rpgateway/pkg/platform/audit"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/requestcontext"

	"github.com/google/uuid"
)

// InvalidExchangeCodeMessage is shared by every failed redemption so that
// unknown, expired and reused codes look the same.
const InvalidExchangeCodeMessage = "Invalid or expired exchange code"

func invalidExchangeCode(cause error) error {
	return dErrors.Wrap(&models.FlowError{
		Kind: models.KindExchangeCodeInvalid,
		Code: models.CodeExchangeCodeInvalid,
		Err:  cause,
	}, dErrors.CodeUnauthorized, InvalidExchangeCodeMessage)
}

// Redeem trades a one-time exchange code for a session token.
func (s *Service) Redeem(ctx context.Context, code string) (*models.ExchangeResult, error) {
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if _, err := uuid.Parse(code); err != nil || len(code) != 36 {
		return nil, dErrors.New(dErrors.CodeValidation, "code must be a valid UUID")
	}

	userID, err := s.stores.ExchangeCodes.Redeem(ctx, code)
	if err != nil {
		s.metrics.IncrementRedemption(false)
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.InfoContext(ctx, "exchange code rejected",
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, invalidExchangeCode(err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to redeem exchange code")
	}

	user, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		s.metrics.IncrementRedemption(false)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, invalidExchangeCode(err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	issued, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.metrics.IncrementRedemption(false)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}

	s.metrics.IncrementRedemption(true)
	s.emit(ctx, audit.Event{
		Action:  string(audit.EventOIDCTokenExchanged),
		UserID:  user.ID,
		Subject: user.Identifier,
	})
	s.logger.InfoContext(ctx, "exchange code redeemed",
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)

	return &models.ExchangeResult{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresIn:   issued.ExpiresIn,
		User:        user,
	}, nil
}

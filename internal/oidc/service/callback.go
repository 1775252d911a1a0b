package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"strings"
	"time"

	"rpgateway/internal/oidc/models"
	usermodels "rpgateway/internal/user/models"
	"rpgateway/pkg/platform/audit"
	"rpgateway/pkg/platform/sentinel"
	"rpgateway/pkg/requestcontext"
)

// step names the callback stage a failure happened in, for logs.
type step string

const (
	stepValidatingState  step = "validating_state"
	stepExchangingToken  step = "exchanging_token"
	stepFetchingUserInfo step = "fetching_userinfo"
	stepMappingIdentity  step = "mapping_identity"
	stepIssuingHandoff   step = "issuing_handoff"
)

var fallbackKinds = map[step]models.Kind{
	stepExchangingToken:  models.KindTokenExchangeFailed,
	stepFetchingUserInfo: models.KindTokenExchangeFailed,
	stepMappingIdentity:  models.KindMappingFailed,
	stepIssuingHandoff:   models.KindHandoffFailed,
}

// HandleCallback drives one provider callback to a result. It never returns
// an error: every failure becomes a redirect carrying a fixed error code, or
// a forbidden result when the state does not match.
func (s *Service) HandleCallback(ctx context.Context, handle string, params models.CallbackParams) *models.CallbackResult {
	start := time.Now()

	if params.Error != "" {
		// the attempt is spent either way
		s.takeAttempt(ctx, handle)
		code := models.NormalizeProviderError(params.Error)
		return s.fail(ctx, start, &models.FlowError{Kind: models.KindProviderDenied, Code: code}, "")
	}

	attempt := s.takeAttempt(ctx, handle)
	if attempt == nil || params.State == "" ||
		subtle.ConstantTimeCompare([]byte(attempt.State), []byte(params.State)) != 1 {
		return s.fail(ctx, start, &models.FlowError{
			Kind: models.KindStateMismatch,
			Code: models.CodeInvalidState,
		}, stepValidatingState)
	}

	if params.Code == "" {
		return s.fail(ctx, start, &models.FlowError{
			Kind:   models.KindProviderDenied,
			Code:   "invalid_request",
			Detail: "callback carried no authorization code",
		}, stepExchangingToken)
	}

	tokens, err := s.clients.Token.Exchange(ctx, params.Code, attempt.CodeVerifier)
	if err != nil {
		return s.fail(ctx, start, err, stepExchangingToken)
	}

	claims, err := s.clients.UserInfo.Fetch(ctx, tokens.AccessToken)
	if err != nil {
		return s.fail(ctx, start, err, stepFetchingUserInfo)
	}

	var (
		user         *usermodels.User
		created      bool
		exchangeCode string
		failedAt     step
	)
	// A failed handoff rolls back the user write when the store is transactional.
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		user, created, err = s.mapper.Map(ctx, claims, tokens.RefreshToken)
		if err != nil {
			failedAt = stepMappingIdentity
			return err
		}
		exchangeCode, err = s.stores.ExchangeCodes.Issue(ctx, user.ID, s.cfg.ExchangeCodeTTL)
		if err != nil {
			failedAt = stepIssuingHandoff
			return &models.FlowError{
				Kind: models.KindHandoffFailed,
				Code: models.CodeAuthFailed,
				Err:  err,
			}
		}
		return nil
	})
	if err != nil {
		if failedAt == "" {
			// commit failed after both steps succeeded
			failedAt = stepMappingIdentity
		}
		return s.fail(ctx, start, err, failedAt)
	}

	if created {
		s.metrics.IncrementUsersCreated()
		s.emit(ctx, audit.Event{
			Action:  string(audit.EventUserCreated),
			UserID:  user.ID,
			Subject: user.Identifier,
		})
	}

	s.emit(ctx, audit.Event{
		Action:  string(audit.EventOIDCUserAuthenticated),
		UserID:  user.ID,
		Subject: user.Identifier,
		NewUser: created,
	})
	s.logger.InfoContext(ctx, "oidc user authenticated",
		"user_id", user.ID.String(),
		"new_user", created,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.metrics.ObserveCallback("ok", start)

	return &models.CallbackResult{
		RedirectURL:  s.frontendRedirect(url.Values{"code": {exchangeCode}}),
		ExchangeCode: exchangeCode,
		UserID:       user.ID,
		NewUser:      created,
	}
}

// takeAttempt consumes the pending attempt for handle, or returns nil.
func (s *Service) takeAttempt(ctx context.Context, handle string) *models.AuthorizationAttempt {
	if handle == "" {
		return nil
	}
	attempt, err := s.stores.Pending.TakeAndClear(ctx, handle)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to load pending authorization",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil
	}
	return attempt
}

func (s *Service) fail(ctx context.Context, start time.Time, err error, at step) *models.CallbackResult {
	fe, ok := models.AsFlowError(err)
	if !ok {
		fe = &models.FlowError{Kind: fallbackKinds[at], Code: models.CodeAuthFailed, Err: err}
	}

	attrs := []any{
		"kind", string(fe.Kind),
		"error_code", fe.Code,
		"request_id", requestcontext.RequestID(ctx),
	}
	if at != "" {
		attrs = append(attrs, "step", string(at))
	}
	if fe.Status != 0 {
		attrs = append(attrs, "upstream_status", fe.Status)
	}
	if fe.Detail != "" {
		attrs = append(attrs, "detail", fe.Detail)
	}
	if fe.Err != nil {
		attrs = append(attrs, "error", fe.Err)
	}
	s.logger.WarnContext(ctx, "oidc authentication failed", attrs...)

	s.emit(ctx, audit.Event{
		Action: string(audit.EventOIDCAuthFailed),
		Reason: fe.Code,
	})
	s.metrics.ObserveCallback(fe.Code, start)

	result := &models.CallbackResult{
		ErrorCode:    fe.Code,
		ErrorMessage: fe.Message(),
	}
	if fe.Kind == models.KindStateMismatch {
		result.Forbidden = true
		return result
	}
	result.RedirectURL = s.frontendRedirect(url.Values{
		"error":             {fe.Code},
		"error_description": {result.ErrorMessage},
	})
	return result
}

func (s *Service) frontendRedirect(q url.Values) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + s.cfg.CallbackPath + "?" + q.Encode()
}

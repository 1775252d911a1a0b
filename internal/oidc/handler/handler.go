package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"rpgateway/internal/oidc/models"
	"rpgateway/internal/platform/metrics"
	"rpgateway/internal/platform/middleware"
	usermodels "rpgateway/internal/user/models"
	dErrors "rpgateway/pkg/domain-errors"
	"rpgateway/pkg/platform/httputil"
	"rpgateway/pkg/requestcontext"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Service defines the login flow operations the handler exposes.
type Service interface {
	BeginAuthorization(ctx context.Context, handle string) (*models.AuthorizationRequest, error)
	HandleCallback(ctx context.Context, handle string, params models.CallbackParams) *models.CallbackResult
	Redeem(ctx context.Context, code string) (*models.ExchangeResult, error)
	Logout(ctx context.Context, userID uuid.UUID, jti string, tokenExpiresAt time.Time) (*models.LogoutResult, error)
	CurrentUser(ctx context.Context, userID uuid.UUID) (*usermodels.User, error)
}

// Config holds route prefixes and the session cookie settings.
type Config struct {
	WebPrefix    string
	APIPrefix    string
	CookieName   string
	SessionTTL   time.Duration
	SecureCookie bool
}

// Handler serves the browser redirect endpoints and the JSON API.
type Handler struct {
	service     Service
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	requireAuth func(http.Handler) http.Handler
}

// New creates the handler. requireAuth guards logout and current-user routes.
func New(service Service, cfg Config, logger *slog.Logger, m *metrics.Metrics, requireAuth func(http.Handler) http.Handler) *Handler {
	if cfg.WebPrefix == "" {
		cfg.WebPrefix = "/auth"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/auth"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "oidc_session"
	}
	return &Handler{
		service:     service,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		requireAuth: requireAuth,
	}
}

// Register registers the login routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route(h.cfg.WebPrefix, func(web chi.Router) {
		web.Use(middleware.LatencyMiddleware(h.metrics))
		web.Get("/redirect", h.handleRedirect)
		web.Get("/callback", h.handleCallback)
	})

	r.Route(h.cfg.APIPrefix, func(api chi.Router) {
		api.Use(middleware.LatencyMiddleware(h.metrics))
		api.With(middleware.ContentTypeJSON).Post("/exchange", h.handleExchange)
		api.Group(func(authed chi.Router) {
			if h.requireAuth != nil {
				authed.Use(h.requireAuth)
			}
			authed.Post("/logout", h.handleLogout)
			authed.Get("/me", h.handleMe)
		})
	})
}

// handleRedirect starts a login and sends the browser to the provider.
func (h *Handler) handleRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	handle := h.sessionHandle(r)
	if handle == "" {
		var err error
		handle, err = newSessionHandle()
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to generate session handle",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start authorization"))
			return
		}
	}

	req, err := h.service.BeginAuthorization(ctx, handle)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, handle)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, req.URL, http.StatusFound)
}

// handleCallback completes a login. Every outcome except a state mismatch
// redirects back to the frontend.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	result := h.service.HandleCallback(ctx, h.sessionHandle(r), models.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	h.clearSessionCookie(w)
	w.Header().Set("Cache-Control", "no-store")

	if result.Forbidden {
		httputil.WriteJSON(w, http.StatusForbidden, map[string]string{
			"error":             result.ErrorCode,
			"error_description": result.ErrorMessage,
		})
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ExchangeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Redeem(ctx, req.Code)
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeValidation):
			writeFailure(w, http.StatusUnprocessableEntity, dErrors.MessageOf(err))
		case models.KindOf(err) == models.KindExchangeCodeInvalid:
			writeFailure(w, http.StatusUnauthorized, dErrors.MessageOf(err))
		default:
			h.logger.ErrorContext(ctx, "failed to redeem exchange code",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, err)
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: ExchangeResponse{
			AccessToken: result.AccessToken,
			TokenType:   result.TokenType,
			ExpiresIn:   int64(result.ExpiresIn / time.Second),
			User:        toUserResponse(result.User),
		},
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.service.Logout(ctx,
		requestcontext.UserID(ctx),
		requestcontext.TokenID(ctx),
		requestcontext.TokenExpiry(ctx),
	)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, envelope{Success: true, Data: result})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.service.CurrentUser(ctx, requestcontext.UserID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, envelope{Success: true, Data: toUserResponse(user)})
}

func (h *Handler) sessionHandle(r *http.Request) string {
	c, err := r.Cookie(h.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, handle string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    handle,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// newSessionHandle returns 256 random bits, base64url encoded.
func newSessionHandle() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

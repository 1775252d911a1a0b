package handler

import (
	"net/http"
	"time"

	usermodels "rpgateway/internal/user/models"
	"rpgateway/pkg/platform/httputil"
)

type ExchangeRequest struct {
	Code string `json:"code"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ExchangeResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int64         `json:"expires_in"`
	User        *UserResponse `json:"user"`
}

type UserResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	Attributes map[string]string `json:"attributes"`
	IsOIDCUser bool              `json:"is_oidc_user"`
	CreatedAt  time.Time         `json:"created_at"`
}

func toUserResponse(u *usermodels.User) *UserResponse {
	if u == nil {
		return nil
	}
	attrs := u.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &UserResponse{
		ID:         u.ID.String(),
		Name:       u.Attribute("name"),
		Email:      u.Attribute("email"),
		Attributes: attrs,
		IsOIDCUser: u.IsOIDCUser(),
		CreatedAt:  u.CreatedAt,
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	httputil.WriteJSON(w, status, envelope{Success: false, Message: message})
}

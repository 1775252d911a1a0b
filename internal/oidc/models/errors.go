package models

import (
	"errors"
	"fmt"
)

// Kind classifies why a login or a redemption failed. A provider rejection
// of either the token or the userinfo request is KindTokenExchangeFailed;
// the Code tells the two apart.
type Kind string

const (
	KindProviderDenied      Kind = "provider_denied"
	KindStateMismatch       Kind = "state_mismatch"
	KindServerUnreachable   Kind = "server_unreachable"
	KindTokenExchangeFailed Kind = "token_exchange_failed"
	KindMalformedResponse   Kind = "malformed_response"
	KindMissingClaim        Kind = "missing_claim"
	KindMappingFailed       Kind = "mapping_failed"
	KindHandoffFailed       Kind = "handoff_failed"
	KindExchangeCodeInvalid Kind = "exchange_code_invalid"
)

// Codes placed in the frontend redirect. Provider-denied flows use the
// normalized OAuth error code instead.
const (
	CodeInvalidState        = "invalid_state"
	CodeServerUnreachable   = "server_unreachable"
	CodeTokenExchangeFailed = "token_exchange_failed"
	CodeUserInfoFailed      = "userinfo_failed"
	CodeMalformedResponse   = "malformed_response"
	CodeMissingClaim        = "missing_claim"
	CodeAuthFailed          = "auth_failed"
	CodeUnknownError        = "unknown_error"
	CodeExchangeCodeInvalid = "invalid_exchange_code"
)

// FlowError is produced by each callback step. Status and Detail carry the
// upstream response for logs; they never reach the browser.
type FlowError struct {
	Kind   Kind
	Code   string
	Status int
	Detail string
	Err    error
}

func (e *FlowError) Error() string {
	msg := fmt.Sprintf("%s (%s)", e.Kind, e.Code)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Message is the fixed human-readable text for the error code.
func (e *FlowError) Message() string {
	return MessageFor(e.Code)
}

// AsFlowError extracts a FlowError from err's chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of the first FlowError in the chain, or "".
func KindOf(err error) Kind {
	if fe, ok := AsFlowError(err); ok {
		return fe.Kind
	}
	return ""
}

var allowedProviderErrors = map[string]struct{}{
	"access_denied":             {},
	"invalid_request":           {},
	"unauthorized_client":       {},
	"unsupported_response_type": {},
	"invalid_scope":             {},
	"server_error":              {},
	"temporarily_unavailable":   {},
}

// NormalizeProviderError maps a provider-supplied error code onto the OAuth
// allow-list. Anything else becomes unknown_error.
func NormalizeProviderError(code string) string {
	if _, ok := allowedProviderErrors[code]; ok {
		return code
	}
	return CodeUnknownError
}

var messages = map[string]string{
	"access_denied":         "Authorization was denied by the user.",
	CodeTokenExchangeFailed: "Failed to exchange authorization code for tokens.",
	CodeUserInfoFailed:      "Failed to retrieve user information from the authorization server.",
	CodeServerUnreachable:   "The authorization server is currently unreachable.",
	CodeMalformedResponse:   "The authorization server returned an invalid response.",
	CodeMissingClaim:        "The authorization server did not return a user identifier.",
	CodeInvalidState:        "The login attempt is invalid or has expired.",
	CodeAuthFailed:          "Authentication could not be completed.",
	CodeExchangeCodeInvalid: "Invalid or expired exchange code",
}

// MessageFor returns the fixed message for a redirect error code. Provider
// codes other than access_denied share one message.
func MessageFor(code string) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "The authorization server rejected the request."
}

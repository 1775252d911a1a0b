package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance,
	// such as a local user record being created from an external identity.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: denied or failed logins, token revocations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	// Examples: successful logins, exchange-code redemptions.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    uuid.UUID
	// Subject is the external identifier (the provider's sub claim) when known.
	Subject string
	Action  string
	// Reason carries the normalized error code for failure events.
	Reason    string
	NewUser   bool
	RequestID string
	ClientIP  string
	Device    string
}

type AuditEvent string

const (
	EventUserCreated           AuditEvent = "user_created"
	EventOIDCUserAuthenticated AuditEvent = "oidc_user_authenticated"
	EventOIDCTokenExchanged    AuditEvent = "oidc_token_exchanged"
	EventOIDCAuthFailed        AuditEvent = "oidc_auth_failed"
	EventOIDCTokenRevoked      AuditEvent = "oidc_token_revoked"
	EventOIDCLoggedOut         AuditEvent = "oidc_logged_out"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventUserCreated: CategoryCompliance,

	EventOIDCAuthFailed:   CategorySecurity,
	EventOIDCTokenRevoked: CategorySecurity,
	EventOIDCLoggedOut:    CategorySecurity,

	EventOIDCUserAuthenticated: CategoryOperations,
	EventOIDCTokenExchanged:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// User is a local account bridged from an external identity.
type User struct {
	ID uuid.UUID
	// Identifier is the provider's identifier claim, unique across users.
	Identifier string
	// RefreshToken is the provider refresh token in plaintext. Stores encrypt it at rest.
	RefreshToken string
	Attributes   map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsOIDCUser reports whether the account came from the external provider.
func (u *User) IsOIDCUser() bool {
	return u != nil && u.Identifier != ""
}

// HasRefreshToken reports whether there is anything to revoke.
func (u *User) HasRefreshToken() bool {
	return u != nil && u.RefreshToken != ""
}

func (u *User) Attribute(key string) string {
	if u == nil {
		return ""
	}
	return u.Attributes[key]
}

// UpsertInput describes one login's view of the user. An empty RefreshToken
// leaves any stored token untouched.
type UpsertInput struct {
	Identifier   string
	Attributes   map[string]string
	RefreshToken string
}

// Columns names the identifier and refresh-token columns of the users table.
type Columns struct {
	Identifier   string
	RefreshToken string
}

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Valid reports whether both names are plain lowercase SQL identifiers.
func (c Columns) Valid() bool {
	return columnName.MatchString(c.Identifier) &&
		columnName.MatchString(c.RefreshToken) &&
		c.Identifier != c.RefreshToken
}

func DefaultColumns() Columns {
	return Columns{Identifier: "oidc_sub", RefreshToken: "auth_server_refresh_token"}
}

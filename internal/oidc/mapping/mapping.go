// Package mapping turns userinfo claims into a local user record.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"rpgateway/internal/oidc/models"
	usermodels "rpgateway/internal/user/models"
	platformstrings "rpgateway/pkg/platform/strings"
)

// Resolver extracts one attribute value from the claims.
type Resolver func(models.Claims) (string, bool)

// Claim resolves a single claim key.
func Claim(key string) Resolver {
	return func(c models.Claims) (string, bool) {
		v, _ := c.String(key)
		return v, v != ""
	}
}

// FirstOf resolves to the first key with a non-empty value.
func FirstOf(keys ...string) Resolver {
	return func(c models.Claims) (string, bool) {
		for _, k := range keys {
			if v, _ := c.String(k); v != "" {
				return v, true
			}
		}
		return "", false
	}
}

// FromSpec builds resolvers from "column" -> "claim|fallback|..." pairs.
func FromSpec(spec map[string]string) (map[string]Resolver, error) {
	out := make(map[string]Resolver, len(spec))
	for column, expr := range spec {
		column = strings.TrimSpace(column)
		if column == "" {
			return nil, errors.New("attribute mapping has an empty column name")
		}
		keys := platformstrings.DedupeAndTrim(strings.Split(expr, "|"))
		switch len(keys) {
		case 0:
			return nil, fmt.Errorf("attribute %q maps to no claim", column)
		case 1:
			out[column] = Claim(keys[0])
		default:
			out[column] = FirstOf(keys...)
		}
	}
	return out, nil
}

// DefaultAttributes is name from name or email, and email from email.
func DefaultAttributes() map[string]Resolver {
	return map[string]Resolver{
		"name":  FirstOf("name", "email"),
		"email": Claim("email"),
	}
}

// UserStore is the persistence the mapper needs.
type UserStore interface {
	Upsert(ctx context.Context, in usermodels.UpsertInput) (*usermodels.User, bool, error)
}

type Config struct {
	IdentifierClaim string
	Attributes      map[string]Resolver
}

type Mapper struct {
	identifierClaim string
	attributes      map[string]Resolver
	columns         []string
	store           UserStore
}

func NewMapper(cfg Config, store UserStore) (*Mapper, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	if cfg.IdentifierClaim == "" {
		cfg.IdentifierClaim = "sub"
	}
	if cfg.Attributes == nil {
		cfg.Attributes = DefaultAttributes()
	}
	columns := make([]string, 0, len(cfg.Attributes))
	for c := range cfg.Attributes {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return &Mapper{
		identifierClaim: cfg.IdentifierClaim,
		attributes:      cfg.Attributes,
		columns:         columns,
		store:           store,
	}, nil
}

// Attributes resolves every configured attribute. Unresolved ones are omitted.
func (m *Mapper) Attributes(claims models.Claims) map[string]string {
	out := make(map[string]string, len(m.columns))
	for _, column := range m.columns {
		if v, ok := m.attributes[column](claims); ok {
			out[column] = v
		}
	}
	return out
}

// Map finds or creates the user for claims and stores refreshToken when it is
// non-empty. created reports whether this call inserted the user.
func (m *Mapper) Map(ctx context.Context, claims models.Claims, refreshToken string) (*usermodels.User, bool, error) {
	identifier, _ := claims.String(m.identifierClaim)
	if identifier == "" {
		return nil, false, &models.FlowError{
			Kind:   models.KindMissingClaim,
			Code:   models.CodeMissingClaim,
			Detail: "claim " + m.identifierClaim + " is empty",
		}
	}
	u, created, err := m.store.Upsert(ctx, usermodels.UpsertInput{
		Identifier:   identifier,
		Attributes:   m.Attributes(claims),
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, false, &models.FlowError{
			Kind: models.KindMappingFailed,
			Code: models.CodeAuthFailed,
			Err:  err,
		}
	}
	return u, created, nil
}

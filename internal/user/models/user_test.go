package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOIDCUser(t *testing.T) {
	var nilUser *User
	assert.False(t, nilUser.IsOIDCUser())
	assert.False(t, (&User{}).IsOIDCUser())
	assert.True(t, (&User{Identifier: "u1"}).IsOIDCUser())
}

func TestHasRefreshToken(t *testing.T) {
	var nilUser *User
	assert.False(t, nilUser.HasRefreshToken())
	assert.False(t, (&User{Identifier: "u1"}).HasRefreshToken())
	assert.True(t, (&User{RefreshToken: "RT1"}).HasRefreshToken())
}

func TestColumnsValid(t *testing.T) {
	assert.True(t, DefaultColumns().Valid())
	assert.False(t, Columns{Identifier: "oidc_sub; drop table users", RefreshToken: "rt"}.Valid())
	assert.False(t, Columns{Identifier: "Sub", RefreshToken: "rt"}.Valid())
	assert.False(t, Columns{Identifier: "same", RefreshToken: "same"}.Valid())
}

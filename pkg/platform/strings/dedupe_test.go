package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "scope list from a space separated env var",
			input:    []string{"openid", "", "profile", "openid", "email"},
			expected: []string{"openid", "profile", "email"},
		},
		{
			name:     "claim fallbacks with padding",
			input:    []string{" name ", "email", " name"},
			expected: []string{"name", "email"},
		},
		{
			name:     "only blanks",
			input:    []string{"", "  "},
			expected: []string{},
		},
		{
			name:     "case is significant",
			input:    []string{"Email", "email"},
			expected: []string{"Email", "email"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

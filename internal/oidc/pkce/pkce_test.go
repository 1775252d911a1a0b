package pkce

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var unreserved = regexp.MustCompile(`^[A-Za-z0-9\-._~]+$`)

func TestChallengeGoldenVector(t *testing.T) {
	// RFC 7636 appendix B.
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"),
	)
}

func TestChallengeMatchesDefinition(t *testing.T) {
	for _, v := range []string{"a", strings.Repeat("x", 43), strings.Repeat("~", 128)} {
		sum := sha256.Sum256([]byte(v))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), Challenge(v))
	}
}

func TestGenerateIsDeterministicForInjectedBytes(t *testing.T) {
	src := bytes.Repeat([]byte{0}, stateBytes+verifierBytes)

	a, err := Generator{Rand: bytes.NewReader(src)}.Generate()
	require.NoError(t, err)
	b, err := Generator{Rand: bytes.NewReader(src)}.Generate()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, strings.Repeat("A", 43), a.State)
	assert.Equal(t, strings.Repeat("A", 64), a.CodeVerifier)
	assert.Equal(t, Challenge(a.CodeVerifier), a.CodeChallenge)
}

func TestGenerateLengthsAndAlphabet(t *testing.T) {
	seen := make(map[string]struct{})
	for range 50 {
		p, err := Generator{}.Generate()
		require.NoError(t, err)

		assert.Len(t, p.State, 43)
		assert.GreaterOrEqual(t, len(p.CodeVerifier), 43)
		assert.LessOrEqual(t, len(p.CodeVerifier), 128)
		assert.Regexp(t, unreserved, p.State)
		assert.Regexp(t, unreserved, p.CodeVerifier)
		assert.NotContains(t, p.CodeChallenge, "=")

		_, dup := seen[p.State]
		assert.False(t, dup, "state repeated")
		seen[p.State] = struct{}{}
	}
}

func TestGenerateShortRead(t *testing.T) {
	_, err := Generator{Rand: bytes.NewReader(make([]byte, 10))}.Generate()
	require.Error(t, err)

	_, err = Generator{Rand: iotest.ErrReader(assert.AnError)}.Generate()
	require.ErrorIs(t, err, assert.AnError)
}

// Package pkce produces the per-attempt state and PKCE verifier/challenge.
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

const (
	stateBytes    = 32 // 43 base64url chars
	verifierBytes = 48 // 64 base64url chars, inside RFC 7636's 43..128
)

// Pair is one login attempt's secrets plus the public challenge.
type Pair struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
}

// Generator draws randomness from Rand, or crypto/rand when nil.
// Output is a pure function of the bytes read.
type Generator struct {
	Rand io.Reader
}

// Generate reads the state bytes first, then the verifier bytes.
func (g Generator) Generate() (Pair, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}

	state, err := randomString(r, stateBytes)
	if err != nil {
		return Pair{}, fmt.Errorf("generate state: %w", err)
	}
	verifier, err := randomString(r, verifierBytes)
	if err != nil {
		return Pair{}, fmt.Errorf("generate code verifier: %w", err)
	}

	return Pair{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: Challenge(verifier),
	}, nil
}

// Challenge is the S256 transform: base64url_nopad(sha256(verifier)).
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

func randomString(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

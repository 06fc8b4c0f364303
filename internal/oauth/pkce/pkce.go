// Package pkce implements the RFC 7636 Proof Key for Code Exchange pieces
// of the OAuth2 authorization-code flow, plus the random state parameter
// that pairs with them.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Codes is a verifier/challenge pair for one authorization attempt.
type Codes struct {
	// CodeVerifier correlates the token request with the authorization
	// request; it is sent only on the back channel.
	CodeVerifier string `json:"code_verifier"`

	// CodeChallenge is the base64url-encoded SHA-256 of the verifier; it is
	// sent on the front channel with the consent URL.
	CodeChallenge string `json:"code_challenge"`
}

// Generate returns a fresh verifier/challenge pair.
func Generate() (*Codes, error) {
	verifier, err := randomURLSafe(96)
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}
	sum := sha256.Sum256([]byte(verifier))
	return &Codes{
		CodeVerifier:  verifier,
		CodeChallenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// State returns a random value for the OAuth2 state parameter.
func State() (string, error) {
	s, err := randomURLSafe(32)
	if err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return s, nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Package auth is the authentication boundary. Token validation itself
// (JWT, user records) belongs to an external collaborator; the core only
// consumes the Verifier interface. StaticVerifier and DevVerifier exist so
// the server runs without that collaborator in development and tests.
package auth

import (
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is what a successful handshake establishes about a connection.
type Identity struct {
	UserID   string
	Username string
	Admin    bool
}

// Verifier validates a handshake token.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// StaticVerifier resolves tokens from a fixed table.
type StaticVerifier struct {
	tokens map[string]Identity
}

func NewStaticVerifier(tokens map[string]Identity) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(token string) (Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// DevVerifier accepts "userID:username[:admin]" tokens verbatim. Development
// only; never wire it in production.
type DevVerifier struct{}

func (DevVerifier) Verify(token string) (Identity, error) {
	parts := strings.Split(token, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UserID:   parts[0],
		Username: parts[1],
		Admin:    len(parts) > 2 && parts[2] == "admin",
	}, nil
}

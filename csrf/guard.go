// Package csrf issues and validates single-slot anti-CSRF tokens persisted in
// an encrypted store. Issuing a token replaces whichever token was issued
// before it.
package csrf

import (
	"crypto/subtle"
	"fmt"

	"github.com/jmcleod/ironward/crypto"
)

// TokenName is the reserved secure store name holding the current token.
const TokenName = "__csrf_token"

// TokenBytes is the amount of randomness in a token.
const TokenBytes = 32

// Store is the subset of securestore.Store the guard needs.
type Store interface {
	Set(name string, value any) error
	Lookup(name string, dst any) bool
	Remove(name string)
}

// IssueToken generates a fresh token, persists it in store and returns it.
func IssueToken(store Store) (string, error) {
	token, err := crypto.RandomToken(TokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}
	if err := store.Set(TokenName, token); err != nil {
		return "", fmt.Errorf("storing csrf token: %w", err)
	}
	return token, nil
}

// Validate reports whether candidate equals the most recently issued token.
// The stored token is left in place.
func Validate(store Store, candidate string) bool {
	if candidate == "" {
		return false
	}
	var stored string
	if !store.Lookup(TokenName, &stored) || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// Clear removes the stored token.
func Clear(store Store) {
	store.Remove(TokenName)
}

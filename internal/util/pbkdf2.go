package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinPBKDF2Iterations is the floor accepted for password hashing.
	MinPBKDF2Iterations = 10_000
	// DefaultPBKDF2Iterations is used when the caller does not override it.
	DefaultPBKDF2Iterations = 100_000
	PBKDF2KeyLength         = 32
	PBKDF2SaltLength        = 16
)

// DerivePBKDF2Key derives a PBKDF2-HMAC-SHA256 key from the normalized
// password.
func DerivePBKDF2Key(password string, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinPBKDF2Iterations {
		return nil, fmt.Errorf("pbkdf2 iterations must be at least %d, got %d", MinPBKDF2Iterations, iterations)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("pbkdf2 salt must not be empty")
	}
	return pbkdf2.Key([]byte(Normalize(password)), salt, iterations, PBKDF2KeyLength, sha256.New), nil
}

func ComparePBKDF2Key(password string, salt []byte, iterations int, expectedKey []byte) (bool, error) {
	key, err := DerivePBKDF2Key(password, salt, iterations)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

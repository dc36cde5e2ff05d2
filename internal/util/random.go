package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// RandomIntn returns a uniform random integer in [0, max) read from
// crypto/rand.
func RandomIntn(max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("random bound must be positive, got %d", max)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomToken returns n random bytes encoded as unpadded URL-safe base64.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	defer WipeBytes(b)
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Shuffle performs an in-place Fisher-Yates shuffle using crypto/rand.
func Shuffle[T any](s []T) error {
	for i := len(s) - 1; i > 0; i-- {
		j, err := RandomIntn(i + 1)
		if err != nil {
			return err
		}
		s[i], s[j] = s[j], s[i]
	}
	return nil
}

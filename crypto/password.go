package crypto

import (
	"fmt"
	"strings"

	"github.com/jmcleod/ironward/internal/util"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{};:,.?/"

	passwordAlphabet = lowerChars + upperChars + digitChars + symbolChars
)

// Hasher hashes and verifies passwords with PBKDF2-HMAC-SHA256.
type Hasher struct {
	iterations int
	previous   []int
}

// NewHasher returns a Hasher using the given iteration count. Counts below
// util.MinPBKDF2Iterations are raised to the default.
//
// previous lists counts used by hashes stored before the count was raised.
// Hash never uses them; Verify falls back to them in order. Entries below the
// minimum or equal to iterations are ignored.
func NewHasher(iterations int, previous ...int) *Hasher {
	if iterations < util.MinPBKDF2Iterations {
		iterations = util.DefaultPBKDF2Iterations
	}
	h := &Hasher{iterations: iterations}
	for _, n := range previous {
		if n >= util.MinPBKDF2Iterations && n != iterations {
			h.previous = append(h.previous, n)
		}
	}
	return h
}


var defaultHasher = NewHasher(util.DefaultPBKDF2Iterations)

// HashPassword hashes password with the default Hasher.
func HashPassword(password string, salt []byte) (string, error) {
	return defaultHasher.Hash(password, salt)
}

// VerifyPassword checks password against a stored hash with the default
// Hasher.
func VerifyPassword(password, stored string) bool {
	return defaultHasher.Verify(password, stored)
}

// Hash derives a key from password and returns it as "hex(salt):hex(hash)".
// A random 16-byte salt is generated when salt is empty.
func (h *Hasher) Hash(password string, salt []byte) (string, error) {
	if len(salt) == 0 {
		var err error
		salt, err = util.RandomBytes(util.PBKDF2SaltLength)
		if err != nil {
			return "", fmt.Errorf("generating salt: %w", err)
		}
	}
	key, err := util.DerivePBKDF2Key(password, salt, h.iterations)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return util.HexEncode(salt) + ":" + util.HexEncode(key), nil
}

// Verify reports whether password matches stored under the current count or
// any previous one. Malformed stored values return false.
func (h *Hasher) Verify(password, stored string) bool {
	saltHex, hashHex, ok := strings.Cut(stored, ":")
	if !ok || saltHex == "" || hashHex == "" {
		return false
	}
	salt, err := util.HexDecode(saltHex)
	if err != nil {
		return false
	}
	expected, err := util.HexDecode(hashHex)
	if err != nil || len(expected) != util.PBKDF2KeyLength {
		return false
	}
	if match, err := util.ComparePBKDF2Key(password, salt, h.iterations, expected); err == nil && match {
		return true
	}
	for _, n := range h.previous {
		if match, err := util.ComparePBKDF2Key(password, salt, n, expected); err == nil && match {
			return true
		}
	}
	return false
}

// GenerateSecurePassword returns a random password of the given length. When
// length >= 4 it contains at least one lowercase letter, uppercase letter,
// digit and symbol, in unpredictable positions.
func GenerateSecurePassword(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("%w: password length must be positive, got %d", ErrInvalidLength, length)
	}

	out := make([]byte, 0, length)
	if length >= 4 {
		for _, set := range []string{lowerChars, upperChars, digitChars, symbolChars} {
			c, err := randomChar(set)
			if err != nil {
				return "", err
			}
			out = append(out, c)
		}
	}
	for len(out) < length {
		c, err := randomChar(passwordAlphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	if err := util.Shuffle(out); err != nil {
		return "", fmt.Errorf("shuffling password: %w", err)
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	idx, err := util.RandomIntn(len(set))
	if err != nil {
		return 0, fmt.Errorf("generating password character: %w", err)
	}
	return set[idx], nil
}

package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironward/internal/util"
)

const tenantKeyInfoPrefix = "ironward:tenant:"

// Key is a 32-byte symmetric key held in a memguard Enclave, so it stays
// encrypted in memory except while Use is running.
type Key struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewKey copies raw into a sealed enclave. raw is wiped.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}
	return &Key{enclave: memguard.NewEnclave(raw)}, nil
}

// GenerateKey returns a fresh random Key.
func GenerateKey() (*Key, error) {
	return &Key{enclave: memguard.NewEnclaveRandom(KeySize)}, nil
}

// ParseKey decodes a hex or base64 encoded 32-byte key.
func ParseKey(s string) (*Key, error) {
	raw, err := util.DecodeKeyString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewKey(raw)
}

// Use opens the enclave and passes the raw key to fn. The plaintext buffer is
// destroyed when fn returns; fn must not retain it.
func (k *Key) Use(fn func(raw []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.enclave == nil {
		return fmt.Errorf("%w: key destroyed", ErrInvalidKey)
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Destroy drops the enclave. Later calls to Use fail with ErrInvalidKey.
func (k *Key) Destroy() {
	k.mu.Lock()
	k.enclave = nil
	k.mu.Unlock()
}

// Encrypt seals plaintext under k, binding aad.
func (k *Key) Encrypt(plaintext, aad []byte) ([]byte, error) {
	var out []byte
	err := k.Use(func(raw []byte) error {
		var err error
		out, err = EncryptWithAAD(plaintext, raw, aad)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrEncryption) {
			return nil, err
		}
		return nil, &EncryptionError{Err: err}
	}
	return out, nil
}

// Decrypt opens ciphertext sealed by Encrypt with the same aad.
func (k *Key) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	var out []byte
	err := k.Use(func(raw []byte) error {
		var err error
		out, err = DecryptWithAAD(ciphertext, raw, aad)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDecryption) {
			return nil, err
		}
		return nil, &DecryptionError{Err: err}
	}
	return out, nil
}

// DeriveTenantKey derives an independent per-tenant key from master with
// HKDF-SHA256.
func DeriveTenantKey(master *Key, tenantID string) (*Key, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id must not be empty")
	}
	var derived []byte
	err := master.Use(func(raw []byte) error {
		var err error
		derived, err = util.HKDF(raw, nil, []byte(tenantKeyInfoPrefix+tenantID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deriving tenant key: %w", err)
	}
	return NewKey(derived)
}

// RandomToken returns n cryptographically random bytes as URL-safe base64.
func RandomToken(n int) (string, error) {
	return util.RandomToken(n)
}

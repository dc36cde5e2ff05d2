// Package crypto implements the symmetric encryption, key handling and
// password hashing primitives used by the rest of ironward.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length prepended to every ciphertext.
	NonceSize = 12
)

// Encrypt seals plaintext with AES-256-GCM under key. The output is
// nonce || ciphertext || tag with a fresh random nonce per call.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	return EncryptWithAAD(plaintext, key, nil)
}

// EncryptWithAAD is Encrypt with additional authenticated data bound to the
// ciphertext.
func EncryptWithAAD(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, &EncryptionError{Err: err}
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &EncryptionError{Err: fmt.Errorf("generating nonce: %w", err)}
	}

	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	return DecryptWithAAD(ciphertext, key, nil)
}

// DecryptWithAAD opens a ciphertext produced by EncryptWithAAD with the same
// aad.
func DecryptWithAAD(ciphertext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, &DecryptionError{Err: err}
	}

	if len(ciphertext) < gcm.NonceSize()+gcm.Overhead() {
		return nil, &DecryptionError{}
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, &DecryptionError{}
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

package crypto

import "errors"

var (
	// ErrEncryption matches every error returned by Encrypt.
	ErrEncryption = errors.New("encryption failed")
	// ErrDecryption matches every error returned by Decrypt. Corrupt input and
	// a non-matching key are indistinguishable through this error.
	ErrDecryption = errors.New("decryption failed")
	// ErrInvalidKey indicates key material of the wrong size or a destroyed key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidLength indicates a non-positive password length.
	ErrInvalidLength = errors.New("invalid length")
)

// EncryptionError is returned by Encrypt and EncryptWithAAD.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	if e.Err == nil {
		return ErrEncryption.Error()
	}
	return ErrEncryption.Error() + ": " + e.Err.Error()
}

func (e *EncryptionError) Unwrap() error { return e.Err }

func (e *EncryptionError) Is(target error) bool { return target == ErrEncryption }

// DecryptionError is returned by Decrypt and DecryptWithAAD. Err is only set
// for invalid key material; authentication and framing failures carry no
// detail.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	if e.Err == nil {
		return ErrDecryption.Error()
	}
	return ErrDecryption.Error() + ": " + e.Err.Error()
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

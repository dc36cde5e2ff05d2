package storage

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/ironward/crypto"
)

const (
	envelopeVersion = 1
	envelopeScheme  = "aes256gcm"
)

// Envelope is a sealed record containing AES-256-GCM encrypted data. The
// Ciphertext field holds nonce || ciphertext || tag.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealEnvelope encrypts plaintext into an Envelope under key, binding aad.
func SealEnvelope(key *crypto.Key, plaintext, aad []byte) (*Envelope, error) {
	ct, err := key.Encrypt(plaintext, aad)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Ver:        envelopeVersion,
		Scheme:     envelopeScheme,
		Ciphertext: ct,
	}, nil
}

// OpenEnvelope decrypts an Envelope sealed with the same key and aad.
func OpenEnvelope(key *crypto.Key, env *Envelope, aad []byte) ([]byte, error) {
	if env.Ver != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}
	if env.Scheme != envelopeScheme {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", env.Scheme)
	}
	return key.Decrypt(env.Ciphertext, aad)
}

// Marshal encodes the envelope for persistence.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes a persisted envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &env, nil
}

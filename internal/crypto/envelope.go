// Package crypto implements the authenticated envelope used to persist
// token sets at rest: AES-256-GCM over a JSON payload under a versioned
// master key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// KeyVersion is stamped on every envelope produced by this build.
	KeyVersion = 1

	keyLen   = 32
	nonceLen = 12
)

// ErrIntegrity is returned when an envelope fails authentication or
// carries an unknown key version. Callers must treat it as
// "re-authentication required", never retry decryption blindly.
var ErrIntegrity = errors.New("envelope integrity check failed")

// Envelope is the stored ciphertext form of a token set.
// All fields are opaque to callers.
type Envelope struct {
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
	Ciphertext []byte `json:"ct"`
	KeyVersion int    `json:"v"`
}

// Encryptor seals and opens envelopes under a single 256-bit master key.
// The key never leaves this package.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor validates the master key and builds the AEAD once.
// Fails fast on a missing or wrong-size key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// EncryptJSON marshals v and seals it with a fresh random 96-bit nonce.
func (e *Encryptor) EncryptJSON(v any) (Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal plaintext: %w", err)
	}

	iv := make([]byte, nonceLen)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nil, iv, plaintext, nil)

	// GCM appends the tag to the ciphertext; split so the stored
	// representation keeps them as separate opaque columns.
	tagStart := len(sealed) - e.aead.Overhead()
	return Envelope{
		IV:         iv,
		Tag:        sealed[tagStart:],
		Ciphertext: sealed[:tagStart],
		KeyVersion: KeyVersion,
	}, nil
}

// DecryptJSON opens blob and unmarshals the plaintext into dst.
// Any tampering with IV, tag, or ciphertext yields ErrIntegrity; no
// partial plaintext is ever returned.
func (e *Encryptor) DecryptJSON(blob Envelope, dst any) error {
	if blob.KeyVersion != KeyVersion {
		return fmt.Errorf("%w: unknown key version %d", ErrIntegrity, blob.KeyVersion)
	}
	if len(blob.IV) != nonceLen {
		return fmt.Errorf("%w: bad nonce length %d", ErrIntegrity, len(blob.IV))
	}

	sealed := make([]byte, 0, len(blob.Ciphertext)+len(blob.Tag))
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.Tag...)

	plaintext, err := e.aead.Open(nil, blob.IV, sealed, nil)
	if err != nil {
		return ErrIntegrity
	}
	return json.Unmarshal(plaintext, dst)
}

// Package envelope provides authenticated symmetric encryption for small
// JSON-serializable secrets (token bundles) stored at rest.  The persisted
// format is four colon-joined hex fields: iv:authTag:salt:ciphertext.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	uuid "github.com/hashicorp/go-uuid"
)

const (
	// KeyLen is the required symmetric key length in bytes (AES-256).
	KeyLen = 32

	// ivLen is the GCM nonce length in bytes.  16 rather than the GCM
	// default of 12, to match the stored envelope format.
	ivLen = 16

	// tagLen is the GCM authentication tag length in bytes.
	tagLen = 16

	// saltLen is the per-envelope salt length in bytes.  The salt is
	// carried for format stability only; the key is pre-shared and no
	// per-record derivation is performed.
	saltLen = 64

	// envelopeFields is the exact number of colon-separated fields in a
	// well-formed envelope.
	envelopeFields = 4
)

var (
	ErrInvalidKey    = errors.New("invalid encryption key")
	ErrInvalidFormat = errors.New("invalid encrypted data format")
	ErrDecryptFailed = errors.New("decryption failed")
)

// Cipher seals and opens envelopes with a single pre-shared AES-256-GCM key.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a hex-encoded 256-bit key.  The key must
// be exactly 64 hex characters; anything else is a deployment error and
// fails immediately.
func NewCipher(hexKey string) (*Cipher, error) {
	const op = "envelope.NewCipher"
	key, err := decodeKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create cipher: %w", op, err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create GCM: %w", op, err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt serializes v as JSON and seals it into an envelope string.  A
// fresh IV and salt are generated per call, so encrypting the same value
// twice yields different envelopes.
func (c *Cipher) Encrypt(v interface{}) (string, error) {
	const op = "Cipher.Encrypt"
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%s: unable to marshal value: %w", op, err)
	}
	iv, err := uuid.GenerateRandomBytes(ivLen)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate iv: %w", op, err)
	}
	salt, err := uuid.GenerateRandomBytes(saltLen)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate salt: %w", op, err)
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	// Seal appends the auth tag to the ciphertext; the envelope format
	// stores them as separate fields.
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(salt),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens an envelope string and unmarshals the plaintext JSON into v.
// The authentication tag is verified before any plaintext is trusted: a
// tampered ciphertext or tag fails with ErrDecryptFailed, never with a JSON
// parse error on corrupted data.
func (c *Cipher) Decrypt(envelope string, v interface{}) error {
	const op = "Cipher.Decrypt"
	parts := strings.Split(envelope, ":")
	if len(parts) != envelopeFields {
		return fmt.Errorf("%s: %w", op, ErrInvalidFormat)
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("%s: invalid iv hex: %w", op, ErrDecryptFailed)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%s: invalid auth tag hex: %w", op, ErrDecryptFailed)
	}
	if _, err := hex.DecodeString(parts[2]); err != nil {
		return fmt.Errorf("%s: invalid salt hex: %w", op, ErrDecryptFailed)
	}
	ciphertext, err := hex.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("%s: invalid ciphertext hex: %w", op, ErrDecryptFailed)
	}
	if len(iv) != ivLen || len(tag) != tagLen {
		return fmt.Errorf("%s: %w", op, ErrDecryptFailed)
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrDecryptFailed)
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%s: unable to unmarshal plaintext: %w", op, err)
	}
	return nil
}

// GenerateKey returns a fresh hex-encoded 256-bit key suitable for
// NewCipher.
func GenerateKey() (string, error) {
	const op = "envelope.GenerateKey"
	key, err := uuid.GenerateRandomBytes(KeyLen)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate key: %w", op, err)
	}
	return hex.EncodeToString(key), nil
}

// ValidateKey reports whether hexKey would be accepted by NewCipher.  It is
// the boolean form for health checks; it never returns an error.
func ValidateKey(hexKey string) bool {
	_, err := decodeKey(hexKey)
	return err == nil
}

func decodeKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("key is empty: %w", ErrInvalidKey)
	}
	if len(hexKey) != KeyLen*2 {
		return nil, fmt.Errorf("key must be %d hex characters, got %d: %w", KeyLen*2, len(hexKey), ErrInvalidKey)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("key is not valid hex: %w", ErrInvalidKey)
	}
	return key, nil
}

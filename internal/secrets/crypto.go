// Package secrets encrypts per-owner credentials at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion = 1
	algorithm       = "A256GCM"
	keySize         = 32
	hkdfInfo        = "design2code credentials v1"
)

var (
	// ErrMissingKey is returned when no encryption key is configured.
	ErrMissingKey = errors.New("secrets encryption key is not configured")

	// ErrInvalidEnvelope is returned for ciphertext that cannot be opened.
	ErrInvalidEnvelope = errors.New("invalid secret envelope")
)

// envelope is the stored JSON form of an encrypted secret.
type envelope struct {
	V   int    `json:"v"`
	Alg string `json:"alg"`
	IV  string `json:"iv"`
	Tag string `json:"tag"`
	CT  string `json:"ct"`
}

// DeriveKey turns the configured key into 32 key bytes. A value that decodes
// from base64 to exactly 32 bytes is used as is; anything else goes through
// HKDF-SHA256.
func DeriveKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingKey
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == keySize {
		return b, nil
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(raw), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Cipher seals secrets with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from the configured key.
func NewCipher(rawKey string) (*Cipher, error) {
	key, err := DeriveKey(rawKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plain into a JSON envelope.
func (c *Cipher) Encrypt(plain string) (string, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plain), nil)
	tagStart := len(sealed) - c.aead.Overhead()

	b, err := json.Marshal(envelope{
		V:   envelopeVersion,
		Alg: algorithm,
		IV:  base64.StdEncoding.EncodeToString(iv),
		Tag: base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		CT:  base64.StdEncoding.EncodeToString(sealed[:tagStart]),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(b), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *Cipher) Decrypt(enc string) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(enc), &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.V != envelopeVersion || env.Alg != algorithm {
		return "", fmt.Errorf("%w: unsupported version %d/%s", ErrInvalidEnvelope, env.V, env.Alg)
	}

	iv, err1 := base64.StdEncoding.DecodeString(env.IV)
	tag, err2 := base64.StdEncoding.DecodeString(env.Tag)
	ct, err3 := base64.StdEncoding.DecodeString(env.CT)
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(iv) != c.aead.NonceSize() || len(tag) != c.aead.Overhead() {
		return "", fmt.Errorf("%w: bad nonce or tag length", ErrInvalidEnvelope)
	}

	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return string(plain), nil
}

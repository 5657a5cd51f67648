// Package crypto protects provider-issued secrets at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// keySalt is fixed so that every process derives the same key from the
	// same passphrase
	keySalt = "third_party_services_salt"
	// keyIterations is the PBKDF2 work factor
	keyIterations = 100000
	// keyLength selects AES-256
	keyLength = 32
)

var (
	// ErrEmptyPassphrase is returned when no passphrase is configured
	ErrEmptyPassphrase = errors.New("crypto: encryption passphrase is required")
	// ErrMalformedCiphertext is returned for input that was not produced by Encrypt
	ErrMalformedCiphertext = errors.New("crypto: malformed ciphertext")
)

// SecretCipher encrypts short secrets with AES-256-GCM under a key derived
// once from a passphrase. Output is URL-safe base64 of nonce||ciphertext.
// It is safe for concurrent use.
type SecretCipher struct {
	aead cipher.AEAD
}

// NewSecretCipher derives the key from passphrase
func NewSecretCipher(passphrase string) (*SecretCipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}

	return &SecretCipher{aead: aead}, nil
}

// Encrypt returns the ciphertext of plaintext. Empty input is returned as is.
func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input is returned as is.
func (c *SecretCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptSecrets encrypts the API and secret keys of s. Already encrypted
// secrets are returned unchanged.
func (c *SecretCipher) EncryptSecrets(s provisioning.Secrets) (provisioning.Secrets, error) {
	if s.Encrypted {
		return s, nil
	}
	apiKey, err := c.Encrypt(s.APIKey)
	if err != nil {
		return provisioning.Secrets{}, err
	}
	secretKey, err := c.Encrypt(s.SecretKey)
	if err != nil {
		return provisioning.Secrets{}, err
	}
	return provisioning.Secrets{APIKey: apiKey, SecretKey: secretKey, Encrypted: true}, nil
}

// DecryptSecrets returns the clear-text form of s
func (c *SecretCipher) DecryptSecrets(s provisioning.Secrets) (provisioning.Secrets, error) {
	if !s.Encrypted {
		return s, nil
	}
	apiKey, err := c.Decrypt(s.APIKey)
	if err != nil {
		return provisioning.Secrets{}, err
	}
	secretKey, err := c.Decrypt(s.SecretKey)
	if err != nil {
		return provisioning.Secrets{}, err
	}
	return provisioning.Secrets{APIKey: apiKey, SecretKey: secretKey}, nil
}

var _ provisioning.SecretCipher = (*SecretCipher)(nil)

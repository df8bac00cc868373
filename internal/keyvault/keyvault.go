// Package keyvault seals holders' private signing keys before they are stored.
//
// Each sealed value is "v1." followed by base64url(salt | nonce | ciphertext).
// A per-record key is derived from the master key with HKDF-SHA256 over a random
// salt and the value is encrypted with XChaCha20-Poly1305. The owning user id is
// bound as additional data, so a sealed key copied onto another user row will not open.
package keyvault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	prefix     = "v1."
	saltSize   = 16
	MasterSize = 32
	hkdfInfo   = "ticket-ledger/signing-key/v1"
)

var (
	ErrInvalidMasterKey = errors.New("master key must be 32 bytes")
	ErrMalformed        = errors.New("sealed value is malformed")
	ErrOpen             = errors.New("sealed value cannot be opened")
)

type Vault struct {
	master []byte
	random io.Reader
}

func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != MasterSize {
		return nil, ErrInvalidMasterKey
	}
	return &Vault{
		master: append([]byte(nil), masterKey...),
		random: rand.Reader,
	}, nil
}

// NewFromBase64 builds a vault from the standard base64 master key held in config.
func NewFromBase64(encoded string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	return New(key)
}

// Seal encrypts plaintext for userID.
func (v *Vault) Seal(userID string, plaintext []byte) (string, error) {
	buf := make([]byte, saltSize+chacha20poly1305.NonceSizeX, saltSize+chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := io.ReadFull(v.random, buf); err != nil {
		return "", fmt.Errorf("failed to read randomness: %w", err)
	}
	salt, nonce := buf[:saltSize], buf[saltSize:]

	aead, err := v.aead(salt)
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(buf, nonce, plaintext, []byte(userID))
	return prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal for the same userID.
func (v *Vault) Open(userID, sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, prefix) {
		return nil, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return nil, ErrMalformed
	}
	if len(raw) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrMalformed
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := raw[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := v.aead(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(userID))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, v.master, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive record key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return aead, nil
}

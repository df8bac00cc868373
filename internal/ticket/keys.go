package ticket

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// KeyPair is a holder's Ed25519 signing key pair. The private half must be sealed
// before it is persisted.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair creates a key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairFrom(rand.Reader)
}

// GenerateKeyPairFrom creates a key pair from the given entropy source.
func GenerateKeyPairFrom(random io.Reader) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// String never includes the private key.
func (k KeyPair) String() string {
	return "KeyPair{public:" + EncodeKey(k.PublicKey) + "}"
}

// GoString keeps %#v from dumping the private key.
func (k KeyPair) GoString() string { return k.String() }

// EncodeKey renders key bytes as standard base64 for storage.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodePublicKey parses a base64 public key and checks its length.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &CryptoError{Op: "decode public key", Err: err}
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, &CryptoError{Op: "decode public key", Err: ErrInvalidPublicKey}
	}
	return ed25519.PublicKey(b), nil
}

// DecodePrivateKey parses a base64 private key and checks its length.
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &CryptoError{Op: "decode private key", Err: err}
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, &CryptoError{Op: "decode private key", Err: ErrInvalidPrivateKey}
	}
	return ed25519.PrivateKey(b), nil
}

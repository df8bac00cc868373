package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"ticket-ledger/internal/keyvault"
	"ticket-ledger/internal/repositories/userrepo"
	"ticket-ledger/internal/ticket"
)

type KeyStore interface {
	SaveSigningKeys(ctx context.Context, userID string, keys userrepo.StoredKeys, overwrite bool) error
	GetSigningKeys(ctx context.Context, userID string) (*userrepo.StoredKeys, error)
	GetPublicKey(ctx context.Context, userID string) (string, error)
}

// KeyService provisions per-user signing keys. Private keys are only ever stored
// sealed by the vault, with the user id bound in as associated data.
type KeyService struct {
	store  KeyStore
	vault  *keyvault.Vault
	random io.Reader
	logger *slog.Logger
}

func NewKeyService(store KeyStore, vault *keyvault.Vault, logger *slog.Logger) *KeyService {
	return &KeyService{
		store:  store,
		vault:  vault,
		random: rand.Reader,
		logger: logger,
	}
}

// Provision generates and stores a key pair for userID and returns the public key
// in base64. An existing pair is kept unless rotate is set.
func (s *KeyService) Provision(ctx context.Context, userID string, rotate bool) (string, error) {
	pair, err := ticket.GenerateKeyPairFrom(s.random)
	if err != nil {
		return "", err
	}

	sealed, err := s.vault.Seal(userID, pair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to seal private key: %w", err)
	}

	pub := ticket.EncodeKey(pair.PublicKey)
	err = s.store.SaveSigningKeys(ctx, userID, userrepo.StoredKeys{
		PublicKey:        pub,
		SealedPrivateKey: sealed,
	}, rotate)
	if err != nil {
		return "", err
	}

	s.logger.Info("signing key provisioned", "user_id", userID, "rotated", rotate)
	return pub, nil
}

// SigningKey unseals the user's private key.
func (s *KeyService) SigningKey(ctx context.Context, userID string) (ed25519.PrivateKey, error) {
	keys, err := s.store.GetSigningKeys(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := s.vault.Open(userID, keys.SealedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, &ticket.CryptoError{Op: "unseal", Err: ticket.ErrInvalidPrivateKey}
	}
	return ed25519.PrivateKey(raw), nil
}

func (s *KeyService) PublicKey(ctx context.Context, userID string) (ed25519.PublicKey, error) {
	encoded, err := s.store.GetPublicKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ticket.DecodePublicKey(encoded)
}

// isUnknownHolder reports lookups that failed because there is no key to find.
func isUnknownHolder(err error) bool {
	return errors.Is(err, userrepo.ErrUserNotFound) || errors.Is(err, userrepo.ErrKeyNotFound)
}

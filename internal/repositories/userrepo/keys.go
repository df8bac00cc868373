package userrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrKeyNotFound  = errors.New("signing key not provisioned")
	ErrKeyExists    = errors.New("signing key already provisioned")
)

// StoredKeys is what the users table keeps per holder: the public key in base64 and
// the private key sealed by keyvault.
type StoredKeys struct {
	PublicKey        string
	SealedPrivateKey string
}

type KeyRepository struct {
	db *pgxpool.Pool
}

func NewKeyRepository(db *pgxpool.Pool) *KeyRepository {
	return &KeyRepository{db: db}
}

// SaveSigningKeys stores a key pair on the user row. Without overwrite it only
// fills an empty slot and reports ErrKeyExists otherwise.
func (r *KeyRepository) SaveSigningKeys(ctx context.Context, userID string, keys StoredKeys, overwrite bool) error {
	query := `
		UPDATE users
		SET signing_public_key = $1, signing_private_key = $2, signing_key_updated_at = NOW()
		WHERE id = $3 AND ($4 OR signing_public_key IS NULL)`

	tag, err := r.db.Exec(ctx, query, keys.PublicKey, keys.SealedPrivateKey, userID, overwrite)
	if err != nil {
		return fmt.Errorf("failed to save signing keys: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return ErrKeyExists
}

func (r *KeyRepository) GetSigningKeys(ctx context.Context, userID string) (*StoredKeys, error) {
	query := `SELECT signing_public_key, signing_private_key FROM users WHERE id = $1`

	var pub, sealed *string
	err := r.db.QueryRow(ctx, query, userID).Scan(&pub, &sealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get signing keys: %w", err)
	}
	if pub == nil || sealed == nil {
		return nil, ErrKeyNotFound
	}

	return &StoredKeys{PublicKey: *pub, SealedPrivateKey: *sealed}, nil
}

func (r *KeyRepository) GetPublicKey(ctx context.Context, userID string) (string, error) {
	query := `SELECT signing_public_key FROM users WHERE id = $1`

	var pub *string
	err := r.db.QueryRow(ctx, query, userID).Scan(&pub)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get public key: %w", err)
	}
	if pub == nil {
		return "", ErrKeyNotFound
	}

	return *pub, nil
}

func (r *KeyRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

package postgresrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-ledger/internal/models"

	"github.com/jmoiron/sqlx"
)

var (
	ErrCardNotFound        = errors.New("card not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrTransactionCanceled = errors.New("transaction already canceled")
)

type LedgerRepo struct {
	db *sqlx.DB
}

func NewLedgerRepo(db *sqlx.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// BeginTx starts a transaction and returns a transactional repository
func (r *LedgerRepo) BeginTx(ctx context.Context) (*TxLedgerRepo, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return NewTxLedgerRepo(tx), nil
}

// CreateTransaction inserts a transaction row in PENDING state
func (r *LedgerRepo) CreateTransaction(ctx context.Context, t models.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, card_id, amount, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, t.ID, t.UserID, t.CardID, t.Amount, t.Type, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransaction returns a transaction by ID, for status polling
func (r *LedgerRepo) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	query := `SELECT id, user_id, card_id, amount, type, canceled_at, created_at FROM transactions WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

// GetCard reads a card without locking it.
func (r *LedgerRepo) GetCard(ctx context.Context, id string) (*models.Card, error) {
	var card models.Card
	query := `SELECT id, user_id, balance, updated_at FROM cards WHERE id = $1`
	if err := r.db.GetContext(ctx, &card, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &card, nil
}

func (r *LedgerRepo) GetWallet(ctx context.Context, id string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT id, organiser_id, balance, last_payout_at, updated_at FROM wallets WHERE id = $1`
	if err := r.db.GetContext(ctx, &wallet, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// CancelTransaction marks a transaction that never reached the ledger as CANCEL.
// Transactions already moved into a ledger type are left untouched; the return
// value reports whether a row changed.
func (r *LedgerRepo) CancelTransaction(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE transactions
		SET type = $1, canceled_at = $2
		WHERE id = $3 AND canceled_at IS NULL AND type IN ($4, $5)
	`
	result, err := r.db.ExecContext(ctx, query,
		models.TransactionTypeCancel, at, id,
		models.TransactionTypePending, models.TransactionTypePurchase,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Ping checks the connection, for health probes
func (r *LedgerRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

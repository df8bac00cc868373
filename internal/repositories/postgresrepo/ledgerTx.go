package postgresrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-ledger/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type TxLedgerRepo struct {
	tx *sqlx.Tx
}

func NewTxLedgerRepo(tx *sqlx.Tx) *TxLedgerRepo {
	return &TxLedgerRepo{tx: tx}
}

func (r *TxLedgerRepo) Commit() error {
	return r.tx.Commit()
}

func (r *TxLedgerRepo) Rollback() error {
	return r.tx.Rollback()
}

// MarkTransactionType moves a transaction into target type. The update is guarded
// so a job replayed after a crash finds the row already in target and reports
// applied=false instead of mutating balances a second time.
func (r *TxLedgerRepo) MarkTransactionType(ctx context.Context, id, target string, canceledAt *time.Time) (bool, error) {
	query := `
		UPDATE transactions
		SET type = $1, canceled_at = COALESCE($2, canceled_at)
		WHERE id = $3 AND type <> $1 AND canceled_at IS NULL
	`
	result, err := r.tx.ExecContext(ctx, query, target, canceledAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	// Nothing changed: find out whether it was already applied or is gone.
	var current struct {
		Type       string     `db:"type"`
		CanceledAt *time.Time `db:"canceled_at"`
	}
	err = r.tx.GetContext(ctx, &current, `SELECT type, canceled_at FROM transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrTransactionNotFound
		}
		return false, fmt.Errorf("failed to read transaction: %w", err)
	}
	if current.Type == target {
		return false, nil
	}
	if current.CanceledAt != nil {
		return false, ErrTransactionCanceled
	}
	return false, fmt.Errorf("transaction %s changed concurrently to %s", id, current.Type)
}

func (r *TxLedgerRepo) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	query := `SELECT id, user_id, card_id, amount, type, canceled_at, created_at FROM transactions WHERE id = $1`
	if err := r.tx.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

func (r *TxLedgerRepo) LockCardForUpdate(ctx context.Context, cardID string) (*models.Card, error) {
	var card models.Card
	query := `SELECT id, user_id, balance FROM cards WHERE id = $1 FOR UPDATE`
	err := r.tx.GetContext(ctx, &card, query, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
		}
		return nil, fmt.Errorf("failed to lock card: %w", err)
	}
	return &card, nil
}

func (r *TxLedgerRepo) LockWalletForUpdate(ctx context.Context, organiserID string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT id, organiser_id, balance, last_payout_at FROM wallets WHERE organiser_id = $1 FOR UPDATE`
	err := r.tx.GetContext(ctx, &wallet, query, organiserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: organiser %s", ErrWalletNotFound, organiserID)
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

func (r *TxLedgerRepo) UpdateCardBalance(ctx context.Context, cardID string, balance decimal.Decimal) error {
	query := `UPDATE cards SET balance = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.tx.ExecContext(ctx, query, balance, cardID)
	if err != nil {
		return fmt.Errorf("failed to update card balance: %w", err)
	}
	return expectOneRow(result, ErrCardNotFound)
}

// UpdateWalletBalance writes the balance and, when lastPayoutAt is set, the payout stamp
func (r *TxLedgerRepo) UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal, lastPayoutAt *time.Time) error {
	query := `
		UPDATE wallets
		SET balance = $1, last_payout_at = COALESCE($2, last_payout_at), updated_at = NOW()
		WHERE id = $3
	`
	result, err := r.tx.ExecContext(ctx, query, balance, lastPayoutAt, walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	return expectOneRow(result, ErrWalletNotFound)
}

// GetRefundChain locks the ticket and slot bought by a transaction and resolves
// the organiser that was paid for it.
func (r *TxLedgerRepo) GetRefundChain(ctx context.Context, transactionID string) (*models.RefundChain, error) {
	var chain models.RefundChain
	query := `
		SELECT t.id AS ticket_id, t.slot_id, t.quantity, s.event_id, e.organiser_id
		FROM tickets t
		JOIN event_slots s ON s.id = t.slot_id
		JOIN events e ON e.id = s.event_id
		WHERE t.transaction_id = $1
		FOR UPDATE OF t, s
	`
	err := r.tx.GetContext(ctx, &chain, query, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ErrTicketNotFound, transactionID)
		}
		return nil, fmt.Errorf("failed to load refund chain: %w", err)
	}
	return &chain, nil
}

func (r *TxLedgerRepo) RestoreSlotCapacity(ctx context.Context, slotID string, quantity int) error {
	query := `UPDATE event_slots SET capacity = capacity + $1 WHERE id = $2`
	result, err := r.tx.ExecContext(ctx, query, quantity, slotID)
	if err != nil {
		return fmt.Errorf("failed to restore slot capacity: %w", err)
	}
	return expectOneRow(result, ErrTicketNotFound)
}

func (r *TxLedgerRepo) DeleteTicket(ctx context.Context, ticketID string) error {
	result, err := r.tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, ticketID)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	return expectOneRow(result, ErrTicketNotFound)
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories/postgresrepo"

	"github.com/shopspring/decimal"
)

// LedgerTx is one database transaction over the ledger tables.
type LedgerTx interface {
	Commit() error
	Rollback() error
	MarkTransactionType(ctx context.Context, id, target string, canceledAt *time.Time) (bool, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	LockCardForUpdate(ctx context.Context, cardID string) (*models.Card, error)
	LockWalletForUpdate(ctx context.Context, organiserID string) (*models.Wallet, error)
	UpdateCardBalance(ctx context.Context, cardID string, balance decimal.Decimal) error
	UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal, lastPayoutAt *time.Time) error
	GetRefundChain(ctx context.Context, transactionID string) (*models.RefundChain, error)
	RestoreSlotCapacity(ctx context.Context, slotID string, quantity int) error
	DeleteTicket(ctx context.Context, ticketID string) error
}

type LedgerStore interface {
	Begin(ctx context.Context) (LedgerTx, error)
	CancelTransaction(ctx context.Context, id string, at time.Time) (bool, error)
}

type BalanceCache interface {
	SetCardBalance(ctx context.Context, cardID string, balance decimal.Decimal) error
	SetWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal) error
}

type pgLedger struct {
	*postgresrepo.LedgerRepo
}

// NewLedgerStore adapts the sqlx repository to LedgerStore.
func NewLedgerStore(repo *postgresrepo.LedgerRepo) LedgerStore {
	return pgLedger{repo}
}

func (p pgLedger) Begin(ctx context.Context) (LedgerTx, error) {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

type LedgerService struct {
	store  LedgerStore
	cache  BalanceCache
	logger *slog.Logger
	now    func() time.Time
}

func NewLedgerService(store LedgerStore, cache BalanceCache, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

type balanceKind int

const (
	cardBalance balanceKind = iota
	walletBalance
)

type balanceUpdate struct {
	kind    balanceKind
	id      string
	balance decimal.Decimal
}

// Apply runs the handler for job.Type. applied is false when the transaction
// already carried the target type, i.e. the job is a replay and nothing changed.
// Errors the job data caused come back as *PermanentError.
func (s *LedgerService) Apply(ctx context.Context, job models.TransactionJob) (bool, error) {
	var (
		applied bool
		err     error
	)
	switch job.Type {
	case models.JobTypeDeposit:
		applied, err = s.Deposit(ctx, job)
	case models.JobTypeWithdrawal:
		applied, err = s.Withdraw(ctx, job)
	case models.JobTypePayout:
		applied, err = s.Payout(ctx, job)
	case models.JobTypeRefund:
		applied, err = s.Refund(ctx, job)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	}
	return applied, classify(err)
}

// Deposit credits the card.
func (s *LedgerService) Deposit(ctx context.Context, job models.TransactionJob) (bool, error) {
	if err := checkCardJob(job); err != nil {
		return false, err
	}
	return s.inTx(ctx, job.TransactionID, models.TransactionTypeDeposit, nil,
		func(tx LedgerTx) ([]balanceUpdate, error) {
			card, err := tx.LockCardForUpdate(ctx, job.CardID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock card: %w", err)
			}
			balance := card.Balance.Add(job.Amount)
			if err := tx.UpdateCardBalance(ctx, card.ID, balance); err != nil {
				return nil, err
			}
			return []balanceUpdate{{kind: cardBalance, id: card.ID, balance: balance}}, nil
		})
}

// Withdraw debits the card. A withdrawal that would leave a negative balance is rejected.
func (s *LedgerService) Withdraw(ctx context.Context, job models.TransactionJob) (bool, error) {
	if err := checkCardJob(job); err != nil {
		return false, err
	}
	return s.inTx(ctx, job.TransactionID, models.TransactionTypeWithdrawal, nil,
		func(tx LedgerTx) ([]balanceUpdate, error) {
			card, err := tx.LockCardForUpdate(ctx, job.CardID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock card: %w", err)
			}
			if card.Balance.LessThan(job.Amount) {
				return nil, fmt.Errorf("%w: card %s has %s, needs %s", ErrInsufficientFunds, card.ID, card.Balance, job.Amount)
			}
			balance := card.Balance.Sub(job.Amount)
			if err := tx.UpdateCardBalance(ctx, card.ID, balance); err != nil {
				return nil, err
			}
			return []balanceUpdate{{kind: cardBalance, id: card.ID, balance: balance}}, nil
		})
}

// Payout moves money from the organiser's wallet (job.UserID) to the card.
func (s *LedgerService) Payout(ctx context.Context, job models.TransactionJob) (bool, error) {
	if err := checkCardJob(job); err != nil {
		return false, err
	}
	if job.UserID == "" {
		return false, models.ErrMissingUser
	}
	return s.inTx(ctx, job.TransactionID, models.TransactionTypePayout, nil,
		func(tx LedgerTx) ([]balanceUpdate, error) {
			wallet, err := tx.LockWalletForUpdate(ctx, job.UserID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock wallet: %w", err)
			}
			card, err := tx.LockCardForUpdate(ctx, job.CardID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock card: %w", err)
			}
			if wallet.Balance.LessThan(job.Amount) {
				return nil, fmt.Errorf("%w: wallet %s has %s, needs %s", ErrInsufficientFunds, wallet.ID, wallet.Balance, job.Amount)
			}

			now := s.now()
			walletBal := wallet.Balance.Sub(job.Amount)
			cardBal := card.Balance.Add(job.Amount)
			if err := tx.UpdateWalletBalance(ctx, wallet.ID, walletBal, &now); err != nil {
				return nil, err
			}
			if err := tx.UpdateCardBalance(ctx, card.ID, cardBal); err != nil {
				return nil, err
			}
			return []balanceUpdate{
				{kind: walletBalance, id: wallet.ID, balance: walletBal},
				{kind: cardBalance, id: card.ID, balance: cardBal},
			}, nil
		})
}

// Refund reverses a purchase: the organiser's wallet pays the buyer's card back,
// the purchase is marked REFUND and canceled, the slot regains its capacity and
// the ticket is deleted.
func (s *LedgerService) Refund(ctx context.Context, job models.TransactionJob) (bool, error) {
	if err := checkAmount(job); err != nil {
		return false, err
	}
	canceledAt := s.now()
	return s.inTx(ctx, job.TransactionID, models.TransactionTypeRefund, &canceledAt,
		func(tx LedgerTx) ([]balanceUpdate, error) {
			original, err := tx.GetTransaction(ctx, job.TransactionID)
			if err != nil {
				return nil, err
			}
			cardID := job.CardID
			if cardID == "" && original.CardID != nil {
				cardID = *original.CardID
			}
			if cardID == "" {
				return nil, fmt.Errorf("%w: no card on transaction %s", postgresrepo.ErrCardNotFound, original.ID)
			}

			// Lock order: ticket and slot, then wallet, then card.
			chain, err := tx.GetRefundChain(ctx, original.ID)
			if err != nil {
				return nil, err
			}
			wallet, err := tx.LockWalletForUpdate(ctx, chain.OrganiserID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock wallet: %w", err)
			}
			card, err := tx.LockCardForUpdate(ctx, cardID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock card: %w", err)
			}
			if wallet.Balance.LessThan(job.Amount) {
				return nil, fmt.Errorf("%w: wallet %s has %s, needs %s", ErrInsufficientFunds, wallet.ID, wallet.Balance, job.Amount)
			}

			walletBal := wallet.Balance.Sub(job.Amount)
			cardBal := card.Balance.Add(job.Amount)
			if err := tx.UpdateWalletBalance(ctx, wallet.ID, walletBal, nil); err != nil {
				return nil, err
			}
			if err := tx.UpdateCardBalance(ctx, card.ID, cardBal); err != nil {
				return nil, err
			}
			if err := tx.RestoreSlotCapacity(ctx, chain.SlotID, chain.Quantity); err != nil {
				return nil, err
			}
			if err := tx.DeleteTicket(ctx, chain.TicketID); err != nil {
				return nil, err
			}
			return []balanceUpdate{
				{kind: walletBalance, id: wallet.ID, balance: walletBal},
				{kind: cardBalance, id: card.ID, balance: cardBal},
			}, nil
		})
}

// CancelTransaction marks a transaction CANCEL. Only PENDING and PURCHASE rows
// move; anything already applied or canceled is left alone.
func (s *LedgerService) CancelTransaction(ctx context.Context, transactionID string) (bool, error) {
	canceled, err := s.store.CancelTransaction(ctx, transactionID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to cancel transaction %s: %w", transactionID, err)
	}
	return canceled, nil
}

// inTx runs fn inside one database transaction after the idempotency guard has
// moved the transaction row to target. When the guard reports the row already
// in target the transaction is rolled back and the job counts as applied.
func (s *LedgerService) inTx(
	ctx context.Context,
	transactionID, target string,
	canceledAt *time.Time,
	fn func(tx LedgerTx) ([]balanceUpdate, error),
) (bool, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	marked, err := tx.MarkTransactionType(ctx, transactionID, target, canceledAt)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return false, fmt.Errorf("guard error: %w, rollback error: %v", err, rollbackErr)
		}
		return false, err
	}
	if !marked {
		if err := tx.Rollback(); err != nil {
			return false, fmt.Errorf("failed to roll back replayed job: %w", err)
		}
		return false, nil
	}

	updates, err := fn(tx)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return false, fmt.Errorf("process error: %w, rollback error: %v", err, rollbackErr)
		}
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	// Cache is refreshed outside the transaction; Postgres stays authoritative.
	s.updateCache(ctx, updates)
	return true, nil
}

func (s *LedgerService) updateCache(ctx context.Context, updates []balanceUpdate) {
	if s.cache == nil {
		return
	}
	for _, u := range updates {
		var err error
		switch u.kind {
		case cardBalance:
			err = s.cache.SetCardBalance(ctx, u.id, u.balance)
		case walletBalance:
			err = s.cache.SetWalletBalance(ctx, u.id, u.balance)
		}
		if err != nil {
			s.logger.Warn("failed to update balance cache", "id", u.id, "error", err)
		}
	}
}

func checkAmount(job models.TransactionJob) error {
	if !job.Amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return nil
}

func checkCardJob(job models.TransactionJob) error {
	if err := checkAmount(job); err != nil {
		return err
	}
	if job.CardID == "" {
		return models.ErrMissingCard
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"log/slog"

	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories/redisrepo"

	"github.com/shopspring/decimal"
)

// CachedBalances is the Redis side of balance reads.
type CachedBalances interface {
	BalanceCache
	GetCardBalance(ctx context.Context, cardID string) (decimal.Decimal, error)
	GetWalletBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// LedgerReader reads ledger rows without locking them.
type LedgerReader interface {
	GetCard(ctx context.Context, id string) (*models.Card, error)
	GetWallet(ctx context.Context, id string) (*models.Wallet, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
}

// Balance is a balance and where it was read from.
type Balance struct {
	Amount decimal.Decimal
	Cached bool
}

// QueryService answers balance and status lookups. Balances come from the cache
// when present and from Postgres otherwise, refilling the cache on the way out.
type QueryService struct {
	ledger LedgerReader
	cache  CachedBalances
	logger *slog.Logger
}

func NewQueryService(ledger LedgerReader, cache CachedBalances, logger *slog.Logger) *QueryService {
	return &QueryService{ledger: ledger, cache: cache, logger: logger}
}

func (s *QueryService) CardBalance(ctx context.Context, cardID string) (Balance, error) {
	return s.balance(ctx, cardID, s.cache.GetCardBalance, s.cache.SetCardBalance,
		func(ctx context.Context, id string) (decimal.Decimal, error) {
			card, err := s.ledger.GetCard(ctx, id)
			if err != nil {
				return decimal.Zero, err
			}
			return card.Balance, nil
		})
}

func (s *QueryService) WalletBalance(ctx context.Context, walletID string) (Balance, error) {
	return s.balance(ctx, walletID, s.cache.GetWalletBalance, s.cache.SetWalletBalance,
		func(ctx context.Context, id string) (decimal.Decimal, error) {
			wallet, err := s.ledger.GetWallet(ctx, id)
			if err != nil {
				return decimal.Zero, err
			}
			return wallet.Balance, nil
		})
}

// Transaction returns the row as the ledger holds it. Its type shows where the
// job is: PENDING while queued, the job type once applied, CANCEL after a
// dead-letter.
func (s *QueryService) Transaction(ctx context.Context, id string) (*models.Transaction, error) {
	return s.ledger.GetTransaction(ctx, id)
}

type balanceGetter func(ctx context.Context, id string) (decimal.Decimal, error)

func (s *QueryService) balance(
	ctx context.Context,
	id string,
	fromCache balanceGetter,
	refill func(ctx context.Context, id string, balance decimal.Decimal) error,
	fromLedger balanceGetter,
) (Balance, error) {
	cached, err := fromCache(ctx, id)
	switch {
	case err == nil:
		return Balance{Amount: cached, Cached: true}, nil
	case !errors.Is(err, redisrepo.ErrBalanceNotFound):
		s.logger.Warn("balance cache unavailable, reading ledger", "id", id, "error", err)
	}

	amount, err := fromLedger(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	if err := refill(ctx, id, amount); err != nil {
		s.logger.Warn("failed to refill balance cache", "id", id, "error", err)
	}
	return Balance{Amount: amount}, nil
}

package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	expiration = 5 * time.Minute
)

var (
	ErrBalanceNotFound = errors.New("balance not found in cache")
)

// BalanceCache holds the last committed card and wallet balances for readers.
// Postgres stays authoritative; a miss means "go ask the ledger".
type BalanceCache struct {
	client *redis.Client
}

func NewBalanceCache(client *redis.Client) *BalanceCache {
	return &BalanceCache{client: client}
}

func (c *BalanceCache) SetCardBalance(ctx context.Context, cardID string, balance decimal.Decimal) error {
	return c.set(ctx, cardKey(cardID), balance)
}

func (c *BalanceCache) GetCardBalance(ctx context.Context, cardID string) (decimal.Decimal, error) {
	return c.get(ctx, cardKey(cardID))
}

func (c *BalanceCache) SetWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	return c.set(ctx, walletKey(walletID), balance)
}

func (c *BalanceCache) GetWalletBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	return c.get(ctx, walletKey(walletID))
}

func (c *BalanceCache) set(ctx context.Context, key string, balance decimal.Decimal) error {
	err := c.client.Set(ctx, key, balance.String(), expiration).Err()
	if err != nil {
		return fmt.Errorf("failed to set balance in redis: %w", err)
	}
	return nil
}

func (c *BalanceCache) get(ctx context.Context, key string) (decimal.Decimal, error) {
	balanceStr, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, ErrBalanceNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get balance from redis: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance from redis: %w", err)
	}

	return balance, nil
}

func cardKey(cardID string) string {
	return "card:" + cardID + ":balance"
}

func walletKey(walletID string) string {
	return "wallet:" + walletID + ":balance"
}

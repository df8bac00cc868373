package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"ticket-ledger/internal/cache"
	"ticket-ledger/internal/config"
	"ticket-ledger/internal/database"
	"ticket-ledger/internal/keyvault"
	"ticket-ledger/internal/repositories/postgresrepo"
	"ticket-ledger/internal/repositories/redisrepo"
	"ticket-ledger/internal/repositories/userrepo"
	"ticket-ledger/internal/services"
	"ticket-ledger/internal/ticket"

	"github.com/go-redis/redis/v8"
)

// quietLogger keeps service logs out of command output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openQueue(s *Settings) (*redisrepo.JobQueue, *redis.Client, error) {
	client, err := cache.NewRedis(redisConfig(s))
	if err != nil {
		return nil, nil, err
	}
	return redisrepo.NewJobQueue(client, redisrepo.QueueNames{
		Pending:    s.QueuePending,
		Processing: s.QueueProcessing,
		DeadLetter: s.QueueDeadLetter,
	}), client, nil
}

// openKeyService connects to the users database and opens the vault.
func openKeyService(ctx context.Context, s *Settings) (*services.KeyService, func(), error) {
	if s.UsersDatabaseURL == "" {
		return nil, nil, errors.New("users_database_url is not set")
	}
	vault, err := keyvault.NewFromBase64(s.KeyvaultMasterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("keyvault: %w", err)
	}
	pool, err := database.NewUserPool(ctx, s.UsersDatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return services.NewKeyService(userrepo.NewKeyRepository(pool), vault, quietLogger()), pool.Close, nil
}

func openTicketService(ctx context.Context, s *Settings) (*services.TicketService, func(), error) {
	keys, closeFn, err := openKeyService(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	grace := ticket.WithGracePeriod(s.GracePeriod)
	return services.NewTicketService(keys, ticket.NewSigner(grace), ticket.NewVerifier(grace), quietLogger()), closeFn, nil
}

func openTransactionService(s *Settings) (*services.TransactionService, func(), error) {
	if s.PostgresURL == "" {
		return nil, nil, errors.New("postgres_url is not set")
	}
	db, err := database.NewPostgres(s.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	queue, client, err := openQueue(s)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	closer := func() {
		client.Close()
		db.Close()
	}
	return services.NewTransactionService(postgresrepo.NewLedgerRepo(db), queue, quietLogger()), closer, nil
}

// openQueryService reads balances through the Redis cache with Postgres behind it.
func openQueryService(s *Settings) (*services.QueryService, func(), error) {
	if s.PostgresURL == "" {
		return nil, nil, errors.New("postgres_url is not set")
	}
	db, err := database.NewPostgres(s.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	client, err := cache.NewRedis(redisConfig(s))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	closer := func() {
		client.Close()
		db.Close()
	}
	svc := services.NewQueryService(postgresrepo.NewLedgerRepo(db), redisrepo.NewBalanceCache(client), quietLogger())
	return svc, closer, nil
}

func redisConfig(s *Settings) config.RedisConfig {
	return config.RedisConfig{
		Addr:     s.RedisAddr,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	}
}

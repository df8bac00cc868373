package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ticket-ledger/internal/broker"
	"ticket-ledger/internal/cache"
	"ticket-ledger/internal/config"
	"ticket-ledger/internal/database"
	"ticket-ledger/internal/events"
	"ticket-ledger/internal/intake"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/metrics"
	"ticket-ledger/internal/ops"
	"ticket-ledger/internal/repositories/postgresrepo"
	"ticket-ledger/internal/repositories/redisrepo"
	"ticket-ledger/internal/services"
	"ticket-ledger/internal/worker"

	"github.com/IBM/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sqlx.DB
	redis     *redis.Client
	publisher events.Publisher
	group     sarama.ConsumerGroup
	worker    *worker.Worker
	bridge    *intake.Bridge
	opsSrv    *http.Server
}

func New() (*App, error) {
	a := new(App)

	// Initialize config
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.New(cfg.LogLevel)

	// Connect to database
	a.db, err = database.NewPostgres(cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("database connection error: %w", err)
	}

	// Connect to cache
	a.redis, err = cache.NewRedis(cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("cache connection error: %w", err)
	}

	a.publisher, err = NewPublisher(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("events broker error: %w", err)
	}

	m := metrics.New()

	// Initialize repositories
	ledgerRepo := postgresrepo.NewLedgerRepo(a.db)
	queue := redisrepo.NewJobQueue(a.redis, QueueNames(cfg.Queue))
	balances := redisrepo.NewBalanceCache(a.redis)

	// Initialize services
	ledger := services.NewLedgerService(services.NewLedgerStore(ledgerRepo), balances, a.logger)

	a.worker = worker.New(queue, ledger, a.publisher, m, a.logger, worker.Options{
		MaxAttempts:  cfg.Worker.MaxAttempts,
		BaseDelay:    cfg.Worker.BaseDelay,
		ClaimTimeout: cfg.Worker.ClaimTimeout,
		ErrorPause:   cfg.Worker.ErrorPause,
	})

	if cfg.Kafka.IntakeEnabled {
		a.group, err = broker.NewConsumerGroup(&cfg.Kafka)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kafka consumer group error: %w", err)
		}
		a.bridge = intake.NewBridge(a.group, cfg.Kafka.JobsTopic, queue, m, a.logger)
	}

	checks := map[string]ops.CheckFunc{
		"postgres": ledgerRepo.Ping,
		"redis":    func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	}
	a.opsSrv = &http.Server{
		Addr:              cfg.Ops.Addr,
		Handler:           ops.NewHandler(m.Registry, checks, a.logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

// NewPublisher builds the outcome publisher EVENTS_BROKER asks for.
func NewPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Broker {
	case "kafka":
		return events.NewKafkaPublisher(broker.NewKafkaWriter(cfg.Kafka)), nil
	case "rabbit":
		conn, err := broker.NewRabbitConnection(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			return nil, err
		}
		return events.NewRabbitPublisher(conn, cfg.Rabbit.Exchange), nil
	default:
		return events.Noop{}, nil
	}
}

func QueueNames(cfg config.QueueConfig) redisrepo.QueueNames {
	return redisrepo.QueueNames{
		Pending:    cfg.Pending,
		Processing: cfg.Processing,
		DeadLetter: cfg.DeadLetter,
	}
}

func (a *App) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.Close()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.worker.Run(ctx); err != nil {
			a.logger.Error("worker stopped with error", "error", err)
		}
	}()

	if a.bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.bridge.Run(ctx); err != nil {
				a.logger.Error("intake stopped with error", "error", err)
			}
		}()
	}

	go func() {
		a.logger.Info("ops server listening", "addr", a.cfg.Ops.Addr)
		if err := a.opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", "error", err)
		}
	}()

	<-ctx.Done()
	a.logger.Info("received shutdown signal")

	// The worker settles its in-flight job before returning.
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.opsSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("ops server shutdown", "error", err)
	}
}

// Close releases whatever New managed to open.
func (a *App) Close() {
	if a.group != nil {
		_ = a.group.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

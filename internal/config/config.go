package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Kafka    KafkaConfig
	Rabbit   RabbitConfig
	Events   EventsConfig
	Ops      OpsConfig
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type PostgresConfig struct {
	URL string `envconfig:"POSTGRES_URL" required:"true"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	PoolSize int    `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

type QueueConfig struct {
	Pending    string `envconfig:"QUEUE_PENDING" default:"transactions:pending"`
	Processing string `envconfig:"QUEUE_PROCESSING" default:"transactions:processing"`
	DeadLetter string `envconfig:"QUEUE_DEAD_LETTER" default:"transactions:dead"`
}

type WorkerConfig struct {
	MaxAttempts  int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"3"`
	BaseDelay    time.Duration `envconfig:"WORKER_BASE_DELAY" default:"1s"`
	ClaimTimeout time.Duration `envconfig:"WORKER_CLAIM_TIMEOUT" default:"5s"`
	ErrorPause   time.Duration `envconfig:"WORKER_ERROR_PAUSE" default:"1s"`
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	JobsTopic     string   `envconfig:"KAFKA_JOBS_TOPIC" default:"transaction-jobs"`
	EventsTopic   string   `envconfig:"KAFKA_EVENTS_TOPIC" default:"transaction-outcomes"`
	ConsumerGroup string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"ticket-ledger"`
	// Sarama-specific
	Version       string `envconfig:"KAFKA_VERSION"`
	IntakeEnabled bool   `envconfig:"KAFKA_INTAKE_ENABLED" default:"false"`
}

type RabbitConfig struct {
	URL      string `envconfig:"RABBIT_URL"`
	Exchange string `envconfig:"RABBIT_EXCHANGE" default:"transaction.outcomes"`
}

// EventsConfig picks where job outcomes go: kafka, rabbit or none.
type EventsConfig struct {
	Broker string `envconfig:"EVENTS_BROKER" default:"none"`
}

type OpsConfig struct {
	Addr string `envconfig:"OPS_ADDR" default:":9090"`
}

// New loads .env when present and then reads the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Postgres.URL == "" {
		return errors.New("POSTGRES_URL is required")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	switch c.Events.Broker {
	case "none", "kafka":
	case "rabbit":
		if c.Rabbit.URL == "" {
			return errors.New("RABBIT_URL is required when EVENTS_BROKER=rabbit")
		}
	default:
		return fmt.Errorf("unknown EVENTS_BROKER %q", c.Events.Broker)
	}
	return nil
}

func (k *KafkaConfig) GetSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()

	if k.Version != "" {
		version, err := sarama.ParseKafkaVersion(k.Version)
		if err == nil {
			config.Version = version
		}
	}

	// Offsets are marked by hand once the job is on the pending queue.
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	config.Consumer.Fetch.Min = 1
	config.Consumer.Fetch.Default = 1024 * 1024 // 1MB
	config.Consumer.MaxWaitTime = 100 * time.Millisecond

	config.Net.MaxOpenRequests = 5
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second

	return config
}

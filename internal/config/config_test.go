package config

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/ledger")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Queue.Pending != "transactions:pending" || cfg.Queue.Processing != "transactions:processing" || cfg.Queue.DeadLetter != "transactions:dead" {
		t.Fatalf("queue names: %+v", cfg.Queue)
	}
	if cfg.Worker.MaxAttempts != 3 || cfg.Worker.BaseDelay != time.Second {
		t.Fatalf("worker: %+v", cfg.Worker)
	}
	if cfg.Ops.Addr != ":9090" || cfg.Redis.PoolSize != 10 {
		t.Fatalf("ops/redis: %+v %+v", cfg.Ops, cfg.Redis)
	}
	if cfg.Events.Broker != "none" {
		t.Fatalf("events broker: %q", cfg.Events.Broker)
	}
}

func TestNew_Overrides(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/ledger")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WORKER_BASE_DELAY", "250ms")
	t.Setenv("EVENTS_BROKER", "kafka")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Worker.BaseDelay != 250*time.Millisecond {
		t.Fatalf("base delay: %v", cfg.Worker.BaseDelay)
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing postgres url", env: map[string]string{"POSTGRES_URL": ""}},
		{name: "unknown events broker", env: map[string]string{"POSTGRES_URL": "x", "EVENTS_BROKER": "sqs"}},
		{name: "rabbit without url", env: map[string]string{"POSTGRES_URL": "x", "EVENTS_BROKER": "rabbit"}},
		{name: "zero attempts", env: map[string]string{"POSTGRES_URL": "x", "WORKER_MAX_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := New(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGetSaramaConfig(t *testing.T) {
	k := KafkaConfig{Version: "3.6.0"}
	cfg := k.GetSaramaConfig()
	if cfg.Version != sarama.V3_6_0_0 {
		t.Fatalf("version: got %v", cfg.Version)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid sarama config: %v", err)
	}
}

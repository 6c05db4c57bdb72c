package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadFromAppliesDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ServiceName != "agora" || cfg.HTTPPort != "8080" {
		t.Fatalf("unexpected service defaults %+v", cfg)
	}
	if cfg.ExecutionMaxRetries != 3 || cfg.ExternalCallTimeout != 5*time.Second || cfg.ExecutionLeaseTTL != 2*time.Minute {
		t.Fatalf("unexpected execution defaults %+v", cfg)
	}
	if cfg.IdempotencyTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d idempotency ttl, got %s", cfg.IdempotencyTTL)
	}
	if !cfg.EnableAutoSchedule || cfg.EnableAutoExecute || !cfg.EnableApprovalConsumer {
		t.Fatalf("unexpected feature flags %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("EXECUTION_MAX_RETRIES", "5")
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "3s")
	t.Setenv("ENABLE_AUTO_EXECUTE", "true")
	t.Setenv("LOG_FORMAT", "TEXT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.ExecutionMaxRetries != 5 || cfg.ExternalCallTimeout != 3*time.Second || !cfg.EnableAutoExecute {
		t.Fatalf("environment not applied %+v", cfg)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("expected normalised log format, got %q", cfg.LogFormat)
	}
}

func TestLoadFromRejectsLeaseShorterThanCallTimeout(t *testing.T) {
	v := viper.New()
	v.Set("EXTERNAL_CALL_TIMEOUT", "30s")
	v.Set("EXECUTION_LEASE_TTL", "10s")
	if _, err := LoadFrom(v); err == nil {
		t.Fatalf("expected lease validation error")
	}
}

func TestLoadFromRejectsZeroRetries(t *testing.T) {
	v := viper.New()
	v.Set("EXECUTION_MAX_RETRIES", 0)
	if _, err := LoadFrom(v); err == nil {
		t.Fatalf("expected retry validation error")
	}
}

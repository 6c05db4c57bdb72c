package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPPort     string
	PostgresDSN  string
	KafkaBrokers []string
	LogLevel     string
	LogFormat    string
	AutoMigrate  bool

	TraceExporter string
	OTLPEndpoint  string

	GovernanceRulesFile string
	ExecutorWebhookURL  string
	ExecutionMaxRetries int
	ExternalCallTimeout time.Duration
	ExecutionLeaseTTL   time.Duration
	WorkerPollInterval  time.Duration
	CloseSweepBatch     int
	IdempotencyTTL      time.Duration
	TallyConcurrency    int

	EnableAutoSchedule     bool
	EnableAutoExecute      bool
	EnableApprovalConsumer bool
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return LoadFrom(v)
}

// LoadFrom applies defaults to v and decodes it. Tests pass a viper instance
// with explicit values.
func LoadFrom(v *viper.Viper) (Config, error) {
	setDefaults(v)

	cfg := Config{
		ServiceName:  strings.TrimSpace(v.GetString("SERVICE_NAME")),
		HTTPPort:     strings.TrimSpace(v.GetString("HTTP_PORT")),
		PostgresDSN:  strings.TrimSpace(v.GetString("POSTGRES_DSN")),
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		LogLevel:     strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:    strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		AutoMigrate:  v.GetBool("AUTO_MIGRATE"),

		TraceExporter: strings.ToLower(strings.TrimSpace(v.GetString("OTEL_TRACES_EXPORTER"))),
		OTLPEndpoint:  strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),

		GovernanceRulesFile: strings.TrimSpace(v.GetString("GOVERNANCE_RULES_FILE")),
		ExecutorWebhookURL:  strings.TrimSpace(v.GetString("EXECUTOR_WEBHOOK_URL")),
		ExecutionMaxRetries: v.GetInt("EXECUTION_MAX_RETRIES"),
		ExternalCallTimeout: v.GetDuration("EXTERNAL_CALL_TIMEOUT"),
		ExecutionLeaseTTL:   v.GetDuration("EXECUTION_LEASE_TTL"),
		WorkerPollInterval:  v.GetDuration("WORKER_POLL_INTERVAL"),
		CloseSweepBatch:     v.GetInt("CLOSE_SWEEP_BATCH"),
		IdempotencyTTL:      v.GetDuration("IDEMPOTENCY_TTL"),
		TallyConcurrency:    v.GetInt("TALLY_CONCURRENCY"),

		EnableAutoSchedule:     v.GetBool("ENABLE_AUTO_SCHEDULE"),
		EnableAutoExecute:      v.GetBool("ENABLE_AUTO_EXECUTE"),
		EnableApprovalConsumer: v.GetBool("ENABLE_APPROVAL_CONSUMER"),
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "agora")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("OTEL_TRACES_EXPORTER", "none")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("EXECUTION_MAX_RETRIES", 3)
	v.SetDefault("EXTERNAL_CALL_TIMEOUT", "5s")
	v.SetDefault("EXECUTION_LEASE_TTL", "2m")
	v.SetDefault("WORKER_POLL_INTERVAL", "2s")
	v.SetDefault("CLOSE_SWEEP_BATCH", 100)
	v.SetDefault("IDEMPOTENCY_TTL", "168h")
	v.SetDefault("TALLY_CONCURRENCY", 8)
	v.SetDefault("ENABLE_AUTO_SCHEDULE", true)
	v.SetDefault("ENABLE_AUTO_EXECUTE", false)
	v.SetDefault("ENABLE_APPROVAL_CONSUMER", true)
}

func (c Config) validate() error {
	switch {
	case c.ExecutionMaxRetries < 1:
		return fmt.Errorf("EXECUTION_MAX_RETRIES must be at least 1, got %d", c.ExecutionMaxRetries)
	case c.ExternalCallTimeout <= 0:
		return fmt.Errorf("EXTERNAL_CALL_TIMEOUT must be positive")
	case c.ExecutionLeaseTTL <= c.ExternalCallTimeout:
		return fmt.Errorf("EXECUTION_LEASE_TTL (%s) must exceed EXTERNAL_CALL_TIMEOUT (%s)",
			c.ExecutionLeaseTTL, c.ExternalCallTimeout)
	case c.WorkerPollInterval <= 0:
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, value := range strings.Split(raw, ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			values = append(values, value)
		}
	}
	return values
}

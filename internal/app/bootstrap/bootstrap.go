package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	governanceengine "agora/contexts/governance/governance-engine"
	"agora/contexts/governance/governance-engine/adapters/directory"
	"agora/contexts/governance/governance-engine/adapters/executor"
	"agora/contexts/governance/governance-engine/adapters/metrics"
	postgresadapter "agora/contexts/governance/governance-engine/adapters/postgres"
	"agora/contexts/governance/governance-engine/adapters/rulefile"
	"agora/contexts/governance/governance-engine/ports"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"
	"agora/internal/platform/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const approvalConsumerGroup = "governance-engine-approval-cg"

type APIApp struct {
	server            *httpserver.Server
	postgres          *db.Postgres
	shutdownTelemetry func(context.Context) error
	logger            *slog.Logger
}

type WorkerApp struct {
	postgres          *db.Postgres
	workers           governanceengine.Workers
	shutdownTelemetry func(context.Context) error
	pollInterval      time.Duration
	logger            *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout).
		With("service", cfg.ServiceName, "process", "api")
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Process:      "api",
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}

	pg, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	module, err := buildModule(context.Background(), cfg, pg, nil, logger, true)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	server := httpserver.New(module, nil, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:            server,
		postgres:          pg,
		shutdownTelemetry: shutdownTelemetry,
		logger:            logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout).
		With("service", cfg.ServiceName, "process", "worker")
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Process:      "worker",
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}

	pg, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	module, err := buildModule(context.Background(), cfg, pg, kafka, logger, false)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}
	return &WorkerApp{
		postgres:          pg,
		workers:           module.Workers,
		shutdownTelemetry: shutdownTelemetry,
		pollInterval:      cfg.WorkerPollInterval,
		logger:            logger,
	}, nil
}

func connect(cfg config.Config) (*db.Postgres, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	return db.Connect(cfg.PostgresDSN)
}

// buildModule wires the governance engine to Postgres, the projection-backed
// directory and policy, and the executor webhook. Only the API process
// migrates and seeds rules.
func buildModule(
	ctx context.Context,
	cfg config.Config,
	pg *db.Postgres,
	kafka *messaging.Kafka,
	logger *slog.Logger,
	owner bool,
) (governanceengine.Module, error) {
	store := postgresadapter.NewStore(pg.DB, logger)
	if owner && cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return governanceengine.Module{}, err
		}
	}
	projection := directory.NewProjection(pg.DB, logger)

	var (
		publisher  ports.EventPublisher
		subscriber ports.EventSubscriber
	)
	if kafka != nil {
		publisher = kafka
		subscriber = kafka
	}

	module := governanceengine.NewModule(governanceengine.Dependencies{
		Store:               store,
		Outbox:              store,
		Dedup:               store,
		Directory:           projection,
		Policy:              projection,
		Sink:                executor.NewWebhook(cfg.ExecutorWebhookURL, cfg.ExternalCallTimeout, logger),
		Publisher:           publisher,
		Clock:               store,
		IDGen:               store,
		Metrics:             metrics.NewPrometheus(prometheus.DefaultRegisterer),
		IdempotencyTTL:      cfg.IdempotencyTTL,
		MaxRetries:          cfg.ExecutionMaxRetries,
		LeaseTTL:            cfg.ExecutionLeaseTTL,
		ExternalCallTimeout: cfg.ExternalCallTimeout,
		PowerConcurrency:    cfg.TallyConcurrency,
		Subscriber:          subscriber,
		ConsumerGroup:       approvalConsumerGroup,
		DedupTTL:            cfg.IdempotencyTTL,
		BatchSize:           cfg.CloseSweepBatch,
		DisableExecutionJob: !cfg.EnableAutoExecute,
		DisableApprovals:    !cfg.EnableApprovalConsumer || !cfg.EnableAutoSchedule,
		DisableBackfill:     !cfg.EnableAutoSchedule,
		Logger:              logger,
	})

	if owner && cfg.GovernanceRulesFile != "" {
		params, err := rulefile.LoadFile(cfg.GovernanceRulesFile)
		if err != nil {
			return governanceengine.Module{}, err
		}
		if _, err := module.Handler.Rules.SeedRules(ctx, params); err != nil {
			return governanceengine.Module{}, err
		}
	}
	return module, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)

	errs := make(chan error, 1)
	go func() {
		errs <- a.server.Start()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errs
}

func (a *APIApp) Close() error {
	return closeAll(a.postgres, a.shutdownTelemetry)
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.workers.Approvals.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if err := w.workers.Closer.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.workers.Backfill.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.workers.Executor.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.workers.Relay.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	return closeAll(w.postgres, w.shutdownTelemetry)
}

func closeAll(pg *db.Postgres, shutdownTelemetry func(context.Context) error) error {
	var errs []error
	if shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, shutdownTelemetry(ctx))
		cancel()
	}
	if pg != nil {
		errs = append(errs, pg.Close())
	}
	return errors.Join(errs...)
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}

package governanceengine

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/governance/governance-engine/adapters/http"
	"agora/contexts/governance/governance-engine/adapters/memory"
	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/application/queries"
	"agora/contexts/governance/governance-engine/application/workers"
	"agora/contexts/governance/governance-engine/domain/entities"
	"agora/contexts/governance/governance-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Workers Workers

	// Populated by NewInMemoryModule only.
	Store     *memory.Store
	Directory *memory.Directory
	Policy    *memory.Policy
	Sink      *memory.ExecutionSink
	Clock     *memory.ManualClock
}

// Workers are the background loops a worker process drives.
type Workers struct {
	Closer    workers.ProposalCloser
	Executor  workers.ExecutionJob
	Relay     workers.OutboxRelay
	Approvals workers.ApprovalConsumer
	Backfill  workers.ApprovalBackfill
}

type Dependencies struct {
	Store     ports.Store
	Outbox    ports.OutboxRepository
	Dedup     ports.EventDedupStore
	Directory ports.AccountDirectory
	Policy    ports.AuthorizationPolicy
	Sink      ports.ExecutionSink
	Publisher ports.EventPublisher
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Metrics   ports.Metrics

	IdempotencyTTL      time.Duration
	MaxRetries          int
	LeaseTTL            time.Duration
	ExternalCallTimeout time.Duration
	PowerConcurrency    int
	Subscriber          ports.EventSubscriber
	ConsumerGroup       string
	DedupTTL            time.Duration
	ExecutorID          string
	BatchSize           int
	DisableExecutionJob bool
	DisableApprovals    bool
	DisableBackfill     bool
	Logger              *slog.Logger
}

func NewModule(deps Dependencies) Module {
	power := application.NewPowerCalculator(deps.Directory, deps.ExternalCallTimeout, deps.PowerConcurrency, deps.Logger)

	ruleUseCase := commands.RuleUseCase{
		Store:  deps.Store,
		Policy: deps.Policy,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Logger: deps.Logger,
	}
	proposalUseCase := commands.ProposalUseCase{
		Store:          deps.Store,
		Power:          power,
		Policy:         deps.Policy,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	}
	voteUseCase := commands.VoteUseCase{
		Store:          deps.Store,
		Power:          power,
		Policy:         deps.Policy,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	}
	delegationUseCase := commands.DelegationUseCase{
		Store:          deps.Store,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	}
	executionUseCase := commands.ExecutionUseCase{
		Store:               deps.Store,
		Sink:                deps.Sink,
		Policy:              deps.Policy,
		Clock:               deps.Clock,
		IDGen:               deps.IDGen,
		MaxRetries:          deps.MaxRetries,
		LeaseTTL:            deps.LeaseTTL,
		ExternalCallTimeout: deps.ExternalCallTimeout,
		Metrics:             deps.Metrics,
		Logger:              deps.Logger,
	}

	reader := deps.Store.Reader()
	return Module{
		Handler: httpadapter.Handler{
			Rules:       ruleUseCase,
			Proposals:   proposalUseCase,
			Votes:       voteUseCase,
			Delegations: delegationUseCase,
			Executions:  executionUseCase,
			RuleQueries: queries.RuleQueries{
				Store: deps.Store,
			},
			ProposalQueries: queries.ProposalQueries{
				Store:   deps.Store,
				Power:   power,
				Clock:   deps.Clock,
				Metrics: deps.Metrics,
			},
			DelegationQueries: queries.DelegationQueries{
				Store: deps.Store,
				Power: power,
			},
			ExecutionQueries: queries.ExecutionQueries{
				Store: deps.Store,
			},
			Analytics: queries.AnalyticsQueries{
				Store:   deps.Store,
				Power:   power,
				Clock:   deps.Clock,
				Metrics: deps.Metrics,
				Logger:  deps.Logger,
			},
			Logger: deps.Logger,
		},
		Workers: Workers{
			Closer: workers.ProposalCloser{
				Proposals: reader.Proposals,
				Resolver:  proposalUseCase,
				Clock:     deps.Clock,
				BatchSize: deps.BatchSize,
				Logger:    deps.Logger,
			},
			Executor: workers.ExecutionJob{
				Executions: reader.Executions,
				Runner:     executionUseCase,
				Clock:      deps.Clock,
				ExecutorID: deps.ExecutorID,
				BatchSize:  deps.BatchSize,
				Disabled:   deps.DisableExecutionJob,
				Logger:     deps.Logger,
			},
			Relay: workers.OutboxRelay{
				Outbox:    deps.Outbox,
				Publisher: deps.Publisher,
				Clock:     deps.Clock,
				BatchSize: deps.BatchSize,
				Logger:    deps.Logger,
			},
			Approvals: workers.ApprovalConsumer{
				Subscriber:    deps.Subscriber,
				Dedup:         deps.Dedup,
				Scheduler:     executionUseCase,
				Clock:         deps.Clock,
				ConsumerGroup: deps.ConsumerGroup,
				DedupTTL:      deps.DedupTTL,
				Disabled:      deps.DisableApprovals,
				Logger:        deps.Logger,
			},
			Backfill: workers.ApprovalBackfill{
				Proposals:  reader.Proposals,
				Executions: reader.Executions,
				Scheduler:  executionUseCase,
				BatchSize:  deps.BatchSize,
				Disabled:   deps.DisableBackfill,
				Logger:     deps.Logger,
			},
		},
	}
}

// NewInMemoryModule wires the module to in-process fakes. The clock starts at
// the current time and only moves when advanced.
func NewInMemoryModule(seedRules []entities.GovernanceRule, logger *slog.Logger) Module {
	store := memory.NewStore(seedRules)
	directory := memory.NewDirectory()
	policy := memory.NewPolicy()
	sink := memory.NewExecutionSink()
	clock := memory.NewManualClock(time.Now().UTC())

	module := NewModule(Dependencies{
		Store:               store,
		Outbox:              store,
		Dedup:               store,
		Directory:           directory,
		Policy:              policy,
		Sink:                sink,
		Clock:               clock,
		IDGen:               store,
		IdempotencyTTL:      24 * time.Hour,
		MaxRetries:          3,
		LeaseTTL:            time.Minute,
		ExternalCallTimeout: 5 * time.Second,
		PowerConcurrency:    8,
		Logger:              logger,
	})
	module.Store = store
	module.Directory = directory
	module.Policy = policy
	module.Sink = sink
	module.Clock = clock
	return module
}

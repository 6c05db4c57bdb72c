package ports

import (
	"context"
	"encoding/json"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/shopspring/decimal"
)

type RuleRepository interface {
	// LockRuleType serialises rule creation for one proposal type inside a
	// transaction.
	LockRuleType(ctx context.Context, proposalType entities.ProposalType) error
	CreateRule(ctx context.Context, rule entities.GovernanceRule) error
	UpdateRule(ctx context.Context, rule entities.GovernanceRule) error
	GetRule(ctx context.Context, ruleID string) (entities.GovernanceRule, error)
	GetRuleForUpdate(ctx context.Context, ruleID string) (entities.GovernanceRule, error)
	GetActiveRuleByType(ctx context.Context, proposalType entities.ProposalType) (entities.GovernanceRule, bool, error)
	ListRules(ctx context.Context, includeInactive bool) ([]entities.GovernanceRule, error)
}

type ProposalRepository interface {
	CreateProposal(ctx context.Context, proposal entities.Proposal) error
	UpdateProposal(ctx context.Context, proposal entities.Proposal) error
	GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error)
	GetProposalForUpdate(ctx context.Context, proposalID string) (entities.Proposal, error)
	// GetProposalForShare blocks status changes, not other readers, until the
	// transaction ends.
	GetProposalForShare(ctx context.Context, proposalID string) (entities.Proposal, error)
	ListProposals(ctx context.Context, filter entities.ProposalFilter) ([]entities.Proposal, error)
	ListProposalsDueForClose(ctx context.Context, now time.Time, limit int) ([]entities.Proposal, error)
	CountProposalsByStatus(ctx context.Context) (map[entities.ProposalStatus]int, error)
}

type VoteRepository interface {
	// InsertVote returns ErrDuplicateVote when (proposal, voter) already exists.
	InsertVote(ctx context.Context, vote entities.Vote) error
	GetVote(ctx context.Context, proposalID string, voterID string) (entities.Vote, error)
	GetVoteByID(ctx context.Context, voteID string) (entities.Vote, error)
	ListVotes(ctx context.Context, proposalID string) ([]entities.Vote, error)
}

type DelegationRepository interface {
	// LockDelegator serialises delegation writes for one delegator inside a
	// transaction.
	LockDelegator(ctx context.Context, delegatorID string) error
	InsertDelegation(ctx context.Context, delegation entities.VotingDelegation) error
	UpdateDelegation(ctx context.Context, delegation entities.VotingDelegation) error
	GetDelegation(ctx context.Context, delegationID string) (entities.VotingDelegation, error)
	GetDelegationForUpdate(ctx context.Context, delegationID string) (entities.VotingDelegation, error)
	ListDelegations(ctx context.Context, filter entities.DelegationFilter) ([]entities.VotingDelegation, error)
}

type ExecutionRepository interface {
	// InsertExecution returns ErrExecutionAlreadyScheduled when the proposal
	// already has an execution.
	InsertExecution(ctx context.Context, execution entities.ProposalExecution) error
	UpdateExecution(ctx context.Context, execution entities.ProposalExecution) error
	GetExecutionByProposal(ctx context.Context, proposalID string) (entities.ProposalExecution, error)
	GetExecutionByProposalForUpdate(ctx context.Context, proposalID string) (entities.ProposalExecution, error)
	ListExecutions(ctx context.Context, filter entities.ExecutionFilter) ([]entities.ProposalExecution, error)
	ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]entities.ProposalExecution, error)
}

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	ResourceID  string
	ExpiresAt   time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

type OutboxRecord struct {
	OutboxID    string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	OutboxWriter
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// Repositories is the set of stores visible inside one unit of work.
type Repositories struct {
	Rules       RuleRepository
	Proposals   ProposalRepository
	Votes       VoteRepository
	Delegations DelegationRepository
	Executions  ExecutionRepository
	Idempotency IdempotencyStore
	Outbox      OutboxWriter
}

// Store runs fn atomically: either every write made through repos is visible
// afterwards or none is.
type Store interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Reader() Repositories
}

// AccountDirectory resolves token-weighted stake from the external ledger.
type AccountDirectory interface {
	GetBaseVotingPower(ctx context.Context, participantID string) (decimal.Decimal, error)
	GetTotalEligiblePower(ctx context.Context) (decimal.Decimal, error)
	GetTokenBalance(ctx context.Context, participantID string) (decimal.Decimal, error)
	ListParticipants(ctx context.Context) ([]string, error)
}

type AuthorizationPolicy interface {
	CanPropose(ctx context.Context, participantID string, proposalType entities.ProposalType) (bool, error)
	CanVote(ctx context.Context, participantID string, proposalID string) (bool, error)
	CanSignExecution(ctx context.Context, signerID string, proposalID string) (bool, error)
	CanManageRules(ctx context.Context, actorID string) (bool, error)
}

// ExecutionSink carries out an approved proposal. Implementations must be
// idempotent per proposal because failed attempts resend the same payload.
type ExecutionSink interface {
	PerformExecution(ctx context.Context, proposalID string, payload []byte) (entities.ExecutionReceipt, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
	// ReleaseEvent drops a reservation so a redelivered event is handled again.
	ReleaseEvent(ctx context.Context, eventID string) error
}

type Metrics interface {
	VoteCast(choice entities.VoteChoice)
	ProposalResolved(status entities.ProposalStatus)
	ExecutionAttempted(result string)
	DelegationChanged(action string)
	ObserveTally(duration time.Duration)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

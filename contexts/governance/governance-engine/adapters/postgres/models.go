package postgresadapter

import (
	"encoding/json"
	"strings"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/shopspring/decimal"
)

type ruleModel struct {
	ID                       string          `gorm:"column:id;primaryKey"`
	ProposalType             string          `gorm:"column:proposal_type;not null;index:idx_governance_rules_active_type,unique,where:is_active"`
	Version                  int             `gorm:"column:version;not null"`
	MinimumQuorumPercent     decimal.Decimal `gorm:"column:minimum_quorum_percent;type:numeric(7,4)"`
	ApprovalThresholdPercent decimal.Decimal `gorm:"column:approval_threshold_percent;type:numeric(7,4)"`
	VotingPeriodSeconds      int64           `gorm:"column:voting_period_seconds"`
	ExecutionDelaySeconds    int64           `gorm:"column:execution_delay_seconds"`
	RequiresMultiSig         bool            `gorm:"column:requires_multi_sig"`
	RequiredSignatures       int             `gorm:"column:required_signatures"`
	AllowDelegation          bool            `gorm:"column:allow_delegation"`
	AllowZeroPowerVotes      bool            `gorm:"column:allow_zero_power_votes"`
	MinimumTokensToPropose   decimal.Decimal `gorm:"column:minimum_tokens_to_propose;type:numeric(38,18)"`
	ProposalDeposit          decimal.Decimal `gorm:"column:proposal_deposit;type:numeric(38,18)"`
	IsActive                 bool            `gorm:"column:is_active"`
	CreatedBy                string          `gorm:"column:created_by"`
	CreatedAt                time.Time       `gorm:"column:created_at"`
	UpdatedAt                time.Time       `gorm:"column:updated_at"`
	DeactivatedAt            *time.Time      `gorm:"column:deactivated_at"`
}

func (ruleModel) TableName() string {
	return "governance_rules"
}

func ruleModelFromEntity(rule entities.GovernanceRule) ruleModel {
	return ruleModel{
		ID:                       strings.TrimSpace(rule.RuleID),
		ProposalType:             string(rule.ProposalType),
		Version:                  rule.Version,
		MinimumQuorumPercent:     rule.MinimumQuorumPercent,
		ApprovalThresholdPercent: rule.ApprovalThresholdPercent,
		VotingPeriodSeconds:      int64(rule.VotingPeriod / time.Second),
		ExecutionDelaySeconds:    int64(rule.ExecutionDelay / time.Second),
		RequiresMultiSig:         rule.RequiresMultiSig,
		RequiredSignatures:       rule.RequiredSignatures,
		AllowDelegation:          rule.AllowDelegation,
		AllowZeroPowerVotes:      rule.AllowZeroPowerVotes,
		MinimumTokensToPropose:   rule.MinimumTokensToPropose,
		ProposalDeposit:          rule.ProposalDeposit,
		IsActive:                 rule.IsActive,
		CreatedBy:                strings.TrimSpace(rule.CreatedBy),
		CreatedAt:                rule.CreatedAt.UTC(),
		UpdatedAt:                rule.UpdatedAt.UTC(),
		DeactivatedAt:            normalizeOptionalTime(rule.DeactivatedAt),
	}
}

func (m ruleModel) toEntity() entities.GovernanceRule {
	return entities.GovernanceRule{
		RuleID:                   m.ID,
		ProposalType:             entities.ProposalType(m.ProposalType),
		Version:                  m.Version,
		MinimumQuorumPercent:     m.MinimumQuorumPercent,
		ApprovalThresholdPercent: m.ApprovalThresholdPercent,
		VotingPeriod:             time.Duration(m.VotingPeriodSeconds) * time.Second,
		ExecutionDelay:           time.Duration(m.ExecutionDelaySeconds) * time.Second,
		RequiresMultiSig:         m.RequiresMultiSig,
		RequiredSignatures:       m.RequiredSignatures,
		AllowDelegation:          m.AllowDelegation,
		AllowZeroPowerVotes:      m.AllowZeroPowerVotes,
		MinimumTokensToPropose:   m.MinimumTokensToPropose,
		ProposalDeposit:          m.ProposalDeposit,
		IsActive:                 m.IsActive,
		CreatedBy:                m.CreatedBy,
		CreatedAt:                m.CreatedAt.UTC(),
		UpdatedAt:                m.UpdatedAt.UTC(),
		DeactivatedAt:            normalizeOptionalTime(m.DeactivatedAt),
	}
}

type proposalModel struct {
	ID             string          `gorm:"column:id;primaryKey"`
	ProposalType   string          `gorm:"column:proposal_type;index"`
	Title          string          `gorm:"column:title"`
	Description    string          `gorm:"column:description"`
	Payload        []byte          `gorm:"column:payload"`
	CreatorID      string          `gorm:"column:creator_id;index"`
	Status         string          `gorm:"column:status;index:idx_governance_proposals_status_close,priority:1"`
	RuleSnapshot   []byte          `gorm:"column:rule_snapshot;type:jsonb"`
	DepositAmount  decimal.Decimal `gorm:"column:deposit_amount;type:numeric(38,18)"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	VotingOpensAt  *time.Time      `gorm:"column:voting_opens_at"`
	VotingClosesAt *time.Time      `gorm:"column:voting_closes_at;index:idx_governance_proposals_status_close,priority:2"`
	ResolvedAt     *time.Time      `gorm:"column:resolved_at"`
	CancelledAt    *time.Time      `gorm:"column:cancelled_at"`
	ExecutedAt     *time.Time      `gorm:"column:executed_at"`
	FinalTally     []byte          `gorm:"column:final_tally;type:jsonb"`
	Version        int             `gorm:"column:version"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (proposalModel) TableName() string {
	return "governance_proposals"
}

func proposalModelFromEntity(proposal entities.Proposal) (proposalModel, error) {
	snapshot, err := json.Marshal(proposal.Rule)
	if err != nil {
		return proposalModel{}, err
	}
	var tally []byte
	if proposal.FinalTally != nil {
		tally, err = json.Marshal(proposal.FinalTally)
		if err != nil {
			return proposalModel{}, err
		}
	}
	return proposalModel{
		ID:             strings.TrimSpace(proposal.ProposalID),
		ProposalType:   string(proposal.ProposalType),
		Title:          proposal.Title,
		Description:    proposal.Description,
		Payload:        append([]byte(nil), proposal.Payload...),
		CreatorID:      strings.TrimSpace(proposal.CreatorID),
		Status:         string(proposal.Status),
		RuleSnapshot:   snapshot,
		DepositAmount:  proposal.DepositAmount,
		CreatedAt:      proposal.CreatedAt.UTC(),
		VotingOpensAt:  normalizeOptionalTime(proposal.VotingOpensAt),
		VotingClosesAt: normalizeOptionalTime(proposal.VotingClosesAt),
		ResolvedAt:     normalizeOptionalTime(proposal.ResolvedAt),
		CancelledAt:    normalizeOptionalTime(proposal.CancelledAt),
		ExecutedAt:     normalizeOptionalTime(proposal.ExecutedAt),
		FinalTally:     tally,
		Version:        proposal.Version,
		UpdatedAt:      proposal.UpdatedAt.UTC(),
	}, nil
}

func (m proposalModel) toEntity() (entities.Proposal, error) {
	var snapshot entities.RuleSnapshot
	if len(m.RuleSnapshot) > 0 {
		if err := json.Unmarshal(m.RuleSnapshot, &snapshot); err != nil {
			return entities.Proposal{}, err
		}
	}
	var tally *entities.Tally
	if len(m.FinalTally) > 0 {
		tally = &entities.Tally{}
		if err := json.Unmarshal(m.FinalTally, tally); err != nil {
			return entities.Proposal{}, err
		}
	}
	var payload []byte
	if len(m.Payload) > 0 {
		payload = append([]byte(nil), m.Payload...)
	}
	return entities.Proposal{
		ProposalID:     m.ID,
		ProposalType:   entities.ProposalType(m.ProposalType),
		Title:          m.Title,
		Description:    m.Description,
		Payload:        payload,
		CreatorID:      m.CreatorID,
		Status:         entities.ProposalStatus(m.Status),
		Rule:           snapshot,
		DepositAmount:  m.DepositAmount,
		CreatedAt:      m.CreatedAt.UTC(),
		VotingOpensAt:  normalizeOptionalTime(m.VotingOpensAt),
		VotingClosesAt: normalizeOptionalTime(m.VotingClosesAt),
		ResolvedAt:     normalizeOptionalTime(m.ResolvedAt),
		CancelledAt:    normalizeOptionalTime(m.CancelledAt),
		ExecutedAt:     normalizeOptionalTime(m.ExecutedAt),
		FinalTally:     tally,
		Version:        m.Version,
		UpdatedAt:      m.UpdatedAt.UTC(),
	}, nil
}

type voteModel struct {
	ID                string          `gorm:"column:id;primaryKey"`
	ProposalID        string          `gorm:"column:proposal_id;index:idx_governance_votes_identity,unique"`
	VoterID           string          `gorm:"column:voter_id;index:idx_governance_votes_identity,unique"`
	Choice            string          `gorm:"column:choice"`
	VotingPowerAtCast decimal.Decimal `gorm:"column:voting_power_at_cast;type:numeric(38,18)"`
	BasePowerAtCast   decimal.Decimal `gorm:"column:base_power_at_cast;type:numeric(38,18)"`
	ReceivedAtCast    decimal.Decimal `gorm:"column:received_at_cast;type:numeric(38,18)"`
	Reason            string          `gorm:"column:reason"`
	CastAt            time.Time       `gorm:"column:cast_at"`
}

func (voteModel) TableName() string {
	return "governance_votes"
}

func voteModelFromEntity(vote entities.Vote) voteModel {
	return voteModel{
		ID:                strings.TrimSpace(vote.VoteID),
		ProposalID:        strings.TrimSpace(vote.ProposalID),
		VoterID:           strings.TrimSpace(vote.VoterID),
		Choice:            string(vote.Choice),
		VotingPowerAtCast: vote.VotingPowerAtCast,
		BasePowerAtCast:   vote.BasePowerAtCast,
		ReceivedAtCast:    vote.ReceivedAtCast,
		Reason:            vote.Reason,
		CastAt:            vote.CastAt.UTC(),
	}
}

func (m voteModel) toEntity() entities.Vote {
	return entities.Vote{
		VoteID:            m.ID,
		ProposalID:        m.ProposalID,
		VoterID:           m.VoterID,
		Choice:            entities.VoteChoice(m.Choice),
		VotingPowerAtCast: m.VotingPowerAtCast,
		BasePowerAtCast:   m.BasePowerAtCast,
		ReceivedAtCast:    m.ReceivedAtCast,
		Reason:            m.Reason,
		CastAt:            m.CastAt.UTC(),
	}
}

type delegationModel struct {
	ID           string     `gorm:"column:id;primaryKey"`
	DelegatorID  string     `gorm:"column:delegator_id;index"`
	DelegateID   string     `gorm:"column:delegate_id;index"`
	ProposalType string     `gorm:"column:proposal_type;not null;default:''"`
	IsActive     bool       `gorm:"column:is_active"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	RevokedAt    *time.Time `gorm:"column:revoked_at"`
	RevokeReason string     `gorm:"column:revoke_reason"`
}

func (delegationModel) TableName() string {
	return "governance_delegations"
}

func delegationModelFromEntity(delegation entities.VotingDelegation) delegationModel {
	return delegationModel{
		ID:           strings.TrimSpace(delegation.DelegationID),
		DelegatorID:  strings.TrimSpace(delegation.DelegatorID),
		DelegateID:   strings.TrimSpace(delegation.DelegateID),
		ProposalType: string(delegation.Scope.ProposalType),
		IsActive:     delegation.IsActive,
		CreatedAt:    delegation.CreatedAt.UTC(),
		RevokedAt:    normalizeOptionalTime(delegation.RevokedAt),
		RevokeReason: delegation.RevokeReason,
	}
}

func (m delegationModel) toEntity() entities.VotingDelegation {
	return entities.VotingDelegation{
		DelegationID: m.ID,
		DelegatorID:  m.DelegatorID,
		DelegateID:   m.DelegateID,
		Scope:        entities.TypeScope(entities.ProposalType(m.ProposalType)),
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt.UTC(),
		RevokedAt:    normalizeOptionalTime(m.RevokedAt),
		RevokeReason: m.RevokeReason,
	}
}

type executionModel struct {
	ID             string              `gorm:"column:id;primaryKey"`
	ProposalID     string              `gorm:"column:proposal_id;uniqueIndex"`
	Status         string              `gorm:"column:status;index:idx_governance_executions_due,priority:1"`
	ScheduledAt    time.Time           `gorm:"column:scheduled_at;index:idx_governance_executions_due,priority:2"`
	ExecutedAt     *time.Time          `gorm:"column:executed_at"`
	ExecutorID     string              `gorm:"column:executor_id"`
	RetryCount     int                 `gorm:"column:retry_count"`
	MaxRetries     int                 `gorm:"column:max_retries"`
	ErrorMessage   string              `gorm:"column:error_message"`
	GasUsed        *int64              `gorm:"column:gas_used"`
	ExecutionCost  decimal.NullDecimal `gorm:"column:execution_cost;type:numeric(38,18)"`
	ClaimedBy      string              `gorm:"column:claimed_by"`
	ClaimExpiresAt *time.Time          `gorm:"column:claim_expires_at"`
	Version        int                 `gorm:"column:version"`
	CreatedAt      time.Time           `gorm:"column:created_at"`
	UpdatedAt      time.Time           `gorm:"column:updated_at"`
}

func (executionModel) TableName() string {
	return "governance_executions"
}

func executionModelFromEntity(execution entities.ProposalExecution) executionModel {
	row := executionModel{
		ID:             strings.TrimSpace(execution.ExecutionID),
		ProposalID:     strings.TrimSpace(execution.ProposalID),
		Status:         string(execution.Status),
		ScheduledAt:    execution.ScheduledAt.UTC(),
		ExecutedAt:     normalizeOptionalTime(execution.ExecutedAt),
		ExecutorID:     strings.TrimSpace(execution.ExecutorID),
		RetryCount:     execution.RetryCount,
		MaxRetries:     execution.MaxRetries,
		ErrorMessage:   execution.ErrorMessage,
		ClaimedBy:      strings.TrimSpace(execution.ClaimedBy),
		ClaimExpiresAt: normalizeOptionalTime(execution.ClaimExpiresAt),
		Version:        execution.Version,
		CreatedAt:      execution.CreatedAt.UTC(),
		UpdatedAt:      execution.UpdatedAt.UTC(),
	}
	if execution.GasUsed != nil {
		gas := int64(*execution.GasUsed)
		row.GasUsed = &gas
	}
	if execution.ExecutionCost != nil {
		row.ExecutionCost = decimal.NewNullDecimal(*execution.ExecutionCost)
	}
	return row
}

func (m executionModel) toEntity(signatures []signatureModel, attempts []attemptModel) entities.ProposalExecution {
	execution := entities.ProposalExecution{
		ExecutionID:    m.ID,
		ProposalID:     m.ProposalID,
		Status:         entities.ExecutionStatus(m.Status),
		ScheduledAt:    m.ScheduledAt.UTC(),
		ExecutedAt:     normalizeOptionalTime(m.ExecutedAt),
		ExecutorID:     m.ExecutorID,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		ErrorMessage:   m.ErrorMessage,
		ClaimedBy:      m.ClaimedBy,
		ClaimExpiresAt: normalizeOptionalTime(m.ClaimExpiresAt),
		Version:        m.Version,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	if m.GasUsed != nil {
		gas := uint64(*m.GasUsed)
		execution.GasUsed = &gas
	}
	if m.ExecutionCost.Valid {
		cost := m.ExecutionCost.Decimal
		execution.ExecutionCost = &cost
	}
	for _, signature := range signatures {
		execution.Signatures = append(execution.Signatures, entities.ExecutionSignature{
			SignerID: signature.SignerID,
			SignedAt: signature.SignedAt.UTC(),
		})
	}
	for _, attempt := range attempts {
		execution.Attempts = append(execution.Attempts, attempt.toEntity())
	}
	return execution
}

type signatureModel struct {
	ExecutionID string    `gorm:"column:execution_id;primaryKey"`
	SignerID    string    `gorm:"column:signer_id;primaryKey"`
	SignedAt    time.Time `gorm:"column:signed_at"`
}

func (signatureModel) TableName() string {
	return "governance_execution_signatures"
}

type attemptModel struct {
	ExecutionID   string          `gorm:"column:execution_id;primaryKey"`
	AttemptNumber int             `gorm:"column:attempt_number;primaryKey"`
	ExecutorID    string          `gorm:"column:executor_id"`
	Succeeded     bool            `gorm:"column:succeeded"`
	ErrorMessage  string          `gorm:"column:error_message"`
	GasUsed       int64           `gorm:"column:gas_used"`
	Cost          decimal.Decimal `gorm:"column:cost;type:numeric(38,18)"`
	StartedAt     time.Time       `gorm:"column:started_at"`
	FinishedAt    time.Time       `gorm:"column:finished_at"`
}

func (attemptModel) TableName() string {
	return "governance_execution_attempts"
}

func (m attemptModel) toEntity() entities.ExecutionAttempt {
	return entities.ExecutionAttempt{
		AttemptNumber: m.AttemptNumber,
		ExecutorID:    m.ExecutorID,
		Succeeded:     m.Succeeded,
		ErrorMessage:  m.ErrorMessage,
		GasUsed:       uint64(m.GasUsed),
		Cost:          m.Cost,
		StartedAt:     m.StartedAt.UTC(),
		FinishedAt:    m.FinishedAt.UTC(),
	}
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash"`
	ResourceID  string    `gorm:"column:resource_id"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "governance_idempotency"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	Sequence     int64      `gorm:"column:sequence;autoIncrement;->"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "governance_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "governance_event_dedup"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

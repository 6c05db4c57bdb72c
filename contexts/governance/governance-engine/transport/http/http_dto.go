package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decimal quantities travel as strings to keep exact precision.
type CreateRuleRequest struct {
	ProposalType             string `json:"proposal_type" validate:"required,oneof=general parameter_change treasury_spend protocol_upgrade constitutional emergency"`
	MinimumQuorumPercent     string `json:"minimum_quorum_percent" validate:"required,numeric"`
	ApprovalThresholdPercent string `json:"approval_threshold_percent" validate:"required,numeric"`
	VotingPeriodSeconds      int64  `json:"voting_period_seconds" validate:"required,gt=0,lte=9223372036"`
	ExecutionDelaySeconds    int64  `json:"execution_delay_seconds" validate:"gte=0,lte=9223372036"`
	RequiresMultiSig         bool   `json:"requires_multi_sig"`
	RequiredSignatures       int    `json:"required_signatures" validate:"gte=0"`
	AllowDelegation          bool   `json:"allow_delegation"`
	AllowZeroPowerVotes      bool   `json:"allow_zero_power_votes"`
	MinimumTokensToPropose   string `json:"minimum_tokens_to_propose" validate:"omitempty,numeric"`
	ProposalDeposit          string `json:"proposal_deposit" validate:"omitempty,numeric"`
}

// UpdateRuleRequest fields are optional; omitted fields keep their value.
type UpdateRuleRequest struct {
	MinimumQuorumPercent     *string `json:"minimum_quorum_percent,omitempty" validate:"omitempty,numeric"`
	ApprovalThresholdPercent *string `json:"approval_threshold_percent,omitempty" validate:"omitempty,numeric"`
	VotingPeriodSeconds      *int64  `json:"voting_period_seconds,omitempty" validate:"omitempty,gt=0,lte=9223372036"`
	ExecutionDelaySeconds    *int64  `json:"execution_delay_seconds,omitempty" validate:"omitempty,gte=0,lte=9223372036"`
	RequiresMultiSig         *bool   `json:"requires_multi_sig,omitempty"`
	RequiredSignatures       *int    `json:"required_signatures,omitempty" validate:"omitempty,gte=0"`
	AllowDelegation          *bool   `json:"allow_delegation,omitempty"`
	AllowZeroPowerVotes      *bool   `json:"allow_zero_power_votes,omitempty"`
	MinimumTokensToPropose   *string `json:"minimum_tokens_to_propose,omitempty" validate:"omitempty,numeric"`
	ProposalDeposit          *string `json:"proposal_deposit,omitempty" validate:"omitempty,numeric"`
}

type RuleResponse struct {
	RuleID                   string     `json:"rule_id"`
	ProposalType             string     `json:"proposal_type"`
	Version                  int        `json:"version"`
	MinimumQuorumPercent     string     `json:"minimum_quorum_percent"`
	ApprovalThresholdPercent string     `json:"approval_threshold_percent"`
	VotingPeriodSeconds      int64      `json:"voting_period_seconds"`
	ExecutionDelaySeconds    int64      `json:"execution_delay_seconds"`
	RequiresMultiSig         bool       `json:"requires_multi_sig"`
	RequiredSignatures       int        `json:"required_signatures"`
	AllowDelegation          bool       `json:"allow_delegation"`
	AllowZeroPowerVotes      bool       `json:"allow_zero_power_votes"`
	MinimumTokensToPropose   string     `json:"minimum_tokens_to_propose"`
	ProposalDeposit          string     `json:"proposal_deposit"`
	IsActive                 bool       `json:"is_active"`
	CreatedBy                string     `json:"created_by"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
	DeactivatedAt            *time.Time `json:"deactivated_at,omitempty"`
}

type RuleListResponse struct {
	Items []RuleResponse `json:"items"`
}

type CreateProposalRequest struct {
	ProposalType    string `json:"proposal_type" validate:"required,oneof=general parameter_change treasury_spend protocol_upgrade constitutional emergency"`
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description" validate:"max=20000"`
	Payload         []byte `json:"payload,omitempty"`
	OpenImmediately bool   `json:"open_immediately"`
}

type UpdateProposalRequest struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=20000"`
	Payload     []byte  `json:"payload,omitempty"`
}

type CancelProposalRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type ProposalResponse struct {
	ProposalID     string         `json:"proposal_id"`
	ProposalType   string         `json:"proposal_type"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Payload        []byte         `json:"payload,omitempty"`
	CreatorID      string         `json:"creator_id"`
	Status         string         `json:"status"`
	RuleID         string         `json:"rule_id"`
	RuleVersion    int            `json:"rule_version"`
	DepositAmount  string         `json:"deposit_amount"`
	CreatedAt      time.Time      `json:"created_at"`
	VotingOpensAt  *time.Time     `json:"voting_opens_at,omitempty"`
	VotingClosesAt *time.Time     `json:"voting_closes_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
	ExecutedAt     *time.Time     `json:"executed_at,omitempty"`
	FinalTally     *TallyResponse `json:"final_tally,omitempty"`
	Replayed       bool           `json:"replayed,omitempty"`
}

type ProposalListResponse struct {
	Items []ProposalResponse `json:"items"`
}

type CloseProposalResponse struct {
	Proposal        ProposalResponse `json:"proposal"`
	Tally           TallyResponse    `json:"tally"`
	AlreadyResolved bool             `json:"already_resolved"`
}

type TallyResponse struct {
	ProposalID         string    `json:"proposal_id"`
	ForPower           string    `json:"for_power"`
	AgainstPower       string    `json:"against_power"`
	AbstainPower       string    `json:"abstain_power"`
	ParticipatingPower string    `json:"participating_power"`
	TotalEligiblePower string    `json:"total_eligible_power"`
	VoterCount         int       `json:"voter_count"`
	QuorumPercent      string    `json:"quorum_percent"`
	ApprovalPercent    string    `json:"approval_percent"`
	QuorumReached      bool      `json:"quorum_reached"`
	ApprovalReached    bool      `json:"approval_reached"`
	Passed             bool      `json:"passed"`
	ComputedAt         time.Time `json:"computed_at"`
}

type CastVoteRequest struct {
	Choice string `json:"choice" validate:"required,oneof=for against abstain"`
	Reason string `json:"reason" validate:"max=1000"`
}

type VoteResponse struct {
	VoteID            string    `json:"vote_id"`
	ProposalID        string    `json:"proposal_id"`
	VoterID           string    `json:"voter_id"`
	Choice            string    `json:"choice"`
	VotingPowerAtCast string    `json:"voting_power_at_cast"`
	BasePowerAtCast   string    `json:"base_power_at_cast"`
	ReceivedAtCast    string    `json:"received_at_cast"`
	Reason            string    `json:"reason,omitempty"`
	CastAt            time.Time `json:"cast_at"`
	Replayed          bool      `json:"replayed,omitempty"`
}

type VoteListResponse struct {
	Items []VoteResponse `json:"items"`
	Tally TallyResponse  `json:"tally"`
}

type DelegateRequest struct {
	DelegateID   string `json:"delegate_id" validate:"required,max=128"`
	ProposalType string `json:"proposal_type" validate:"omitempty,oneof=general parameter_change treasury_spend protocol_upgrade constitutional emergency"`
}

type RevokeDelegationRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type DelegationResponse struct {
	DelegationID string     `json:"delegation_id"`
	DelegatorID  string     `json:"delegator_id"`
	DelegateID   string     `json:"delegate_id"`
	Scope        string     `json:"scope"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	Replayed     bool       `json:"replayed,omitempty"`
}

type DelegationListResponse struct {
	Items []DelegationResponse `json:"items"`
}

type VotingPowerResponse struct {
	ParticipantID string   `json:"participant_id"`
	ProposalType  string   `json:"proposal_type,omitempty"`
	BasePower     string   `json:"base_power"`
	DelegatedAway string   `json:"delegated_away"`
	Received      string   `json:"received"`
	Effective     string   `json:"effective"`
	DelegatedTo   string   `json:"delegated_to,omitempty"`
	Delegators    []string `json:"delegators"`
}

type SignatureResponse struct {
	SignerID string    `json:"signer_id"`
	SignedAt time.Time `json:"signed_at"`
}

type AttemptResponse struct {
	AttemptNumber int       `json:"attempt_number"`
	ExecutorID    string    `json:"executor_id"`
	Succeeded     bool      `json:"succeeded"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	GasUsed       uint64    `json:"gas_used"`
	Cost          string    `json:"cost"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

type ExecutionResponse struct {
	ExecutionID   string              `json:"execution_id"`
	ProposalID    string              `json:"proposal_id"`
	Status        string              `json:"status"`
	ScheduledAt   time.Time           `json:"scheduled_at"`
	ExecutedAt    *time.Time          `json:"executed_at,omitempty"`
	ExecutorID    string              `json:"executor_id,omitempty"`
	RetryCount    int                 `json:"retry_count"`
	MaxRetries    int                 `json:"max_retries"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	GasUsed       *uint64             `json:"gas_used,omitempty"`
	ExecutionCost *string             `json:"execution_cost,omitempty"`
	Signatures    []SignatureResponse `json:"signatures"`
	Attempts      []AttemptResponse   `json:"attempts"`
}

type ExecutionListResponse struct {
	Items []ExecutionResponse `json:"items"`
}

type ExecutionOutcomeResponse struct {
	Execution      ExecutionResponse `json:"execution"`
	ProposalStatus string            `json:"proposal_status"`
}

type PowerShareResponse struct {
	ParticipantID string `json:"participant_id"`
	Power         string `json:"power"`
}

type DistributionResponse struct {
	ProposalType     string               `json:"proposal_type,omitempty"`
	ParticipantCount int                  `json:"participant_count"`
	TotalPower       string               `json:"total_power"`
	Gini             float64              `json:"gini"`
	Nakamoto         int                  `json:"nakamoto"`
	Herfindahl       float64              `json:"herfindahl"`
	TopDecileShare   float64              `json:"top_decile_share"`
	TopHolders       []PowerShareResponse `json:"top_holders"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

type ParticipationResponse struct {
	ProposalID         string    `json:"proposal_id"`
	Status             string    `json:"status"`
	VoterCount         int       `json:"voter_count"`
	ParticipatingPower string    `json:"participating_power"`
	TotalEligiblePower string    `json:"total_eligible_power"`
	Turnout            float64   `json:"turnout"`
	ForShare           float64   `json:"for_share"`
	AgainstShare       float64   `json:"against_share"`
	AbstainShare       float64   `json:"abstain_share"`
	GeneratedAt        time.Time `json:"generated_at"`
}

type HealthResponse struct {
	ProposalsByStatus    map[string]int `json:"proposals_by_status"`
	ActiveDelegations    int            `json:"active_delegations"`
	DelegatedPowerShare  float64        `json:"delegated_power_share"`
	AverageTurnout       float64        `json:"average_turnout"`
	ExecutionSuccessRate float64        `json:"execution_success_rate"`
	PendingExecutions    int            `json:"pending_executions"`
	GeneratedAt          time.Time      `json:"generated_at"`
}

package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalType tags a proposal category. Per-type rule policy is keyed by
// this tag in domain/services.
type ProposalType string

const (
	ProposalTypeGeneral         ProposalType = "general"
	ProposalTypeParameterChange ProposalType = "parameter_change"
	ProposalTypeTreasurySpend   ProposalType = "treasury_spend"
	ProposalTypeProtocolUpgrade ProposalType = "protocol_upgrade"
	ProposalTypeConstitutional  ProposalType = "constitutional"
	ProposalTypeEmergency       ProposalType = "emergency"
)

func (t ProposalType) Valid() bool {
	switch t {
	case ProposalTypeGeneral,
		ProposalTypeParameterChange,
		ProposalTypeTreasurySpend,
		ProposalTypeProtocolUpgrade,
		ProposalTypeConstitutional,
		ProposalTypeEmergency:
		return true
	default:
		return false
	}
}

// GovernanceRule configures one proposal type. Rules are soft-deactivated and
// versioned; proposals keep a RuleSnapshot so later edits never reach
// in-flight votes.
type GovernanceRule struct {
	RuleID                   string
	ProposalType             ProposalType
	Version                  int
	MinimumQuorumPercent     decimal.Decimal
	ApprovalThresholdPercent decimal.Decimal
	VotingPeriod             time.Duration
	ExecutionDelay           time.Duration
	RequiresMultiSig         bool
	RequiredSignatures       int
	AllowDelegation          bool
	AllowZeroPowerVotes      bool
	MinimumTokensToPropose   decimal.Decimal
	ProposalDeposit          decimal.Decimal
	IsActive                 bool
	CreatedBy                string
	CreatedAt                time.Time
	UpdatedAt                time.Time
	DeactivatedAt            *time.Time
}

// RuleSnapshot is the frozen copy of rule thresholds captured on a proposal.
type RuleSnapshot struct {
	RuleID                   string          `json:"rule_id"`
	RuleVersion              int             `json:"rule_version"`
	MinimumQuorumPercent     decimal.Decimal `json:"minimum_quorum_percent"`
	ApprovalThresholdPercent decimal.Decimal `json:"approval_threshold_percent"`
	VotingPeriod             time.Duration   `json:"voting_period"`
	ExecutionDelay           time.Duration   `json:"execution_delay"`
	RequiresMultiSig         bool            `json:"requires_multi_sig"`
	RequiredSignatures       int             `json:"required_signatures"`
	AllowDelegation          bool            `json:"allow_delegation"`
	AllowZeroPowerVotes      bool            `json:"allow_zero_power_votes"`
	MinimumTokensToPropose   decimal.Decimal `json:"minimum_tokens_to_propose"`
	ProposalDeposit          decimal.Decimal `json:"proposal_deposit"`
}

func (r GovernanceRule) Snapshot() RuleSnapshot {
	return RuleSnapshot{
		RuleID:                   r.RuleID,
		RuleVersion:              r.Version,
		MinimumQuorumPercent:     r.MinimumQuorumPercent,
		ApprovalThresholdPercent: r.ApprovalThresholdPercent,
		VotingPeriod:             r.VotingPeriod,
		ExecutionDelay:           r.ExecutionDelay,
		RequiresMultiSig:         r.RequiresMultiSig,
		RequiredSignatures:       r.RequiredSignatures,
		AllowDelegation:          r.AllowDelegation,
		AllowZeroPowerVotes:      r.AllowZeroPowerVotes,
		MinimumTokensToPropose:   r.MinimumTokensToPropose,
		ProposalDeposit:          r.ProposalDeposit,
	}
}

// RuleParams is the full input for rule creation.
type RuleParams struct {
	ProposalType             ProposalType
	MinimumQuorumPercent     decimal.Decimal
	ApprovalThresholdPercent decimal.Decimal
	VotingPeriod             time.Duration
	ExecutionDelay           time.Duration
	RequiresMultiSig         bool
	RequiredSignatures       int
	AllowDelegation          bool
	AllowZeroPowerVotes      bool
	MinimumTokensToPropose   decimal.Decimal
	ProposalDeposit          decimal.Decimal
}

// RulePatch carries only the fields a caller wants to change.
type RulePatch struct {
	MinimumQuorumPercent     *decimal.Decimal
	ApprovalThresholdPercent *decimal.Decimal
	VotingPeriod             *time.Duration
	ExecutionDelay           *time.Duration
	RequiresMultiSig         *bool
	RequiredSignatures       *int
	AllowDelegation          *bool
	AllowZeroPowerVotes      *bool
	MinimumTokensToPropose   *decimal.Decimal
	ProposalDeposit          *decimal.Decimal
}

func (p RulePatch) Empty() bool {
	return p.MinimumQuorumPercent == nil &&
		p.ApprovalThresholdPercent == nil &&
		p.VotingPeriod == nil &&
		p.ExecutionDelay == nil &&
		p.RequiresMultiSig == nil &&
		p.RequiredSignatures == nil &&
		p.AllowDelegation == nil &&
		p.AllowZeroPowerVotes == nil &&
		p.MinimumTokensToPropose == nil &&
		p.ProposalDeposit == nil
}

// Apply copies supplied fields onto rule.
func (p RulePatch) Apply(rule *GovernanceRule) {
	if p.MinimumQuorumPercent != nil {
		rule.MinimumQuorumPercent = *p.MinimumQuorumPercent
	}
	if p.ApprovalThresholdPercent != nil {
		rule.ApprovalThresholdPercent = *p.ApprovalThresholdPercent
	}
	if p.VotingPeriod != nil {
		rule.VotingPeriod = *p.VotingPeriod
	}
	if p.ExecutionDelay != nil {
		rule.ExecutionDelay = *p.ExecutionDelay
	}
	if p.RequiresMultiSig != nil {
		rule.RequiresMultiSig = *p.RequiresMultiSig
	}
	if p.RequiredSignatures != nil {
		rule.RequiredSignatures = *p.RequiredSignatures
	}
	if p.AllowDelegation != nil {
		rule.AllowDelegation = *p.AllowDelegation
	}
	if p.AllowZeroPowerVotes != nil {
		rule.AllowZeroPowerVotes = *p.AllowZeroPowerVotes
	}
	if p.MinimumTokensToPropose != nil {
		rule.MinimumTokensToPropose = *p.MinimumTokensToPropose
	}
	if p.ProposalDeposit != nil {
		rule.ProposalDeposit = *p.ProposalDeposit
	}
}

package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// DelegationScope is either every proposal type (empty ProposalType) or one
// specific type.
type DelegationScope struct {
	ProposalType ProposalType
}

func GlobalScope() DelegationScope {
	return DelegationScope{}
}

func TypeScope(proposalType ProposalType) DelegationScope {
	return DelegationScope{ProposalType: proposalType}
}

func (s DelegationScope) IsGlobal() bool {
	return s.ProposalType == ""
}

// Covers reports whether a delegation with this scope applies to proposals of
// the given type.
func (s DelegationScope) Covers(proposalType ProposalType) bool {
	return s.IsGlobal() || s.ProposalType == proposalType
}

// Overlaps is true when both scopes could apply to the same proposal. A global
// scope overlaps everything.
func (s DelegationScope) Overlaps(other DelegationScope) bool {
	return s.IsGlobal() || other.IsGlobal() || s.ProposalType == other.ProposalType
}

func (s DelegationScope) String() string {
	if s.IsGlobal() {
		return "all"
	}
	return string(s.ProposalType)
}

// VotingDelegation is a single-hop delegator -> delegate edge. Revocation is a
// soft state change; rows are never deleted.
type VotingDelegation struct {
	DelegationID string
	DelegatorID  string
	DelegateID   string
	Scope        DelegationScope
	IsActive     bool
	CreatedAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

type DelegationFilter struct {
	DelegatorID     string
	DelegateID      string
	IncludeInactive bool
}

// VotingPower breaks effective power into its delegation components.
type VotingPower struct {
	ParticipantID string
	ProposalType  ProposalType
	BasePower     decimal.Decimal
	DelegatedAway decimal.Decimal
	Received      decimal.Decimal
	Effective     decimal.Decimal
	DelegatedTo   string
	Delegators    []string
}

package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProposalStatus string

const (
	ProposalStatusDraft     ProposalStatus = "draft"
	ProposalStatusActive    ProposalStatus = "active"
	ProposalStatusApproved  ProposalStatus = "approved"
	ProposalStatusRejected  ProposalStatus = "rejected"
	ProposalStatusCancelled ProposalStatus = "cancelled"
	ProposalStatusExecuted  ProposalStatus = "executed"
	ProposalStatusFailed    ProposalStatus = "failed"
)

// Resolved reports whether the voting outcome is already decided.
func (s ProposalStatus) Resolved() bool {
	switch s {
	case ProposalStatusApproved,
		ProposalStatusRejected,
		ProposalStatusCancelled,
		ProposalStatusExecuted,
		ProposalStatusFailed:
		return true
	default:
		return false
	}
}

type Proposal struct {
	ProposalID     string
	ProposalType   ProposalType
	Title          string
	Description    string
	Payload        []byte
	CreatorID      string
	Status         ProposalStatus
	Rule           RuleSnapshot
	DepositAmount  decimal.Decimal
	CreatedAt      time.Time
	VotingOpensAt  *time.Time
	VotingClosesAt *time.Time
	ResolvedAt     *time.Time
	CancelledAt    *time.Time
	ExecutedAt     *time.Time
	FinalTally     *Tally
	Version        int
	UpdatedAt      time.Time
}

// AcceptsVotesAt reports whether a vote cast at now falls inside the window.
func (p Proposal) AcceptsVotesAt(now time.Time) bool {
	if p.Status != ProposalStatusActive || p.VotingOpensAt == nil || p.VotingClosesAt == nil {
		return false
	}
	return !now.Before(*p.VotingOpensAt) && now.Before(*p.VotingClosesAt)
}

// WindowElapsed reports whether the voting window has ended at now.
func (p Proposal) WindowElapsed(now time.Time) bool {
	return p.VotingClosesAt != nil && !now.Before(*p.VotingClosesAt)
}

type ProposalFilter struct {
	Status       ProposalStatus
	ProposalType ProposalType
	CreatorID    string
	Limit        int
}

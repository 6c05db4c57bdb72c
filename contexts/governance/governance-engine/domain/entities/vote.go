package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type VoteChoice string

const (
	VoteChoiceFor     VoteChoice = "for"
	VoteChoiceAgainst VoteChoice = "against"
	VoteChoiceAbstain VoteChoice = "abstain"
)

func (c VoteChoice) Valid() bool {
	return c == VoteChoiceFor || c == VoteChoiceAgainst || c == VoteChoiceAbstain
}

// Vote is immutable once written. VotingPowerAtCast is the effective power at
// cast time and is never recomputed.
type Vote struct {
	VoteID            string
	ProposalID        string
	VoterID           string
	Choice            VoteChoice
	VotingPowerAtCast decimal.Decimal
	BasePowerAtCast   decimal.Decimal
	ReceivedAtCast    decimal.Decimal
	Reason            string
	CastAt            time.Time
}

// Tally sums recorded power per choice against the eligible power
// denominator.
type Tally struct {
	ProposalID         string          `json:"proposal_id"`
	ForPower           decimal.Decimal `json:"for_power"`
	AgainstPower       decimal.Decimal `json:"against_power"`
	AbstainPower       decimal.Decimal `json:"abstain_power"`
	ParticipatingPower decimal.Decimal `json:"participating_power"`
	TotalEligiblePower decimal.Decimal `json:"total_eligible_power"`
	VoterCount         int             `json:"voter_count"`
	QuorumPercent      decimal.Decimal `json:"quorum_percent"`
	ApprovalPercent    decimal.Decimal `json:"approval_percent"`
	QuorumReached      bool            `json:"quorum_reached"`
	ApprovalReached    bool            `json:"approval_reached"`
	ComputedAt         time.Time       `json:"computed_at"`
}

func (t Tally) Passed() bool {
	return t.QuorumReached && t.ApprovalReached
}

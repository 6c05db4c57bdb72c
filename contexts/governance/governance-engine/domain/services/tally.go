package services

import (
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/shopspring/decimal"
)

const percentDisplayPlaces = 4

// SumVotes adds recorded cast-time power per choice.
func SumVotes(proposalID string, votes []entities.Vote) entities.Tally {
	tally := entities.Tally{
		ProposalID:   proposalID,
		ForPower:     decimal.Zero,
		AgainstPower: decimal.Zero,
		AbstainPower: decimal.Zero,
	}
	for _, vote := range votes {
		switch vote.Choice {
		case entities.VoteChoiceFor:
			tally.ForPower = tally.ForPower.Add(vote.VotingPowerAtCast)
		case entities.VoteChoiceAgainst:
			tally.AgainstPower = tally.AgainstPower.Add(vote.VotingPowerAtCast)
		case entities.VoteChoiceAbstain:
			tally.AbstainPower = tally.AbstainPower.Add(vote.VotingPowerAtCast)
		}
		tally.VoterCount++
	}
	tally.ParticipatingPower = tally.ForPower.Add(tally.AgainstPower).Add(tally.AbstainPower)
	return tally
}

// EvaluateThresholds fills quorum and approval results on tally.
//
// Quorum holds when participating*100 >= quorum*total and total > 0.
// Approval holds when for*100 >= threshold*(for+against) and for+against > 0.
// Abstain power counts toward quorum only. Both comparisons are exact.
func EvaluateThresholds(
	tally entities.Tally,
	totalEligible decimal.Decimal,
	rule entities.RuleSnapshot,
	now time.Time,
) entities.Tally {
	tally.TotalEligiblePower = totalEligible
	tally.ComputedAt = now.UTC()
	tally.QuorumPercent = decimal.Zero
	tally.ApprovalPercent = decimal.Zero
	tally.QuorumReached = false
	tally.ApprovalReached = false

	if totalEligible.IsPositive() {
		tally.QuorumPercent = tally.ParticipatingPower.Mul(hundred).Div(totalEligible).Round(percentDisplayPlaces)
		tally.QuorumReached = tally.ParticipatingPower.Mul(hundred).
			GreaterThanOrEqual(rule.MinimumQuorumPercent.Mul(totalEligible))
	}

	decided := tally.ForPower.Add(tally.AgainstPower)
	if decided.IsPositive() {
		tally.ApprovalPercent = tally.ForPower.Mul(hundred).Div(decided).Round(percentDisplayPlaces)
		tally.ApprovalReached = tally.ForPower.Mul(hundred).
			GreaterThanOrEqual(rule.ApprovalThresholdPercent.Mul(decided))
	}
	return tally
}

package services

import (
	"fmt"
	"sort"
	"strings"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"github.com/shopspring/decimal"
)

// EvaluateDelegation checks a new delegator -> delegate edge against the
// delegator's existing delegations. Delegation is single-hop, so the only
// cycle that needs rejecting is the self edge.
func EvaluateDelegation(
	delegatorID string,
	delegateID string,
	scope entities.DelegationScope,
	existing []entities.VotingDelegation,
) error {
	delegatorID = strings.TrimSpace(delegatorID)
	delegateID = strings.TrimSpace(delegateID)
	if delegatorID == "" || delegateID == "" {
		return fmt.Errorf("%w: delegator and delegate are required", domainerrors.ErrInvalidDelegationInput)
	}
	if !scope.IsGlobal() && !scope.ProposalType.Valid() {
		return fmt.Errorf("%w: unknown proposal type %q", domainerrors.ErrInvalidDelegationInput, scope.ProposalType)
	}
	if delegatorID == delegateID {
		return domainerrors.ErrSelfDelegation
	}
	for _, delegation := range existing {
		if !delegation.IsActive || delegation.DelegatorID != delegatorID {
			continue
		}
		if delegation.Scope.Overlaps(scope) {
			return fmt.Errorf("%w: delegation %s with scope %s is active",
				domainerrors.ErrOverlappingDelegation, delegation.DelegationID, delegation.Scope)
		}
	}
	return nil
}

// ReceivedDelegation pairs an inbound delegation with the delegator's base
// power.
type ReceivedDelegation struct {
	Delegation    entities.VotingDelegation
	DelegatorBase decimal.Decimal
}

// ComputeVotingPower derives effective power for one proposal type:
// base - power delegated away + base power of covering inbound delegators.
// An empty proposalType only honours global delegations. When
// delegationEnabled is false every delegation is ignored.
func ComputeVotingPower(
	participantID string,
	proposalType entities.ProposalType,
	base decimal.Decimal,
	outgoing []entities.VotingDelegation,
	incoming []ReceivedDelegation,
	delegationEnabled bool,
) entities.VotingPower {
	power := entities.VotingPower{
		ParticipantID: participantID,
		ProposalType:  proposalType,
		BasePower:     base,
		DelegatedAway: decimal.Zero,
		Received:      decimal.Zero,
		Delegators:    []string{},
	}
	if !delegationEnabled {
		power.Effective = base
		return power
	}

	for _, delegation := range outgoing {
		if !delegation.IsActive || delegation.DelegatorID != participantID {
			continue
		}
		if delegation.Scope.Covers(proposalType) {
			// scopes never overlap, so at most one outgoing edge covers a type
			power.DelegatedAway = base
			power.DelegatedTo = delegation.DelegateID
			break
		}
	}

	for _, received := range incoming {
		delegation := received.Delegation
		if !delegation.IsActive || delegation.DelegateID != participantID {
			continue
		}
		if !delegation.Scope.Covers(proposalType) {
			continue
		}
		power.Received = power.Received.Add(received.DelegatorBase)
		power.Delegators = append(power.Delegators, delegation.DelegatorID)
	}
	sort.Strings(power.Delegators)

	power.Effective = base.Sub(power.DelegatedAway).Add(power.Received)
	return power
}

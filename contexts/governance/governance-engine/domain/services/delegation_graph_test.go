package services

import (
	"testing"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateDelegation(t *testing.T) {
	existing := []entities.VotingDelegation{
		{
			DelegationID: "d-1",
			DelegatorID:  "alice",
			DelegateID:   "bob",
			Scope:        entities.TypeScope(entities.ProposalTypeTreasurySpend),
			IsActive:     true,
		},
		{
			DelegationID: "d-0",
			DelegatorID:  "alice",
			DelegateID:   "carol",
			Scope:        entities.GlobalScope(),
			IsActive:     false,
		},
	}

	require.ErrorIs(t, EvaluateDelegation("alice", "alice", entities.GlobalScope(), nil), domainerrors.ErrSelfDelegation)
	require.ErrorIs(t, EvaluateDelegation("", "bob", entities.GlobalScope(), nil), domainerrors.ErrInvalidDelegationInput)
	require.ErrorIs(t,
		EvaluateDelegation("alice", "bob", entities.TypeScope("nope"), nil),
		domainerrors.ErrInvalidDelegationInput,
	)

	err := EvaluateDelegation("alice", "carol", entities.GlobalScope(), existing)
	require.ErrorIs(t, err, domainerrors.ErrOverlappingDelegation)
	assert.Contains(t, err.Error(), "d-1")

	err = EvaluateDelegation("alice", "carol", entities.TypeScope(entities.ProposalTypeTreasurySpend), existing)
	require.ErrorIs(t, err, domainerrors.ErrOverlappingDelegation)

	require.NoError(t, EvaluateDelegation("alice", "carol", entities.TypeScope(entities.ProposalTypeGeneral), existing))
}

func TestComputeVotingPower(t *testing.T) {
	global := entities.VotingDelegation{
		DelegationID: "d-1",
		DelegatorID:  "p",
		DelegateID:   "q",
		Scope:        entities.GlobalScope(),
		IsActive:     true,
	}
	treasuryOnly := entities.VotingDelegation{
		DelegationID: "d-2",
		DelegatorID:  "r",
		DelegateID:   "q",
		Scope:        entities.TypeScope(entities.ProposalTypeTreasurySpend),
		IsActive:     true,
	}
	incoming := []ReceivedDelegation{
		{Delegation: global, DelegatorBase: dec("40")},
		{Delegation: treasuryOnly, DelegatorBase: dec("25")},
	}

	delegator := ComputeVotingPower("p", entities.ProposalTypeGeneral, dec("40"),
		[]entities.VotingDelegation{global}, nil, true)
	assert.True(t, delegator.Effective.IsZero(), delegator.Effective.String())
	assert.Equal(t, "q", delegator.DelegatedTo)

	general := ComputeVotingPower("q", entities.ProposalTypeGeneral, dec("10"), nil, incoming, true)
	assert.True(t, general.Effective.Equal(dec("50")), general.Effective.String())
	assert.Equal(t, []string{"p"}, general.Delegators)

	treasury := ComputeVotingPower("q", entities.ProposalTypeTreasurySpend, dec("10"), nil, incoming, true)
	assert.True(t, treasury.Effective.Equal(dec("75")), treasury.Effective.String())
	assert.Equal(t, []string{"p", "r"}, treasury.Delegators)

	untyped := ComputeVotingPower("q", "", dec("10"), nil, incoming, true)
	assert.True(t, untyped.Effective.Equal(dec("50")), untyped.Effective.String())

	disabled := ComputeVotingPower("p", entities.ProposalTypeGeneral, dec("40"),
		[]entities.VotingDelegation{global}, nil, false)
	assert.True(t, disabled.Effective.Equal(dec("40")))

	revoked := global
	revoked.IsActive = false
	restored := ComputeVotingPower("p", entities.ProposalTypeGeneral, dec("40"),
		[]entities.VotingDelegation{revoked}, nil, true)
	assert.True(t, restored.Effective.Equal(restored.BasePower))
}

package commands_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
)

func (h *harness) delegate(t *testing.T, delegatorID string, delegateID string, proposalType entities.ProposalType) entities.VotingDelegation {
	t.Helper()
	result, err := h.delegations.Delegate(context.Background(), commands.DelegateCommand{
		DelegatorID:  delegatorID,
		DelegateID:   delegateID,
		ProposalType: proposalType,
	})
	if err != nil {
		t.Fatalf("delegate %s -> %s failed: %v", delegatorID, delegateID, err)
	}
	return result.Delegation
}

func TestDelegatedPowerMovesToDelegate(t *testing.T) {
	h := newHarness(t)
	h.createRule(t, ruleParams(entities.ProposalTypeGeneral))
	h.directory.SetStake("peggy", dec("100"))
	h.directory.SetStake("quinn", dec("50"))
	h.delegate(t, "peggy", "quinn", "")

	proposal := h.openProposal(t, entities.ProposalTypeGeneral)
	_, err := h.votes.CastVote(context.Background(), commands.CastVoteCommand{
		VoterID:    "peggy",
		ProposalID: proposal.ProposalID,
		Choice:     entities.VoteChoiceFor,
	})
	if !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected delegator vote to be rejected, got %v", err)
	}

	vote := h.cast(t, proposal.ProposalID, "quinn", entities.VoteChoiceFor)
	if !vote.VotingPowerAtCast.Equal(dec("150")) {
		t.Fatalf("expected delegate power 150, got %s", vote.VotingPowerAtCast)
	}
	if !vote.BasePowerAtCast.Equal(dec("50")) || !vote.ReceivedAtCast.Equal(dec("100")) {
		t.Fatalf("unexpected power breakdown base=%s received=%s", vote.BasePowerAtCast, vote.ReceivedAtCast)
	}
}

func TestDelegationIgnoredWhenRuleDisallowsIt(t *testing.T) {
	h := newHarness(t)
	params := ruleParams(entities.ProposalTypeGeneral)
	params.AllowDelegation = false
	h.createRule(t, params)
	h.directory.SetStake("peggy", dec("100"))
	h.directory.SetStake("quinn", dec("50"))
	h.delegate(t, "peggy", "quinn", "")

	proposal := h.openProposal(t, entities.ProposalTypeGeneral)
	peggy := h.cast(t, proposal.ProposalID, "peggy", entities.VoteChoiceFor)
	quinn := h.cast(t, proposal.ProposalID, "quinn", entities.VoteChoiceAgainst)
	if !peggy.VotingPowerAtCast.Equal(dec("100")) || !quinn.VotingPowerAtCast.Equal(dec("50")) {
		t.Fatalf("expected base powers, got %s and %s", peggy.VotingPowerAtCast, quinn.VotingPowerAtCast)
	}
}

func TestRevokeRestoresBasePower(t *testing.T) {
	h := newHarness(t)
	h.createRule(t, ruleParams(entities.ProposalTypeGeneral))
	h.directory.SetStake("peggy", dec("100"))
	h.directory.SetStake("quinn", dec("50"))
	delegation := h.delegate(t, "peggy", "quinn", entities.ProposalTypeGeneral)

	_, err := h.delegations.Revoke(context.Background(), commands.RevokeDelegationCommand{
		ActorID:      "quinn",
		DelegationID: delegation.DelegationID,
	})
	if !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected only the delegator to revoke, got %v", err)
	}
	revoked, err := h.delegations.Revoke(context.Background(), commands.RevokeDelegationCommand{
		ActorID:      "peggy",
		DelegationID: delegation.DelegationID,
		Reason:       "voting myself",
	})
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if revoked.IsActive || revoked.RevokedAt == nil {
		t.Fatalf("expected revoked delegation")
	}
	_, err = h.delegations.Revoke(context.Background(), commands.RevokeDelegationCommand{
		ActorID:      "peggy",
		DelegationID: delegation.DelegationID,
	})
	if !errors.Is(err, domainerrors.ErrDelegationNotActive) {
		t.Fatalf("expected delegation not active, got %v", err)
	}

	proposal := h.openProposal(t, entities.ProposalTypeGeneral)
	peggy := h.cast(t, proposal.ProposalID, "peggy", entities.VoteChoiceFor)
	quinn := h.cast(t, proposal.ProposalID, "quinn", entities.VoteChoiceFor)
	if !peggy.VotingPowerAtCast.Equal(dec("100")) || !quinn.VotingPowerAtCast.Equal(dec("50")) {
		t.Fatalf("expected base powers after revoke, got %s and %s", peggy.VotingPowerAtCast, quinn.VotingPowerAtCast)
	}
	if countEvents(h.store, commands.EventDelegationRevoked) != 1 {
		t.Fatalf("expected one revoked event")
	}
}

func TestDelegateRejectsSelfAndOverlap(t *testing.T) {
	h := newHarness(t)
	_, err := h.delegations.Delegate(context.Background(), commands.DelegateCommand{
		DelegatorID: "peggy",
		DelegateID:  "peggy",
	})
	if !errors.Is(err, domainerrors.ErrSelfDelegation) {
		t.Fatalf("expected self delegation rejection, got %v", err)
	}

	h.delegate(t, "peggy", "quinn", entities.ProposalTypeTreasurySpend)
	h.delegate(t, "peggy", "rita", entities.ProposalTypeGeneral)
	_, err = h.delegations.Delegate(context.Background(), commands.DelegateCommand{
		DelegatorID: "peggy",
		DelegateID:  "sam",
	})
	if !errors.Is(err, domainerrors.ErrOverlappingDelegation) {
		t.Fatalf("expected global scope to overlap typed delegations, got %v", err)
	}
}

func TestConcurrentOverlappingDelegationsCreateOne(t *testing.T) {
	h := newHarness(t)
	delegates := []string{"quinn", "rita", "sam", "trent", "uma"}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		overlaps   int
		unexpected []error
	)
	for _, delegateID := range delegates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.delegations.Delegate(context.Background(), commands.DelegateCommand{
				DelegatorID: "peggy",
				DelegateID:  delegateID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domainerrors.ErrOverlappingDelegation):
				overlaps++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if succeeded != 1 || overlaps != len(delegates)-1 {
		t.Fatalf("expected one delegation to win, got %d successes and %d overlaps", succeeded, overlaps)
	}
	active, err := h.store.Reader().Delegations.ListDelegations(context.Background(), entities.DelegationFilter{
		DelegatorID: "peggy",
	})
	if err != nil {
		t.Fatalf("list delegations failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one active delegation, got %d", len(active))
	}
}

func TestDelegateIdempotencyReplay(t *testing.T) {
	h := newHarness(t)
	cmd := commands.DelegateCommand{
		DelegatorID:    "peggy",
		DelegateID:     "quinn",
		IdempotencyKey: "delegate-1",
	}
	first, err := h.delegations.Delegate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	second, err := h.delegations.Delegate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("replayed delegate failed: %v", err)
	}
	if !second.Replayed || second.Delegation.DelegationID != first.Delegation.DelegationID {
		t.Fatalf("expected replay of %s, got %+v", first.Delegation.DelegationID, second)
	}
}

package commands_test

import (
	"context"
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/adapters/memory"
	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/shopspring/decimal"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	directory *memory.Directory
	policy    *memory.Policy
	sink      *memory.ExecutionSink
	clock     *memory.ManualClock
	power     *application.PowerCalculator

	rules       commands.RuleUseCase
	proposals   commands.ProposalUseCase
	votes       commands.VoteUseCase
	delegations commands.DelegationUseCase
	executions  commands.ExecutionUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore(nil)
	directory := memory.NewDirectory()
	policy := memory.NewPolicy()
	sink := memory.NewExecutionSink()
	clock := memory.NewManualClock(testEpoch)
	power := application.NewPowerCalculator(directory, time.Second, 4, nil)

	return &harness{
		store:     store,
		directory: directory,
		policy:    policy,
		sink:      sink,
		clock:     clock,
		power:     power,
		rules: commands.RuleUseCase{
			Store:  store,
			Policy: policy,
			Clock:  clock,
			IDGen:  store,
		},
		proposals: commands.ProposalUseCase{
			Store:  store,
			Power:  power,
			Policy: policy,
			Clock:  clock,
			IDGen:  store,
		},
		votes: commands.VoteUseCase{
			Store:  store,
			Power:  power,
			Policy: policy,
			Clock:  clock,
			IDGen:  store,
		},
		delegations: commands.DelegationUseCase{
			Store: store,
			Clock: clock,
			IDGen: store,
		},
		executions: commands.ExecutionUseCase{
			Store:               store,
			Sink:                sink,
			Policy:              policy,
			Clock:               clock,
			IDGen:               store,
			MaxRetries:          3,
			LeaseTTL:            time.Minute,
			ExternalCallTimeout: time.Second,
		},
	}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func ruleParams(proposalType entities.ProposalType) entities.RuleParams {
	return entities.RuleParams{
		ProposalType:             proposalType,
		MinimumQuorumPercent:     dec("20"),
		ApprovalThresholdPercent: dec("51"),
		VotingPeriod:             24 * time.Hour,
		ExecutionDelay:           time.Hour,
		AllowDelegation:          true,
		MinimumTokensToPropose:   decimal.Zero,
		ProposalDeposit:          decimal.Zero,
	}
}

func (h *harness) createRule(t *testing.T, params entities.RuleParams) entities.GovernanceRule {
	t.Helper()
	rule, err := h.rules.CreateRule(context.Background(), commands.CreateRuleCommand{
		ActorID: "rule-admin",
		Params:  params,
	})
	if err != nil {
		t.Fatalf("create rule failed: %v", err)
	}
	return rule
}

func (h *harness) openProposal(t *testing.T, proposalType entities.ProposalType) entities.Proposal {
	t.Helper()
	result, err := h.proposals.CreateProposal(context.Background(), commands.CreateProposalCommand{
		ActorID:         "alice",
		ProposalType:    proposalType,
		Title:           "Raise the validator cap",
		Description:     "Raise the cap from 100 to 150.",
		Payload:         []byte(`{"cap":150}`),
		OpenImmediately: true,
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if result.Proposal.Status != entities.ProposalStatusActive {
		t.Fatalf("expected active proposal, got %s", result.Proposal.Status)
	}
	return result.Proposal
}

func (h *harness) cast(t *testing.T, proposalID string, voterID string, choice entities.VoteChoice) entities.Vote {
	t.Helper()
	result, err := h.votes.CastVote(context.Background(), commands.CastVoteCommand{
		VoterID:    voterID,
		ProposalID: proposalID,
		Choice:     choice,
	})
	if err != nil {
		t.Fatalf("cast vote for %s failed: %v", voterID, err)
	}
	return result.Vote
}

func (h *harness) closeAfterWindow(t *testing.T, proposalID string) commands.CloseProposalResult {
	t.Helper()
	h.clock.Advance(25 * time.Hour)
	result, err := h.proposals.CloseProposal(context.Background(), commands.CloseProposalCommand{ProposalID: proposalID})
	if err != nil {
		t.Fatalf("close proposal failed: %v", err)
	}
	return result
}

// approvedProposal returns a proposal of proposalType that passed with one
// "for" voter holding all stake.
func (h *harness) approvedProposal(t *testing.T, params entities.RuleParams) entities.Proposal {
	t.Helper()
	h.createRule(t, params)
	h.directory.SetStake("whale", dec("500"))
	proposal := h.openProposal(t, params.ProposalType)
	h.cast(t, proposal.ProposalID, "whale", entities.VoteChoiceFor)
	result := h.closeAfterWindow(t, proposal.ProposalID)
	if result.Proposal.Status != entities.ProposalStatusApproved {
		t.Fatalf("expected approved proposal, got %s", result.Proposal.Status)
	}
	return result.Proposal
}

func countEvents(store *memory.Store, eventType string) int {
	count := 0
	for _, event := range store.OutboxEvents() {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

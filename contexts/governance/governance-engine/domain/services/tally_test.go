package services

import (
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func votesOf(powers map[entities.VoteChoice][]string) []entities.Vote {
	votes := []entities.Vote{}
	for choice, values := range powers {
		for _, value := range values {
			votes = append(votes, entities.Vote{Choice: choice, VotingPowerAtCast: dec(value)})
		}
	}
	return votes
}

func TestEvaluateThresholds(t *testing.T) {
	rule := entities.RuleSnapshot{
		MinimumQuorumPercent:     dec("20"),
		ApprovalThresholdPercent: dec("51"),
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		votes        []entities.Vote
		total        string
		wantQuorum   bool
		wantApproval bool
		wantPassed   bool
	}{
		{
			name: "quorum met and approval above threshold",
			votes: votesOf(map[entities.VoteChoice][]string{
				entities.VoteChoiceFor:     {"150"},
				entities.VoteChoiceAgainst: {"100"},
				entities.VoteChoiceAbstain: {"50"},
			}),
			total:        "1000",
			wantQuorum:   true,
			wantApproval: true,
			wantPassed:   true,
		},
		{
			name: "quorum met exactly and approval below threshold",
			votes: votesOf(map[entities.VoteChoice][]string{
				entities.VoteChoiceFor:     {"90"},
				entities.VoteChoiceAgainst: {"110"},
			}),
			total:        "1000",
			wantQuorum:   true,
			wantApproval: false,
			wantPassed:   false,
		},
		{
			name: "abstain only reaches quorum but not approval",
			votes: votesOf(map[entities.VoteChoice][]string{
				entities.VoteChoiceAbstain: {"500"},
			}),
			total:        "1000",
			wantQuorum:   true,
			wantApproval: false,
		},
		{
			name: "quorum missed",
			votes: votesOf(map[entities.VoteChoice][]string{
				entities.VoteChoiceFor: {"100", "99"},
			}),
			total:        "1000",
			wantQuorum:   false,
			wantApproval: true,
		},
		{
			name:  "zero eligible power fails quorum",
			votes: nil,
			total: "0",
		},
		{
			name: "approval exactly at threshold passes",
			votes: votesOf(map[entities.VoteChoice][]string{
				entities.VoteChoiceFor:     {"51"},
				entities.VoteChoiceAgainst: {"49"},
			}),
			total:        "100",
			wantQuorum:   true,
			wantApproval: true,
			wantPassed:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := EvaluateThresholds(SumVotes("p-1", tt.votes), dec(tt.total), rule, now)
			assert.Equal(t, tt.wantQuorum, tally.QuorumReached)
			assert.Equal(t, tt.wantApproval, tally.ApprovalReached)
			assert.Equal(t, tt.wantPassed, tally.Passed())
			assert.Equal(t, len(tt.votes), tally.VoterCount)
		})
	}
}

func TestEvaluateThresholdsReportsPercentages(t *testing.T) {
	rule := entities.RuleSnapshot{MinimumQuorumPercent: dec("20"), ApprovalThresholdPercent: dec("51")}
	votes := votesOf(map[entities.VoteChoice][]string{
		entities.VoteChoiceFor:     {"150"},
		entities.VoteChoiceAgainst: {"100"},
		entities.VoteChoiceAbstain: {"50"},
	})

	tally := EvaluateThresholds(SumVotes("p-1", votes), dec("1000"), rule, time.Now())

	assert.True(t, tally.ParticipatingPower.Equal(dec("300")))
	assert.True(t, tally.QuorumPercent.Equal(dec("30")), tally.QuorumPercent.String())
	assert.True(t, tally.ApprovalPercent.Equal(dec("60")), tally.ApprovalPercent.String())
}

func TestResolveProposal(t *testing.T) {
	opensAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	closesAt := opensAt.Add(48 * time.Hour)
	active := entities.Proposal{
		ProposalID:     "p-1",
		Status:         entities.ProposalStatusActive,
		VotingOpensAt:  &opensAt,
		VotingClosesAt: &closesAt,
	}
	passing := entities.Tally{QuorumReached: true, ApprovalReached: true}

	_, err := ResolveProposal(active, passing, closesAt.Add(-time.Second))
	require.ErrorIs(t, err, domainerrors.ErrVotingWindowOpen)
	require.ErrorIs(t, err, domainerrors.ErrConflict)

	resolved, err := ResolveProposal(active, passing, closesAt)
	require.NoError(t, err)
	assert.Equal(t, entities.ProposalStatusApproved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.FinalTally)

	rejected, err := ResolveProposal(active, entities.Tally{QuorumReached: true}, closesAt)
	require.NoError(t, err)
	assert.Equal(t, entities.ProposalStatusRejected, rejected.Status)

	_, err = ResolveProposal(resolved, passing, closesAt)
	var transitionErr *domainerrors.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "approved", transitionErr.From)
}

func TestEnsureTransition(t *testing.T) {
	legal := [][2]entities.ProposalStatus{
		{entities.ProposalStatusDraft, entities.ProposalStatusActive},
		{entities.ProposalStatusDraft, entities.ProposalStatusCancelled},
		{entities.ProposalStatusActive, entities.ProposalStatusApproved},
		{entities.ProposalStatusActive, entities.ProposalStatusRejected},
		{entities.ProposalStatusActive, entities.ProposalStatusCancelled},
		{entities.ProposalStatusApproved, entities.ProposalStatusExecuted},
		{entities.ProposalStatusApproved, entities.ProposalStatusFailed},
	}
	for _, pair := range legal {
		assert.NoError(t, EnsureTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	illegal := [][2]entities.ProposalStatus{
		{entities.ProposalStatusDraft, entities.ProposalStatusApproved},
		{entities.ProposalStatusApproved, entities.ProposalStatusCancelled},
		{entities.ProposalStatusRejected, entities.ProposalStatusActive},
		{entities.ProposalStatusCancelled, entities.ProposalStatusActive},
		{entities.ProposalStatusExecuted, entities.ProposalStatusFailed},
		{entities.ProposalStatusFailed, entities.ProposalStatusApproved},
	}
	for _, pair := range illegal {
		err := EnsureTransition(pair[0], pair[1])
		require.ErrorIs(t, err, domainerrors.ErrInvalidTransition)
		require.ErrorIs(t, err, domainerrors.ErrConflict)
		assert.Contains(t, err.Error(), string(pair[0])+" -> "+string(pair[1]))
	}
}

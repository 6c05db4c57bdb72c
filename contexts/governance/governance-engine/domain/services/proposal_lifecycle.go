package services

import (
	"fmt"
	"strings"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"github.com/shopspring/decimal"
)

var proposalTransitions = map[entities.ProposalStatus][]entities.ProposalStatus{
	entities.ProposalStatusDraft: {
		entities.ProposalStatusActive,
		entities.ProposalStatusCancelled,
	},
	entities.ProposalStatusActive: {
		entities.ProposalStatusApproved,
		entities.ProposalStatusRejected,
		entities.ProposalStatusCancelled,
	},
	entities.ProposalStatusApproved: {
		entities.ProposalStatusExecuted,
		entities.ProposalStatusFailed,
	},
}

// EnsureTransition returns a *TransitionError unless from -> to is a legal
// proposal transition.
func EnsureTransition(from entities.ProposalStatus, to entities.ProposalStatus) error {
	for _, allowed := range proposalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &domainerrors.TransitionError{From: string(from), To: string(to)}
}

const (
	maxTitleLength       = 200
	maxDescriptionLength = 20000
)

// ValidateProposalContent checks the creator-editable fields.
func ValidateProposalContent(title string, description string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", domainerrors.ErrInvalidProposalInput)
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", domainerrors.ErrInvalidProposalInput, maxTitleLength)
	}
	if len(description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", domainerrors.ErrInvalidProposalInput, maxDescriptionLength)
	}
	return nil
}

// EvaluateProposerStake rejects creators whose token balance is below the
// rule minimum.
func EvaluateProposerStake(balance decimal.Decimal, rule entities.RuleSnapshot) error {
	if rule.MinimumTokensToPropose.IsPositive() && balance.LessThan(rule.MinimumTokensToPropose) {
		return domainerrors.ErrNotAuthorized
	}
	return nil
}

// OpenVoting moves a draft proposal to active with a window of the
// snapshotted voting period starting at now.
func OpenVoting(proposal entities.Proposal, now time.Time) (entities.Proposal, error) {
	if err := EnsureTransition(proposal.Status, entities.ProposalStatusActive); err != nil {
		return entities.Proposal{}, err
	}
	opensAt := now.UTC()
	closesAt := opensAt.Add(proposal.Rule.VotingPeriod)
	proposal.Status = entities.ProposalStatusActive
	proposal.VotingOpensAt = &opensAt
	proposal.VotingClosesAt = &closesAt
	proposal.UpdatedAt = opensAt
	proposal.Version++
	return proposal, nil
}

// ResolveProposal applies a final tally to an active proposal whose window
// has elapsed.
func ResolveProposal(proposal entities.Proposal, tally entities.Tally, now time.Time) (entities.Proposal, error) {
	if proposal.Status != entities.ProposalStatusActive {
		return entities.Proposal{}, &domainerrors.TransitionError{
			From: string(proposal.Status),
			To:   string(outcomeStatus(tally)),
		}
	}
	if !proposal.WindowElapsed(now) {
		return entities.Proposal{}, fmt.Errorf("%w: closes at %s",
			domainerrors.ErrVotingWindowOpen, proposal.VotingClosesAt.UTC().Format(time.RFC3339))
	}
	resolvedAt := now.UTC()
	proposal.Status = outcomeStatus(tally)
	proposal.FinalTally = &tally
	proposal.ResolvedAt = &resolvedAt
	proposal.UpdatedAt = resolvedAt
	proposal.Version++
	return proposal, nil
}

func outcomeStatus(tally entities.Tally) entities.ProposalStatus {
	if tally.Passed() {
		return entities.ProposalStatusApproved
	}
	return entities.ProposalStatusRejected
}

package queries

import (
	"context"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"
	"agora/contexts/governance/governance-engine/ports"

	"go.opentelemetry.io/otel/attribute"
)

type RuleQueries struct {
	Store ports.Store
}

func (q RuleQueries) GetRule(ctx context.Context, ruleID string) (entities.GovernanceRule, error) {
	return q.Store.Reader().Rules.GetRule(ctx, strings.TrimSpace(ruleID))
}

// GetActiveRule returns the rule currently governing proposalType.
func (q RuleQueries) GetActiveRule(ctx context.Context, proposalType entities.ProposalType) (entities.GovernanceRule, error) {
	rule, found, err := q.Store.Reader().Rules.GetActiveRuleByType(ctx, proposalType)
	if err != nil {
		return entities.GovernanceRule{}, err
	}
	if !found {
		return entities.GovernanceRule{}, domainerrors.ErrRuleNotFound
	}
	return rule, nil
}

func (q RuleQueries) ListRules(ctx context.Context, includeInactive bool) ([]entities.GovernanceRule, error) {
	return q.Store.Reader().Rules.ListRules(ctx, includeInactive)
}

// VotesWithTally is a proposal's vote list next to its current tally.
type VotesWithTally struct {
	Votes []entities.Vote
	Tally entities.Tally
}

type ProposalQueries struct {
	Store   ports.Store
	Power   *application.PowerCalculator
	Clock   ports.Clock
	Metrics ports.Metrics
}

func (q ProposalQueries) GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error) {
	return q.Store.Reader().Proposals.GetProposal(ctx, strings.TrimSpace(proposalID))
}

func (q ProposalQueries) ListProposals(ctx context.Context, filter entities.ProposalFilter) ([]entities.Proposal, error) {
	return q.Store.Reader().Proposals.ListProposals(ctx, filter)
}

func (q ProposalQueries) GetVote(ctx context.Context, proposalID string, voterID string) (entities.Vote, error) {
	return q.Store.Reader().Votes.GetVote(ctx, strings.TrimSpace(proposalID), strings.TrimSpace(voterID))
}

func (q ProposalQueries) ListVotes(ctx context.Context, proposalID string) (VotesWithTally, error) {
	proposalID = strings.TrimSpace(proposalID)
	tally, err := q.Tally(ctx, proposalID)
	if err != nil {
		return VotesWithTally{}, err
	}
	votes, err := q.Store.Reader().Votes.ListVotes(ctx, proposalID)
	if err != nil {
		return VotesWithTally{}, err
	}
	return VotesWithTally{Votes: votes, Tally: tally}, nil
}

// Tally returns the frozen final tally of a resolved proposal, or a live
// tally against the current eligible power otherwise. The live path is read
// only and stops on ctx cancellation.
func (q ProposalQueries) Tally(ctx context.Context, proposalID string) (tally entities.Tally, err error) {
	proposalID = strings.TrimSpace(proposalID)
	reader := q.Store.Reader()
	proposal, err := reader.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return entities.Tally{}, err
	}
	if proposal.FinalTally != nil {
		return *proposal.FinalTally, nil
	}

	ctx, span := application.StartSpan(ctx, "governance.tally",
		attribute.String("proposal_id", proposalID),
		attribute.String("proposal_type", string(proposal.ProposalType)),
	)
	defer func() { application.EndSpan(span, err) }()
	started := time.Now()

	votes, err := reader.Votes.ListVotes(ctx, proposalID)
	if err != nil {
		return entities.Tally{}, err
	}
	total, err := q.Power.TotalEligiblePower(ctx, reader, proposal.ProposalType, proposal.Rule.AllowDelegation)
	if err != nil {
		return entities.Tally{}, err
	}
	now := time.Now().UTC()
	if q.Clock != nil {
		now = q.Clock.Now().UTC()
	}
	tally = services.EvaluateThresholds(services.SumVotes(proposalID, votes), total, proposal.Rule, now)
	application.ResolveMetrics(q.Metrics).ObserveTally(time.Since(started))
	span.SetAttributes(attribute.Int("voter_count", tally.VoterCount))
	return tally, nil
}

type DelegationQueries struct {
	Store ports.Store
	Power *application.PowerCalculator
}

func (q DelegationQueries) GetDelegation(ctx context.Context, delegationID string) (entities.VotingDelegation, error) {
	return q.Store.Reader().Delegations.GetDelegation(ctx, strings.TrimSpace(delegationID))
}

func (q DelegationQueries) ListDelegations(
	ctx context.Context,
	filter entities.DelegationFilter,
) ([]entities.VotingDelegation, error) {
	filter.DelegatorID = strings.TrimSpace(filter.DelegatorID)
	filter.DelegateID = strings.TrimSpace(filter.DelegateID)
	return q.Store.Reader().Delegations.ListDelegations(ctx, filter)
}

// VotingPower computes a participant's effective power for proposalType.
// Delegations are honoured unless the active rule for the type disables them.
func (q DelegationQueries) VotingPower(
	ctx context.Context,
	participantID string,
	proposalType entities.ProposalType,
) (entities.VotingPower, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" || (proposalType != "" && !proposalType.Valid()) {
		return entities.VotingPower{}, domainerrors.ErrInvalidDelegationInput
	}
	reader := q.Store.Reader()
	delegationEnabled, err := delegationEnabledFor(ctx, reader, proposalType)
	if err != nil {
		return entities.VotingPower{}, err
	}
	return q.Power.VotingPower(ctx, reader, participantID, proposalType, delegationEnabled)
}

type ExecutionQueries struct {
	Store ports.Store
}

func (q ExecutionQueries) GetExecution(ctx context.Context, proposalID string) (entities.ProposalExecution, error) {
	return q.Store.Reader().Executions.GetExecutionByProposal(ctx, strings.TrimSpace(proposalID))
}

// ListExecutions lists pending executions or history depending on
// filter.Status; an empty status lists everything.
func (q ExecutionQueries) ListExecutions(
	ctx context.Context,
	filter entities.ExecutionFilter,
) ([]entities.ProposalExecution, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domainerrors.ErrInvalidExecutionInput
	}
	return q.Store.Reader().Executions.ListExecutions(ctx, filter)
}

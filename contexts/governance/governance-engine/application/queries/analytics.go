package queries

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"
	"agora/contexts/governance/governance-engine/ports"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const defaultTopHolders = 10

// AnalyticsQueries computes decentralization reports. Every method is read
// only; a cancelled ctx aborts the snapshot without side effects.
type AnalyticsQueries struct {
	Store   ports.Store
	Power   *application.PowerCalculator
	Clock   ports.Clock
	Metrics ports.Metrics
	Logger  *slog.Logger
}

// Distribution reports power concentration for proposalType. An empty type
// only honours global delegations.
func (q AnalyticsQueries) Distribution(
	ctx context.Context,
	proposalType entities.ProposalType,
	topN int,
) (report entities.DistributionReport, err error) {
	if proposalType != "" && !proposalType.Valid() {
		return entities.DistributionReport{}, domainerrors.ErrInvalidProposalInput
	}
	if topN <= 0 {
		topN = defaultTopHolders
	}
	ctx, span := application.StartSpan(ctx, "governance.analytics.distribution",
		attribute.String("proposal_type", string(proposalType)),
	)
	defer func() { application.EndSpan(span, err) }()

	reader := q.Store.Reader()
	delegationEnabled, err := delegationEnabledFor(ctx, reader, proposalType)
	if err != nil {
		return entities.DistributionReport{}, err
	}
	shares, err := q.Power.Snapshot(ctx, reader, proposalType, delegationEnabled)
	if err != nil {
		return entities.DistributionReport{}, err
	}
	report = services.BuildDistributionReport(proposalType, shares, topN)
	report.GeneratedAt = q.now()
	application.ResolveLogger(q.Logger).Info("distribution report generated",
		"event", "governance_analytics_distribution_generated",
		"module", application.ModuleName,
		"layer", "application",
		"proposal_type", string(proposalType),
		"participant_count", report.ParticipantCount,
		"nakamoto", report.Nakamoto,
	)
	return report, nil
}

func (q AnalyticsQueries) Participation(ctx context.Context, proposalID string) (entities.ParticipationReport, error) {
	proposalID = strings.TrimSpace(proposalID)
	proposal, err := q.Store.Reader().Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return entities.ParticipationReport{}, err
	}
	tally, err := ProposalQueries{Store: q.Store, Power: q.Power, Clock: q.Clock, Metrics: q.Metrics}.Tally(ctx, proposalID)
	if err != nil {
		return entities.ParticipationReport{}, err
	}
	return entities.ParticipationReport{
		ProposalID:         proposalID,
		Status:             proposal.Status,
		VoterCount:         tally.VoterCount,
		ParticipatingPower: tally.ParticipatingPower,
		TotalEligiblePower: tally.TotalEligiblePower,
		Turnout:            services.Ratio(tally.ParticipatingPower, tally.TotalEligiblePower),
		ForShare:           services.Ratio(tally.ForPower, tally.ParticipatingPower),
		AgainstShare:       services.Ratio(tally.AgainstPower, tally.ParticipatingPower),
		AbstainShare:       services.Ratio(tally.AbstainPower, tally.ParticipatingPower),
		GeneratedAt:        q.now(),
	}, nil
}

// Health summarises the whole governance system. Turnout is averaged over
// proposals with a recorded final tally.
func (q AnalyticsQueries) Health(ctx context.Context) (report entities.HealthReport, err error) {
	ctx, span := application.StartSpan(ctx, "governance.analytics.health")
	defer func() { application.EndSpan(span, err) }()

	reader := q.Store.Reader()
	counts, err := reader.Proposals.CountProposalsByStatus(ctx)
	if err != nil {
		return entities.HealthReport{}, err
	}
	proposals, err := reader.Proposals.ListProposals(ctx, entities.ProposalFilter{})
	if err != nil {
		return entities.HealthReport{}, err
	}
	delegations, err := reader.Delegations.ListDelegations(ctx, entities.DelegationFilter{})
	if err != nil {
		return entities.HealthReport{}, err
	}
	executions, err := reader.Executions.ListExecutions(ctx, entities.ExecutionFilter{})
	if err != nil {
		return entities.HealthReport{}, err
	}

	bases, err := q.Power.Snapshot(ctx, reader, "", false)
	if err != nil {
		return entities.HealthReport{}, err
	}
	baseByID := lo.SliceToMap(bases, func(share entities.PowerShare) (string, decimal.Decimal) {
		return share.ParticipantID, share.Power
	})
	totalBase := lo.Reduce(bases, func(sum decimal.Decimal, share entities.PowerShare, _ int) decimal.Decimal {
		return sum.Add(share.Power)
	}, decimal.Zero)
	delegators := lo.Uniq(lo.Map(delegations, func(delegation entities.VotingDelegation, _ int) string {
		return delegation.DelegatorID
	}))
	delegatedBase := decimal.Zero
	for _, delegatorID := range delegators {
		base, ok := baseByID[delegatorID]
		if !ok {
			base, err = q.Power.BasePower(ctx, delegatorID)
			if err != nil {
				return entities.HealthReport{}, err
			}
		}
		delegatedBase = delegatedBase.Add(base)
	}

	turnouts := lo.FilterMap(proposals, func(proposal entities.Proposal, _ int) (float64, bool) {
		if proposal.FinalTally == nil {
			return 0, false
		}
		return services.Ratio(proposal.FinalTally.ParticipatingPower, proposal.FinalTally.TotalEligiblePower), true
	})
	averageTurnout := 0.0
	if len(turnouts) > 0 {
		averageTurnout = lo.Sum(turnouts) / float64(len(turnouts))
	}

	completed := lo.CountBy(executions, func(execution entities.ProposalExecution) bool {
		return execution.Status == entities.ExecutionStatusCompleted
	})
	failed := lo.CountBy(executions, func(execution entities.ProposalExecution) bool {
		return execution.Status == entities.ExecutionStatusFailed
	})
	successRate := 0.0
	if completed+failed > 0 {
		successRate = float64(completed) / float64(completed+failed)
	}

	report = entities.HealthReport{
		ProposalsByStatus:    counts,
		ActiveDelegations:    len(delegations),
		DelegatedPowerShare:  services.Ratio(delegatedBase, totalBase),
		AverageTurnout:       averageTurnout,
		ExecutionSuccessRate: successRate,
		PendingExecutions:    len(executions) - completed - failed,
		GeneratedAt:          q.now(),
	}
	span.SetAttributes(attribute.Int("active_delegations", report.ActiveDelegations))
	return report, nil
}

func (q AnalyticsQueries) now() time.Time {
	if q.Clock != nil {
		return q.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func delegationEnabledFor(
	ctx context.Context,
	reader ports.Repositories,
	proposalType entities.ProposalType,
) (bool, error) {
	if proposalType == "" {
		return true, nil
	}
	rule, found, err := reader.Rules.GetActiveRuleByType(ctx, proposalType)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return rule.AllowDelegation, nil
}

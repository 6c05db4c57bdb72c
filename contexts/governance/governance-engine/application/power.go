package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"
	"agora/contexts/governance/governance-engine/ports"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultExternalCallTimeout = 5 * time.Second
	defaultLookupConcurrency   = 8
)

// PowerCalculator resolves effective voting power from the account directory
// and the delegation graph. Every directory call runs under its own timeout;
// concurrent lookups for the same participant share one call.
type PowerCalculator struct {
	Directory   ports.AccountDirectory
	Timeout     time.Duration
	Concurrency int
	Logger      *slog.Logger

	lookups singleflight.Group
}

func NewPowerCalculator(
	directory ports.AccountDirectory,
	timeout time.Duration,
	concurrency int,
	logger *slog.Logger,
) *PowerCalculator {
	return &PowerCalculator{
		Directory:   directory,
		Timeout:     timeout,
		Concurrency: concurrency,
		Logger:      logger,
	}
}

// BasePower returns the participant's own stake.
func (c *PowerCalculator) BasePower(ctx context.Context, participantID string) (decimal.Decimal, error) {
	participantID = strings.TrimSpace(participantID)
	value, err, _ := c.lookups.Do("base:"+participantID, func() (any, error) {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		return c.Directory.GetBaseVotingPower(callCtx, participantID)
	})
	if err != nil {
		return decimal.Zero, c.dependencyError(ctx, "get_base_voting_power", participantID, err)
	}
	return value.(decimal.Decimal), nil
}

// TokenBalance returns the participant's token balance for propose checks.
func (c *PowerCalculator) TokenBalance(ctx context.Context, participantID string) (decimal.Decimal, error) {
	participantID = strings.TrimSpace(participantID)
	value, err, _ := c.lookups.Do("balance:"+participantID, func() (any, error) {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		return c.Directory.GetTokenBalance(callCtx, participantID)
	})
	if err != nil {
		return decimal.Zero, c.dependencyError(ctx, "get_token_balance", participantID, err)
	}
	return value.(decimal.Decimal), nil
}

// VotingPower computes one participant's effective power for proposalType.
func (c *PowerCalculator) VotingPower(
	ctx context.Context,
	repos ports.Repositories,
	participantID string,
	proposalType entities.ProposalType,
	delegationEnabled bool,
) (entities.VotingPower, error) {
	participantID = strings.TrimSpace(participantID)
	base, err := c.BasePower(ctx, participantID)
	if err != nil {
		return entities.VotingPower{}, err
	}
	if !delegationEnabled {
		return services.ComputeVotingPower(participantID, proposalType, base, nil, nil, false), nil
	}

	outgoing, err := repos.Delegations.ListDelegations(ctx, entities.DelegationFilter{DelegatorID: participantID})
	if err != nil {
		return entities.VotingPower{}, err
	}
	inbound, err := repos.Delegations.ListDelegations(ctx, entities.DelegationFilter{DelegateID: participantID})
	if err != nil {
		return entities.VotingPower{}, err
	}
	inbound = lo.Filter(inbound, func(delegation entities.VotingDelegation, _ int) bool {
		return delegation.Scope.Covers(proposalType)
	})
	bases, err := c.basePowers(ctx, lo.Map(inbound, func(delegation entities.VotingDelegation, _ int) string {
		return delegation.DelegatorID
	}))
	if err != nil {
		return entities.VotingPower{}, err
	}
	received := lo.Map(inbound, func(delegation entities.VotingDelegation, _ int) services.ReceivedDelegation {
		return services.ReceivedDelegation{Delegation: delegation, DelegatorBase: bases[delegation.DelegatorID]}
	})
	return services.ComputeVotingPower(participantID, proposalType, base, outgoing, received, true), nil
}

// Snapshot returns effective power for every participant the directory
// enumerates. The sum of the snapshot is the eligible power denominator.
func (c *PowerCalculator) Snapshot(
	ctx context.Context,
	repos ports.Repositories,
	proposalType entities.ProposalType,
	delegationEnabled bool,
) (shares []entities.PowerShare, err error) {
	ctx, span := StartSpan(ctx, "governance.power_snapshot",
		attribute.String("proposal_type", string(proposalType)),
		attribute.Bool("delegation_enabled", delegationEnabled),
	)
	defer func() { EndSpan(span, err) }()

	callCtx, cancel := c.callContext(ctx)
	participants, err := c.Directory.ListParticipants(callCtx)
	cancel()
	if err != nil {
		return nil, c.dependencyError(ctx, "list_participants", "", err)
	}
	participants = lo.Uniq(lo.Compact(lo.Map(participants, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})))

	var active []entities.VotingDelegation
	if delegationEnabled {
		active, err = repos.Delegations.ListDelegations(ctx, entities.DelegationFilter{})
		if err != nil {
			return nil, err
		}
		active = lo.Filter(active, func(delegation entities.VotingDelegation, _ int) bool {
			return delegation.Scope.Covers(proposalType)
		})
	}

	lookup := append([]string{}, participants...)
	lookup = append(lookup, lo.Map(active, func(delegation entities.VotingDelegation, _ int) string {
		return delegation.DelegatorID
	})...)
	bases, err := c.basePowers(ctx, lo.Uniq(lookup))
	if err != nil {
		return nil, err
	}

	outgoing := lo.GroupBy(active, func(delegation entities.VotingDelegation) string { return delegation.DelegatorID })
	incoming := lo.GroupBy(active, func(delegation entities.VotingDelegation) string { return delegation.DelegateID })

	shares = make([]entities.PowerShare, 0, len(participants))
	for _, participantID := range participants {
		received := lo.Map(incoming[participantID], func(delegation entities.VotingDelegation, _ int) services.ReceivedDelegation {
			return services.ReceivedDelegation{Delegation: delegation, DelegatorBase: bases[delegation.DelegatorID]}
		})
		power := services.ComputeVotingPower(
			participantID,
			proposalType,
			bases[participantID],
			outgoing[participantID],
			received,
			delegationEnabled,
		)
		shares = append(shares, entities.PowerShare{ParticipantID: participantID, Power: power.Effective})
	}
	span.SetAttributes(attribute.Int("participant_count", len(shares)))
	return shares, nil
}

// TotalEligiblePower sums the snapshot, falling back to the directory total
// when no participants are enumerated.
func (c *PowerCalculator) TotalEligiblePower(
	ctx context.Context,
	repos ports.Repositories,
	proposalType entities.ProposalType,
	delegationEnabled bool,
) (decimal.Decimal, error) {
	shares, err := c.Snapshot(ctx, repos, proposalType, delegationEnabled)
	if err != nil {
		return decimal.Zero, err
	}
	if len(shares) == 0 {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		total, err := c.Directory.GetTotalEligiblePower(callCtx)
		if err != nil {
			return decimal.Zero, c.dependencyError(ctx, "get_total_eligible_power", "", err)
		}
		return total, nil
	}
	return lo.Reduce(shares, func(sum decimal.Decimal, share entities.PowerShare, _ int) decimal.Decimal {
		return sum.Add(share.Power)
	}, decimal.Zero), nil
}

func (c *PowerCalculator) basePowers(ctx context.Context, participantIDs []string) (map[string]decimal.Decimal, error) {
	limit := c.Concurrency
	if limit <= 0 {
		limit = defaultLookupConcurrency
	}
	var mu sync.Mutex
	results := make(map[string]decimal.Decimal, len(participantIDs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for _, participantID := range participantIDs {
		group.Go(func() error {
			power, err := c.BasePower(groupCtx, participantID)
			if err != nil {
				return err
			}
			mu.Lock()
			results[participantID] = power
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *PowerCalculator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultExternalCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// dependencyError keeps caller cancellation as-is and turns every other
// directory failure into a retryable unavailable error.
func (c *PowerCalculator) dependencyError(ctx context.Context, operation string, participantID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, domainerrors.ErrDependencyUnavailable) {
		return err
	}
	ResolveLogger(c.Logger).Warn("account directory call failed",
		"event", "governance_directory_call_failed",
		"module", ModuleName,
		"layer", "application",
		"operation", operation,
		"participant_id", participantID,
		"error", err.Error(),
	)
	return fmt.Errorf("%w: %s: %v", domainerrors.ErrDependencyUnavailable, operation, err)
}

package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/application/queries"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	httptransport "agora/contexts/governance/governance-engine/transport/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var requestValidate = validator.New()

type Handler struct {
	Rules       commands.RuleUseCase
	Proposals   commands.ProposalUseCase
	Votes       commands.VoteUseCase
	Delegations commands.DelegationUseCase
	Executions  commands.ExecutionUseCase

	RuleQueries       queries.RuleQueries
	ProposalQueries   queries.ProposalQueries
	DelegationQueries queries.DelegationQueries
	ExecutionQueries  queries.ExecutionQueries
	Analytics         queries.AnalyticsQueries

	Logger *slog.Logger
}

// validate rejects a malformed request with the supplied domain sentinel so
// the transport maps it like any other validation failure.
func validate(req any, sentinel error) error {
	if err := requestValidate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return nil
}

func (h Handler) CreateRuleHandler(
	ctx context.Context,
	actorID string,
	req httptransport.CreateRuleRequest,
) (httptransport.RuleResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidRuleInput); err != nil {
		return httptransport.RuleResponse{}, err
	}
	params := entities.RuleParams{
		ProposalType:        entities.ProposalType(req.ProposalType),
		RequiresMultiSig:    req.RequiresMultiSig,
		RequiredSignatures:  req.RequiredSignatures,
		AllowDelegation:     req.AllowDelegation,
		AllowZeroPowerVotes: req.AllowZeroPowerVotes,
	}
	var err error
	if params.VotingPeriod, err = secondsToDuration(req.VotingPeriodSeconds); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if params.ExecutionDelay, err = secondsToDuration(req.ExecutionDelaySeconds); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if params.MinimumQuorumPercent, err = parseDecimal(req.MinimumQuorumPercent); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if params.ApprovalThresholdPercent, err = parseDecimal(req.ApprovalThresholdPercent); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if params.MinimumTokensToPropose, err = parseDecimal(req.MinimumTokensToPropose); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if params.ProposalDeposit, err = parseDecimal(req.ProposalDeposit); err != nil {
		return httptransport.RuleResponse{}, err
	}

	rule, err := h.Rules.CreateRule(ctx, commands.CreateRuleCommand{
		ActorID: actorID,
		Params:  params,
	})
	if err != nil {
		return httptransport.RuleResponse{}, err
	}
	return mapRule(rule), nil
}

func (h Handler) UpdateRuleHandler(
	ctx context.Context,
	actorID string,
	ruleID string,
	req httptransport.UpdateRuleRequest,
) (httptransport.RuleResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidRuleInput); err != nil {
		return httptransport.RuleResponse{}, err
	}
	patch := entities.RulePatch{
		RequiresMultiSig:    req.RequiresMultiSig,
		RequiredSignatures:  req.RequiredSignatures,
		AllowDelegation:     req.AllowDelegation,
		AllowZeroPowerVotes: req.AllowZeroPowerVotes,
	}
	var err error
	if patch.VotingPeriod, err = secondsPtr(req.VotingPeriodSeconds); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if patch.ExecutionDelay, err = secondsPtr(req.ExecutionDelaySeconds); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if patch.MinimumQuorumPercent, err = parseOptionalDecimal(req.MinimumQuorumPercent); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if patch.ApprovalThresholdPercent, err = parseOptionalDecimal(req.ApprovalThresholdPercent); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if patch.MinimumTokensToPropose, err = parseOptionalDecimal(req.MinimumTokensToPropose); err != nil {
		return httptransport.RuleResponse{}, err
	}
	if patch.ProposalDeposit, err = parseOptionalDecimal(req.ProposalDeposit); err != nil {
		return httptransport.RuleResponse{}, err
	}

	rule, err := h.Rules.UpdateRule(ctx, commands.UpdateRuleCommand{
		ActorID: actorID,
		RuleID:  ruleID,
		Patch:   patch,
	})
	if err != nil {
		return httptransport.RuleResponse{}, err
	}
	return mapRule(rule), nil
}

func (h Handler) DeactivateRuleHandler(ctx context.Context, actorID string, ruleID string) (httptransport.RuleResponse, error) {
	rule, err := h.Rules.DeactivateRule(ctx, commands.DeactivateRuleCommand{
		ActorID: actorID,
		RuleID:  ruleID,
	})
	if err != nil {
		return httptransport.RuleResponse{}, err
	}
	return mapRule(rule), nil
}

func (h Handler) GetRuleHandler(ctx context.Context, ruleID string) (httptransport.RuleResponse, error) {
	rule, err := h.RuleQueries.GetRule(ctx, ruleID)
	if err != nil {
		return httptransport.RuleResponse{}, err
	}
	return mapRule(rule), nil
}

func (h Handler) ActiveRuleHandler(ctx context.Context, proposalType string) (httptransport.RuleResponse, error) {
	rule, err := h.RuleQueries.GetActiveRule(ctx, entities.ProposalType(proposalType))
	if err != nil {
		return httptransport.RuleResponse{}, err
	}
	return mapRule(rule), nil
}

func (h Handler) ListRulesHandler(ctx context.Context, includeInactive bool) (httptransport.RuleListResponse, error) {
	rules, err := h.RuleQueries.ListRules(ctx, includeInactive)
	if err != nil {
		return httptransport.RuleListResponse{}, err
	}
	items := make([]httptransport.RuleResponse, 0, len(rules))
	for _, rule := range rules {
		items = append(items, mapRule(rule))
	}
	return httptransport.RuleListResponse{Items: items}, nil
}

func (h Handler) CreateProposalHandler(
	ctx context.Context,
	actorID string,
	idempotencyKey string,
	req httptransport.CreateProposalRequest,
) (httptransport.ProposalResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidProposalInput); err != nil {
		return httptransport.ProposalResponse{}, err
	}
	result, err := h.Proposals.CreateProposal(ctx, commands.CreateProposalCommand{
		ActorID:         actorID,
		IdempotencyKey:  idempotencyKey,
		ProposalType:    entities.ProposalType(req.ProposalType),
		Title:           req.Title,
		Description:     req.Description,
		Payload:         req.Payload,
		OpenImmediately: req.OpenImmediately,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	response := mapProposal(result.Proposal)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) UpdateProposalHandler(
	ctx context.Context,
	actorID string,
	proposalID string,
	req httptransport.UpdateProposalRequest,
) (httptransport.ProposalResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidProposalInput); err != nil {
		return httptransport.ProposalResponse{}, err
	}
	proposal, err := h.Proposals.UpdateProposal(ctx, commands.UpdateProposalCommand{
		ActorID:     actorID,
		ProposalID:  proposalID,
		Title:       req.Title,
		Description: req.Description,
		Payload:     req.Payload,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return mapProposal(proposal), nil
}

func (h Handler) OpenProposalHandler(ctx context.Context, actorID string, proposalID string) (httptransport.ProposalResponse, error) {
	proposal, err := h.Proposals.OpenProposal(ctx, commands.OpenProposalCommand{
		ActorID:    actorID,
		ProposalID: proposalID,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return mapProposal(proposal), nil
}

func (h Handler) CancelProposalHandler(
	ctx context.Context,
	actorID string,
	proposalID string,
	req httptransport.CancelProposalRequest,
) (httptransport.ProposalResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidProposalInput); err != nil {
		return httptransport.ProposalResponse{}, err
	}
	proposal, err := h.Proposals.CancelProposal(ctx, commands.CancelProposalCommand{
		ActorID:    actorID,
		ProposalID: proposalID,
		Reason:     req.Reason,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return mapProposal(proposal), nil
}

func (h Handler) CloseProposalHandler(ctx context.Context, actorID string, proposalID string) (httptransport.CloseProposalResponse, error) {
	result, err := h.Proposals.CloseProposal(ctx, commands.CloseProposalCommand{
		ActorID:    actorID,
		ProposalID: proposalID,
	})
	if err != nil {
		return httptransport.CloseProposalResponse{}, err
	}
	return httptransport.CloseProposalResponse{
		Proposal:        mapProposal(result.Proposal),
		Tally:           mapTally(result.Tally),
		AlreadyResolved: result.AlreadyResolved,
	}, nil
}

func (h Handler) GetProposalHandler(ctx context.Context, proposalID string) (httptransport.ProposalResponse, error) {
	proposal, err := h.ProposalQueries.GetProposal(ctx, proposalID)
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return mapProposal(proposal), nil
}

func (h Handler) ListProposalsHandler(
	ctx context.Context,
	status string,
	proposalType string,
	creatorID string,
	limit int,
) (httptransport.ProposalListResponse, error) {
	filter := entities.ProposalFilter{
		Status:       entities.ProposalStatus(strings.TrimSpace(status)),
		ProposalType: entities.ProposalType(strings.TrimSpace(proposalType)),
		CreatorID:    strings.TrimSpace(creatorID),
		Limit:        limit,
	}
	if filter.ProposalType != "" && !filter.ProposalType.Valid() {
		return httptransport.ProposalListResponse{}, domainerrors.ErrInvalidProposalInput
	}
	proposals, err := h.ProposalQueries.ListProposals(ctx, filter)
	if err != nil {
		return httptransport.ProposalListResponse{}, err
	}
	items := make([]httptransport.ProposalResponse, 0, len(proposals))
	for _, proposal := range proposals {
		items = append(items, mapProposal(proposal))
	}
	return httptransport.ProposalListResponse{Items: items}, nil
}

func (h Handler) TallyHandler(ctx context.Context, proposalID string) (httptransport.TallyResponse, error) {
	tally, err := h.ProposalQueries.Tally(ctx, proposalID)
	if err != nil {
		return httptransport.TallyResponse{}, err
	}
	return mapTally(tally), nil
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	voterID string,
	idempotencyKey string,
	proposalID string,
	req httptransport.CastVoteRequest,
) (httptransport.VoteResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidVoteInput); err != nil {
		return httptransport.VoteResponse{}, err
	}
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		VoterID:        voterID,
		ProposalID:     proposalID,
		Choice:         entities.VoteChoice(req.Choice),
		Reason:         req.Reason,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	response := mapVote(result.Vote)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) GetVoteHandler(ctx context.Context, proposalID string, voterID string) (httptransport.VoteResponse, error) {
	vote, err := h.ProposalQueries.GetVote(ctx, proposalID, voterID)
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return mapVote(vote), nil
}

func (h Handler) ListVotesHandler(ctx context.Context, proposalID string) (httptransport.VoteListResponse, error) {
	result, err := h.ProposalQueries.ListVotes(ctx, proposalID)
	if err != nil {
		return httptransport.VoteListResponse{}, err
	}
	items := make([]httptransport.VoteResponse, 0, len(result.Votes))
	for _, vote := range result.Votes {
		items = append(items, mapVote(vote))
	}
	return httptransport.VoteListResponse{
		Items: items,
		Tally: mapTally(result.Tally),
	}, nil
}

func (h Handler) DelegateHandler(
	ctx context.Context,
	delegatorID string,
	idempotencyKey string,
	req httptransport.DelegateRequest,
) (httptransport.DelegationResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidDelegationInput); err != nil {
		return httptransport.DelegationResponse{}, err
	}
	result, err := h.Delegations.Delegate(ctx, commands.DelegateCommand{
		DelegatorID:    delegatorID,
		DelegateID:     req.DelegateID,
		ProposalType:   entities.ProposalType(req.ProposalType),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	response := mapDelegation(result.Delegation)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) RevokeDelegationHandler(
	ctx context.Context,
	actorID string,
	delegationID string,
	req httptransport.RevokeDelegationRequest,
) (httptransport.DelegationResponse, error) {
	if err := validate(req, domainerrors.ErrInvalidDelegationInput); err != nil {
		return httptransport.DelegationResponse{}, err
	}
	delegation, err := h.Delegations.Revoke(ctx, commands.RevokeDelegationCommand{
		ActorID:      actorID,
		DelegationID: delegationID,
		Reason:       req.Reason,
	})
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	return mapDelegation(delegation), nil
}

func (h Handler) GetDelegationHandler(ctx context.Context, delegationID string) (httptransport.DelegationResponse, error) {
	delegation, err := h.DelegationQueries.GetDelegation(ctx, delegationID)
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	return mapDelegation(delegation), nil
}

func (h Handler) ListDelegationsHandler(
	ctx context.Context,
	delegatorID string,
	delegateID string,
	includeInactive bool,
) (httptransport.DelegationListResponse, error) {
	delegations, err := h.DelegationQueries.ListDelegations(ctx, entities.DelegationFilter{
		DelegatorID:     delegatorID,
		DelegateID:      delegateID,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		return httptransport.DelegationListResponse{}, err
	}
	items := make([]httptransport.DelegationResponse, 0, len(delegations))
	for _, delegation := range delegations {
		items = append(items, mapDelegation(delegation))
	}
	return httptransport.DelegationListResponse{Items: items}, nil
}

func (h Handler) VotingPowerHandler(
	ctx context.Context,
	participantID string,
	proposalType string,
) (httptransport.VotingPowerResponse, error) {
	power, err := h.DelegationQueries.VotingPower(ctx, participantID, entities.ProposalType(strings.TrimSpace(proposalType)))
	if err != nil {
		return httptransport.VotingPowerResponse{}, err
	}
	delegators := power.Delegators
	if delegators == nil {
		delegators = []string{}
	}
	return httptransport.VotingPowerResponse{
		ParticipantID: power.ParticipantID,
		ProposalType:  string(power.ProposalType),
		BasePower:     power.BasePower.String(),
		DelegatedAway: power.DelegatedAway.String(),
		Received:      power.Received.String(),
		Effective:     power.Effective.String(),
		DelegatedTo:   power.DelegatedTo,
		Delegators:    delegators,
	}, nil
}

func (h Handler) ScheduleExecutionHandler(ctx context.Context, actorID string, proposalID string) (httptransport.ExecutionResponse, error) {
	execution, err := h.Executions.Schedule(ctx, commands.ScheduleExecutionCommand{
		ActorID:    actorID,
		ProposalID: proposalID,
	})
	if err != nil {
		return httptransport.ExecutionResponse{}, err
	}
	return mapExecution(execution), nil
}

func (h Handler) ExecuteHandler(ctx context.Context, executorID string, proposalID string) (httptransport.ExecutionOutcomeResponse, error) {
	result, err := h.Executions.Execute(ctx, commands.ExecuteCommand{
		ProposalID: proposalID,
		ExecutorID: executorID,
	})
	return mapOutcome(result), err
}

func (h Handler) RetryExecutionHandler(ctx context.Context, executorID string, proposalID string) (httptransport.ExecutionOutcomeResponse, error) {
	result, err := h.Executions.Retry(ctx, commands.ExecuteCommand{
		ProposalID: proposalID,
		ExecutorID: executorID,
	})
	return mapOutcome(result), err
}

func (h Handler) SignExecutionHandler(ctx context.Context, signerID string, proposalID string) (httptransport.ExecutionResponse, error) {
	execution, err := h.Executions.SignExecution(ctx, commands.SignExecutionCommand{
		ProposalID: proposalID,
		SignerID:   signerID,
	})
	if err != nil {
		return httptransport.ExecutionResponse{}, err
	}
	return mapExecution(execution), nil
}

func (h Handler) GetExecutionHandler(ctx context.Context, proposalID string) (httptransport.ExecutionResponse, error) {
	execution, err := h.ExecutionQueries.GetExecution(ctx, proposalID)
	if err != nil {
		return httptransport.ExecutionResponse{}, err
	}
	return mapExecution(execution), nil
}

func (h Handler) ListExecutionsHandler(ctx context.Context, status string, limit int) (httptransport.ExecutionListResponse, error) {
	executions, err := h.ExecutionQueries.ListExecutions(ctx, entities.ExecutionFilter{
		Status: entities.ExecutionStatus(strings.TrimSpace(status)),
		Limit:  limit,
	})
	if err != nil {
		return httptransport.ExecutionListResponse{}, err
	}
	items := make([]httptransport.ExecutionResponse, 0, len(executions))
	for _, execution := range executions {
		items = append(items, mapExecution(execution))
	}
	return httptransport.ExecutionListResponse{Items: items}, nil
}

func (h Handler) DistributionHandler(ctx context.Context, proposalType string, topN int) (httptransport.DistributionResponse, error) {
	report, err := h.Analytics.Distribution(ctx, entities.ProposalType(strings.TrimSpace(proposalType)), topN)
	if err != nil {
		return httptransport.DistributionResponse{}, err
	}
	holders := make([]httptransport.PowerShareResponse, 0, len(report.TopHolders))
	for _, holder := range report.TopHolders {
		holders = append(holders, httptransport.PowerShareResponse{
			ParticipantID: holder.ParticipantID,
			Power:         holder.Power.String(),
		})
	}
	return httptransport.DistributionResponse{
		ProposalType:     string(report.ProposalType),
		ParticipantCount: report.ParticipantCount,
		TotalPower:       report.TotalPower.String(),
		Gini:             report.Gini,
		Nakamoto:         report.Nakamoto,
		Herfindahl:       report.Herfindahl,
		TopDecileShare:   report.TopDecileShare,
		TopHolders:       holders,
		GeneratedAt:      report.GeneratedAt,
	}, nil
}

func (h Handler) ParticipationHandler(ctx context.Context, proposalID string) (httptransport.ParticipationResponse, error) {
	report, err := h.Analytics.Participation(ctx, proposalID)
	if err != nil {
		return httptransport.ParticipationResponse{}, err
	}
	return httptransport.ParticipationResponse{
		ProposalID:         report.ProposalID,
		Status:             string(report.Status),
		VoterCount:         report.VoterCount,
		ParticipatingPower: report.ParticipatingPower.String(),
		TotalEligiblePower: report.TotalEligiblePower.String(),
		Turnout:            report.Turnout,
		ForShare:           report.ForShare,
		AgainstShare:       report.AgainstShare,
		AbstainShare:       report.AbstainShare,
		GeneratedAt:        report.GeneratedAt,
	}, nil
}

func (h Handler) HealthHandler(ctx context.Context) (httptransport.HealthResponse, error) {
	report, err := h.Analytics.Health(ctx)
	if err != nil {
		return httptransport.HealthResponse{}, err
	}
	byStatus := make(map[string]int, len(report.ProposalsByStatus))
	for status, count := range report.ProposalsByStatus {
		byStatus[string(status)] = count
	}
	return httptransport.HealthResponse{
		ProposalsByStatus:    byStatus,
		ActiveDelegations:    report.ActiveDelegations,
		DelegatedPowerShare:  report.DelegatedPowerShare,
		AverageTurnout:       report.AverageTurnout,
		ExecutionSuccessRate: report.ExecutionSuccessRate,
		PendingExecutions:    report.PendingExecutions,
		GeneratedAt:          report.GeneratedAt,
	}, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", domainerrors.ErrInvalidRuleInput, raw)
	}
	return value, nil
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := parseDecimal(*raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// maxDurationSeconds is the largest whole-second count a time.Duration holds.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

func secondsToDuration(seconds int64) (time.Duration, error) {
	if seconds < 0 || seconds > maxDurationSeconds {
		return 0, fmt.Errorf("%w: duration of %d seconds is out of range", domainerrors.ErrInvalidRuleInput, seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

func secondsPtr(seconds *int64) (*time.Duration, error) {
	if seconds == nil {
		return nil, nil
	}
	value, err := secondsToDuration(*seconds)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

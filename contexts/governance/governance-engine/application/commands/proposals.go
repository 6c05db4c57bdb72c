package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"
	"agora/contexts/governance/governance-engine/ports"
)

// CreateProposalCommand drafts a proposal against the active rule for its
// type, or opens it at once when OpenImmediately is set.
type CreateProposalCommand struct {
	ActorID         string
	IdempotencyKey  string
	ProposalType    entities.ProposalType
	Title           string
	Description     string
	Payload         []byte
	OpenImmediately bool
}

type CreateProposalResult struct {
	Proposal entities.Proposal
	Replayed bool
}

// UpdateProposalCommand edits a draft. Nil fields are left unchanged.
type UpdateProposalCommand struct {
	ActorID     string
	ProposalID  string
	Title       *string
	Description *string
	Payload     []byte
}

// OpenProposalCommand moves a draft into voting.
type OpenProposalCommand struct {
	ActorID    string
	ProposalID string
}

// CancelProposalCommand withdraws a proposal before it resolves.
type CancelProposalCommand struct {
	ActorID    string
	ProposalID string
	Reason     string
}

// CloseProposalCommand tallies a proposal once its voting window has ended.
// An empty ActorID is recorded as the system actor.
type CloseProposalCommand struct {
	ActorID    string
	ProposalID string
}

// CloseProposalResult reports AlreadyResolved when the close was a no-op.
type CloseProposalResult struct {
	Proposal        entities.Proposal
	Tally           entities.Tally
	AlreadyResolved bool
}

// ProposalUseCase drives the proposal state machine. Rule thresholds are
// frozen onto the proposal at creation.
type ProposalUseCase struct {
	Store          ports.Store
	Power          *application.PowerCalculator
	Policy         ports.AuthorizationPolicy
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Metrics        ports.Metrics
	Logger         *slog.Logger
}

// CreateProposal snapshots the active rule onto the new proposal.
func (uc ProposalUseCase) CreateProposal(ctx context.Context, cmd CreateProposalCommand) (CreateProposalResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	actorID := strings.TrimSpace(cmd.ActorID)
	logger.Info("proposal create processing started",
		"event", "governance_proposal_create_started",
		"module", application.ModuleName,
		"layer", "application",
		"actor_id", actorID,
		"proposal_type", string(cmd.ProposalType),
	)
	if actorID == "" || !cmd.ProposalType.Valid() {
		return CreateProposalResult{}, fmt.Errorf("%w: creator and a known proposal type are required",
			domainerrors.ErrInvalidProposalInput)
	}
	if err := services.ValidateProposalContent(cmd.Title, cmd.Description); err != nil {
		logger.Warn("proposal create validation failed",
			"event", "governance_proposal_create_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"error", err.Error(),
		)
		return CreateProposalResult{}, err
	}

	now := resolveNow(uc.Clock)
	key := idempotencyScope("create_proposal", actorID, cmd.IdempotencyKey)
	requestHash := hashRequest(map[string]string{
		"op":               "create_proposal",
		"actor_id":         actorID,
		"proposal_type":    string(cmd.ProposalType),
		"title":            strings.TrimSpace(cmd.Title),
		"description":      cmd.Description,
		"payload":          hex.EncodeToString(cmd.Payload),
		"open_immediately": strconv.FormatBool(cmd.OpenImmediately),
	})
	reader := uc.Store.Reader()
	if proposalID, found, err := replayedResource(ctx, reader.Idempotency, key, requestHash, now); err != nil {
		return CreateProposalResult{}, err
	} else if found {
		proposal, err := reader.Proposals.GetProposal(ctx, proposalID)
		if err != nil {
			return CreateProposalResult{}, err
		}
		logger.Info("proposal create replayed",
			"event", "governance_proposal_create_replayed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposal.ProposalID,
			"actor_id", actorID,
		)
		return CreateProposalResult{Proposal: proposal, Replayed: true}, nil
	}

	if err := uc.authorizeProposer(ctx, actorID, cmd.ProposalType); err != nil {
		return CreateProposalResult{}, err
	}
	rule, found, err := reader.Rules.GetActiveRuleByType(ctx, cmd.ProposalType)
	if err != nil {
		return CreateProposalResult{}, err
	}
	if !found {
		return CreateProposalResult{}, fmt.Errorf("%w: %s", domainerrors.ErrNoActiveRule, cmd.ProposalType)
	}
	balance, err := uc.Power.TokenBalance(ctx, actorID)
	if err != nil {
		return CreateProposalResult{}, err
	}
	if err := services.EvaluateProposerStake(balance, rule.Snapshot()); err != nil {
		logger.Warn("proposal creator stake below minimum",
			"event", "governance_proposal_create_stake_insufficient",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"proposal_type", string(cmd.ProposalType),
		)
		return CreateProposalResult{}, err
	}
	proposalID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreateProposalResult{}, err
	}

	var (
		created  entities.Proposal
		replayed bool
	)
	err = uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if existingID, found, err := replayedResource(ctx, repos.Idempotency, key, requestHash, now); err != nil {
			return err
		} else if found {
			proposal, err := repos.Proposals.GetProposal(ctx, existingID)
			if err != nil {
				return err
			}
			created = proposal
			replayed = true
			return nil
		}
		current, found, err := repos.Rules.GetActiveRuleByType(ctx, cmd.ProposalType)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", domainerrors.ErrNoActiveRule, cmd.ProposalType)
		}
		snapshot := current.Snapshot()
		if err := services.EvaluateProposerStake(balance, snapshot); err != nil {
			return err
		}

		proposal := entities.Proposal{
			ProposalID:    proposalID,
			ProposalType:  cmd.ProposalType,
			Title:         strings.TrimSpace(cmd.Title),
			Description:   cmd.Description,
			Payload:       append([]byte(nil), cmd.Payload...),
			CreatorID:     actorID,
			Status:        entities.ProposalStatusDraft,
			Rule:          snapshot,
			DepositAmount: snapshot.ProposalDeposit,
			CreatedAt:     now,
			Version:       1,
			UpdatedAt:     now,
		}
		if cmd.OpenImmediately {
			proposal, err = services.OpenVoting(proposal, now)
			if err != nil {
				return err
			}
		}
		if err := repos.Proposals.CreateProposal(ctx, proposal); err != nil {
			return err
		}
		if err := appendEvent(ctx, repos.Outbox, uc.IDGen, EventProposalCreated,
			partitionByProposal, proposal.ProposalID, now, proposalEventData(proposal, actorID)); err != nil {
			return err
		}
		if proposal.Status == entities.ProposalStatusActive {
			if err := appendEvent(ctx, repos.Outbox, uc.IDGen, EventProposalOpened,
				partitionByProposal, proposal.ProposalID, now, proposalEventData(proposal, actorID)); err != nil {
				return err
			}
		}
		created = proposal
		return rememberResource(ctx, repos.Idempotency, key, requestHash, proposal.ProposalID,
			now.Add(resolveIdempotencyTTL(uc.IdempotencyTTL)))
	})
	if err != nil {
		logger.Warn("proposal create failed",
			"event", "governance_proposal_create_failed",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"proposal_type", string(cmd.ProposalType),
			"error", err.Error(),
		)
		return CreateProposalResult{}, err
	}
	logger.Info("proposal created",
		"event", "governance_proposal_created",
		"module", application.ModuleName,
		"layer", "application",
		"proposal_id", created.ProposalID,
		"proposal_type", string(created.ProposalType),
		"status", string(created.Status),
		"rule_version", created.Rule.RuleVersion,
		"replayed", replayed,
	)
	return CreateProposalResult{Proposal: created, Replayed: replayed}, nil
}

// UpdateProposal edits a draft. Only its creator may edit it.
func (uc ProposalUseCase) UpdateProposal(ctx context.Context, cmd UpdateProposalCommand) (entities.Proposal, error) {
	logger := application.ResolveLogger(uc.Logger)
	actorID := strings.TrimSpace(cmd.ActorID)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	if actorID == "" || proposalID == "" {
		return entities.Proposal{}, domainerrors.ErrInvalidProposalInput
	}
	if cmd.Title == nil && cmd.Description == nil && cmd.Payload == nil {
		return entities.Proposal{}, fmt.Errorf("%w: nothing to update", domainerrors.ErrInvalidProposalInput)
	}
	now := resolveNow(uc.Clock)

	var updated entities.Proposal
	err := uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		proposal, err := repos.Proposals.GetProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		if proposal.CreatorID != actorID {
			return domainerrors.ErrNotAuthorized
		}
		if proposal.Status != entities.ProposalStatusDraft {
			return fmt.Errorf("%w: proposal is %s", domainerrors.ErrProposalNotEditable, proposal.Status)
		}
		if cmd.Title != nil {
			proposal.Title = strings.TrimSpace(*cmd.Title)
		}
		if cmd.Description != nil {
			proposal.Description = *cmd.Description
		}
		if cmd.Payload != nil {
			proposal.Payload = append([]byte(nil), cmd.Payload...)
		}
		if err := services.ValidateProposalContent(proposal.Title, proposal.Description); err != nil {
			return err
		}
		proposal.UpdatedAt = now
		proposal.Version++
		if err := repos.Proposals.UpdateProposal(ctx, proposal); err != nil {
			return err
		}
		updated = proposal
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventProposalUpdated,
			partitionByProposal, proposal.ProposalID, now, proposalEventData(proposal, actorID))
	})
	if err != nil {
		logger.Warn("proposal update failed",
			"event", "governance_proposal_update_failed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"actor_id", actorID,
			"error", err.Error(),
		)
		return entities.Proposal{}, err
	}
	logger.Info("proposal updated",
		"event", "governance_proposal_updated",
		"module", application.ModuleName,
		"layer", "application",
		"proposal_id", updated.ProposalID,
		"version", updated.Version,
	)
	return updated, nil
}

// OpenProposal starts voting on a draft. The proposer checks run again
// because eligibility may have changed since creation.
func (uc ProposalUseCase) OpenProposal(ctx context.Context, cmd OpenProposalCommand) (entities.Proposal, error) {
	logger := application.ResolveLogger(uc.Logger)
	actorID := strings.TrimSpace(cmd.ActorID)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	if actorID == "" || proposalID == "" {
		return entities.Proposal{}, domainerrors.ErrInvalidProposalInput
	}
	current, err := uc.Store.Reader().Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return entities.Proposal{}, err
	}
	if current.CreatorID != actorID {
		return entities.Proposal{}, domainerrors.ErrNotAuthorized
	}
	if err := uc.authorizeProposer(ctx, actorID, current.ProposalType); err != nil {
		return entities.Proposal{}, err
	}
	balance, err := uc.Power.TokenBalance(ctx, actorID)
	if err != nil {
		return entities.Proposal{}, err
	}
	if err := services.EvaluateProposerStake(balance, current.Rule); err != nil {
		return entities.Proposal{}, err
	}
	now := resolveNow(uc.Clock)

	var opened entities.Proposal
	err = uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		proposal, err := repos.Proposals.GetProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		proposal, err = services.OpenVoting(proposal, now)
		if err != nil {
			return err
		}
		if err := repos.Proposals.UpdateProposal(ctx, proposal); err != nil {
			return err
		}
		opened = proposal
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventProposalOpened,
			partitionByProposal, proposal.ProposalID, now, proposalEventData(proposal, actorID))
	})
	if err != nil {
		logger.Warn("proposal open failed",
			"event", "governance_proposal_open_failed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"error", err.Error(),
		)
		return entities.Proposal{}, err
	}
	logger.Info("proposal voting opened",
		"event", "governance_proposal_opened",
		"module", application.ModuleName,
		"layer", "application",
		"proposal_id", opened.ProposalID,
		"voting_closes_at", opened.VotingClosesAt.Format(time.RFC3339),
	)
	return opened, nil
}

// CancelProposal is restricted to the creator and to draft or active
// proposals.
func (uc ProposalUseCase) CancelProposal(ctx context.Context, cmd CancelProposalCommand) (entities.Proposal, error) {
	logger := application.ResolveLogger(uc.Logger)
	actorID := strings.TrimSpace(cmd.ActorID)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	if actorID == "" || proposalID == "" {
		return entities.Proposal{}, domainerrors.ErrInvalidProposalInput
	}
	now := resolveNow(uc.Clock)

	var cancelled entities.Proposal
	err := uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		proposal, err := repos.Proposals.GetProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		if proposal.CreatorID != actorID {
			return domainerrors.ErrNotAuthorized
		}
		if err := services.EnsureTransition(proposal.Status, entities.ProposalStatusCancelled); err != nil {
			return err
		}
		cancelledAt := now
		proposal.Status = entities.ProposalStatusCancelled
		proposal.CancelledAt = &cancelledAt
		proposal.UpdatedAt = now
		proposal.Version++
		if err := repos.Proposals.UpdateProposal(ctx, proposal); err != nil {
			return err
		}
		cancelled = proposal
		data := proposalEventData(proposal, actorID)
		data["reason"] = strings.TrimSpace(cmd.Reason)
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventProposalCancelled,
			partitionByProposal, proposal.ProposalID, now, data)
	})
	if err != nil {
		logger.Warn("proposal cancel failed",
			"event", "governance_proposal_cancel_failed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"actor_id", actorID,
			"error", err.Error(),
		)
		return entities.Proposal{}, err
	}
	logger.Info("proposal cancelled",
		"event", "governance_proposal_cancelled",
		"module", application.ModuleName,
		"layer", "application",
		"proposal_id", cancelled.ProposalID,
		"actor_id", actorID,
	)
	return cancelled, nil
}

// CloseProposal resolves an active proposal whose window has elapsed. It is
// idempotent: closing a resolved proposal returns the stored outcome and
// writes nothing, so the sweep worker and explicit requests can race.
func (uc ProposalUseCase) CloseProposal(ctx context.Context, cmd CloseProposalCommand) (CloseProposalResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		actorID = SystemActorID
	}
	if proposalID == "" {
		return CloseProposalResult{}, domainerrors.ErrInvalidProposalInput
	}
	now := resolveNow(uc.Clock)
	reader := uc.Store.Reader()
	current, err := reader.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return CloseProposalResult{}, err
	}
	if current.Status.Resolved() {
		return resolvedResult(current), nil
	}
	if current.Status == entities.ProposalStatusActive && !current.WindowElapsed(now) {
		return CloseProposalResult{}, fmt.Errorf("%w: closes at %s",
			domainerrors.ErrVotingWindowOpen, current.VotingClosesAt.UTC().Format(time.RFC3339))
	}
	if current.Status != entities.ProposalStatusActive {
		return CloseProposalResult{}, &domainerrors.TransitionError{
			From: string(current.Status),
			To:   string(entities.ProposalStatusApproved),
		}
	}

	tallyStarted := time.Now()
	totalEligible, err := uc.Power.TotalEligiblePower(ctx, reader, current.ProposalType, current.Rule.AllowDelegation)
	if err != nil {
		return CloseProposalResult{}, err
	}

	var result CloseProposalResult
	err = uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		proposal, err := repos.Proposals.GetProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		if proposal.Status.Resolved() {
			result = resolvedResult(proposal)
			return nil
		}
		votes, err := repos.Votes.ListVotes(ctx, proposalID)
		if err != nil {
			return err
		}
		tally := services.EvaluateThresholds(services.SumVotes(proposalID, votes), totalEligible, proposal.Rule, now)
		resolved, err := services.ResolveProposal(proposal, tally, now)
		if err != nil {
			return err
		}
		if err := repos.Proposals.UpdateProposal(ctx, resolved); err != nil {
			return err
		}
		eventType := EventProposalRejected
		if resolved.Status == entities.ProposalStatusApproved {
			eventType = EventProposalApproved
		}
		data := proposalEventData(resolved, actorID)
		data["for_power"] = tally.ForPower.String()
		data["against_power"] = tally.AgainstPower.String()
		data["abstain_power"] = tally.AbstainPower.String()
		data["total_eligible_power"] = tally.TotalEligiblePower.String()
		data["quorum_reached"] = tally.QuorumReached
		data["approval_reached"] = tally.ApprovalReached
		result = CloseProposalResult{Proposal: resolved, Tally: tally}
		return appendEvent(ctx, repos.Outbox, uc.IDGen, eventType, partitionByProposal, resolved.ProposalID, now, data)
	})
	if err != nil {
		logger.Warn("proposal close failed",
			"event", "governance_proposal_close_failed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"error", err.Error(),
		)
		return CloseProposalResult{}, err
	}
	if result.AlreadyResolved {
		return result, nil
	}
	metrics := application.ResolveMetrics(uc.Metrics)
	metrics.ObserveTally(time.Since(tallyStarted))
	metrics.ProposalResolved(result.Proposal.Status)
	logger.Info("proposal resolved",
		"event", "governance_proposal_resolved",
		"module", application.ModuleName,
		"layer", "application",
		"proposal_id", result.Proposal.ProposalID,
		"status", string(result.Proposal.Status),
		"participating_power", result.Tally.ParticipatingPower.String(),
		"total_eligible_power", result.Tally.TotalEligiblePower.String(),
		"actor_id", actorID,
	)
	return result, nil
}

func (uc ProposalUseCase) authorizeProposer(
	ctx context.Context,
	actorID string,
	proposalType entities.ProposalType,
) error {
	if uc.Policy == nil {
		return nil
	}
	allowed, err := uc.Policy.CanPropose(ctx, actorID, proposalType)
	if err != nil {
		return policyError(err)
	}
	if !allowed {
		application.ResolveLogger(uc.Logger).Warn("proposer not authorized",
			"event", "governance_proposal_proposer_denied",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"proposal_type", string(proposalType),
		)
		return domainerrors.ErrNotAuthorized
	}
	return nil
}

func resolvedResult(proposal entities.Proposal) CloseProposalResult {
	result := CloseProposalResult{Proposal: proposal, AlreadyResolved: true}
	if proposal.FinalTally != nil {
		result.Tally = *proposal.FinalTally
	}
	return result
}

// policyError surfaces authorization collaborator failures as retryable.
func policyError(err error) error {
	if domainerrors.KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%w: authorization policy: %v", domainerrors.ErrDependencyUnavailable, err)
}

func proposalEventData(proposal entities.Proposal, actorID string) map[string]any {
	data := map[string]any{
		"proposal_id":   proposal.ProposalID,
		"proposal_type": string(proposal.ProposalType),
		"creator_id":    proposal.CreatorID,
		"status":        string(proposal.Status),
		"rule_id":       proposal.Rule.RuleID,
		"rule_version":  proposal.Rule.RuleVersion,
		"version":       proposal.Version,
		"actor_id":      actorID,
	}
	if proposal.VotingClosesAt != nil {
		data["voting_closes_at"] = proposal.VotingClosesAt.UTC().Format(time.RFC3339)
	}
	return data
}

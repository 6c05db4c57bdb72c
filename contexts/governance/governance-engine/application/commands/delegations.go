package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"
	"agora/contexts/governance/governance-engine/ports"
)

// DelegateCommand delegates voting power. An empty ProposalType delegates
// for every type.
type DelegateCommand struct {
	DelegatorID    string
	DelegateID     string
	ProposalType   entities.ProposalType
	IdempotencyKey string
}

type DelegateResult struct {
	Delegation entities.VotingDelegation
	Replayed   bool
}

// RevokeDelegationCommand ends a delegation on behalf of its delegator.
type RevokeDelegationCommand struct {
	ActorID      string
	DelegationID string
	Reason       string
}

// DelegationUseCase maintains single-hop delegation edges. Writes for one
// delegator are serialised so overlapping scopes can never both be active.
type DelegationUseCase struct {
	Store          ports.Store
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Metrics        ports.Metrics
	Logger         *slog.Logger
}

// Delegate creates an active delegation edge. Self-delegation and a scope
// overlapping an active delegation are rejected.
func (uc DelegationUseCase) Delegate(ctx context.Context, cmd DelegateCommand) (DelegateResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	delegatorID := strings.TrimSpace(cmd.DelegatorID)
	delegateID := strings.TrimSpace(cmd.DelegateID)
	scope := entities.TypeScope(cmd.ProposalType)
	logger.Info("delegation create processing started",
		"event", "governance_delegation_create_started",
		"module", application.ModuleName,
		"layer", "application",
		"delegator_id", delegatorID,
		"delegate_id", delegateID,
		"scope", scope.String(),
	)
	if err := services.EvaluateDelegation(delegatorID, delegateID, scope, nil); err != nil {
		logger.Warn("delegation create validation failed",
			"event", "governance_delegation_create_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"delegator_id", delegatorID,
			"delegate_id", delegateID,
			"error", err.Error(),
		)
		return DelegateResult{}, err
	}

	now := resolveNow(uc.Clock)
	key := idempotencyScope("delegate", delegatorID, cmd.IdempotencyKey)
	requestHash := hashRequest(map[string]string{
		"op":           "delegate",
		"delegator_id": delegatorID,
		"delegate_id":  delegateID,
		"scope":        scope.String(),
	})
	delegationID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return DelegateResult{}, err
	}

	var (
		created  entities.VotingDelegation
		replayed bool
	)
	err = uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if existingID, found, err := replayedResource(ctx, repos.Idempotency, key, requestHash, now); err != nil {
			return err
		} else if found {
			delegation, err := repos.Delegations.GetDelegation(ctx, existingID)
			if err != nil {
				return err
			}
			created = delegation
			replayed = true
			return nil
		}
		if err := repos.Delegations.LockDelegator(ctx, delegatorID); err != nil {
			return err
		}
		existing, err := repos.Delegations.ListDelegations(ctx, entities.DelegationFilter{DelegatorID: delegatorID})
		if err != nil {
			return err
		}
		if err := services.EvaluateDelegation(delegatorID, delegateID, scope, existing); err != nil {
			return err
		}
		delegation := entities.VotingDelegation{
			DelegationID: delegationID,
			DelegatorID:  delegatorID,
			DelegateID:   delegateID,
			Scope:        scope,
			IsActive:     true,
			CreatedAt:    now,
		}
		if err := repos.Delegations.InsertDelegation(ctx, delegation); err != nil {
			return err
		}
		created = delegation
		if err := appendEvent(ctx, repos.Outbox, uc.IDGen, EventDelegationCreated,
			partitionByDelegator, delegatorID, now, delegationEventData(delegation)); err != nil {
			return err
		}
		return rememberResource(ctx, repos.Idempotency, key, requestHash, delegation.DelegationID,
			now.Add(resolveIdempotencyTTL(uc.IdempotencyTTL)))
	})
	if err != nil {
		logger.Warn("delegation create failed",
			"event", "governance_delegation_create_failed",
			"module", application.ModuleName,
			"layer", "application",
			"delegator_id", delegatorID,
			"delegate_id", delegateID,
			"scope", scope.String(),
			"error", err.Error(),
		)
		return DelegateResult{}, err
	}
	if !replayed {
		application.ResolveMetrics(uc.Metrics).DelegationChanged("created")
	}
	logger.Info("delegation created",
		"event", "governance_delegation_created",
		"module", application.ModuleName,
		"layer", "application",
		"delegation_id", created.DelegationID,
		"delegator_id", created.DelegatorID,
		"delegate_id", created.DelegateID,
		"scope", created.Scope.String(),
		"replayed", replayed,
	)
	return DelegateResult{Delegation: created, Replayed: replayed}, nil
}

// Revoke deactivates a delegation. Only the delegator may revoke it.
func (uc DelegationUseCase) Revoke(ctx context.Context, cmd RevokeDelegationCommand) (entities.VotingDelegation, error) {
	logger := application.ResolveLogger(uc.Logger)
	actorID := strings.TrimSpace(cmd.ActorID)
	delegationID := strings.TrimSpace(cmd.DelegationID)
	if actorID == "" || delegationID == "" {
		return entities.VotingDelegation{}, domainerrors.ErrInvalidDelegationInput
	}
	now := resolveNow(uc.Clock)

	var revoked entities.VotingDelegation
	err := uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		current, err := repos.Delegations.GetDelegation(ctx, delegationID)
		if err != nil {
			return err
		}
		if err := repos.Delegations.LockDelegator(ctx, current.DelegatorID); err != nil {
			return err
		}
		delegation, err := repos.Delegations.GetDelegationForUpdate(ctx, delegationID)
		if err != nil {
			return err
		}
		if delegation.DelegatorID != actorID {
			return domainerrors.ErrNotAuthorized
		}
		if !delegation.IsActive {
			return fmt.Errorf("%w: revoked at %s", domainerrors.ErrDelegationNotActive,
				formatOptionalTime(delegation.RevokedAt))
		}
		revokedAt := now
		delegation.IsActive = false
		delegation.RevokedAt = &revokedAt
		delegation.RevokeReason = strings.TrimSpace(cmd.Reason)
		if err := repos.Delegations.UpdateDelegation(ctx, delegation); err != nil {
			return err
		}
		revoked = delegation
		data := delegationEventData(delegation)
		data["reason"] = delegation.RevokeReason
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventDelegationRevoked,
			partitionByDelegator, delegation.DelegatorID, now, data)
	})
	if err != nil {
		logger.Warn("delegation revoke failed",
			"event", "governance_delegation_revoke_failed",
			"module", application.ModuleName,
			"layer", "application",
			"delegation_id", delegationID,
			"actor_id", actorID,
			"error", err.Error(),
		)
		return entities.VotingDelegation{}, err
	}
	application.ResolveMetrics(uc.Metrics).DelegationChanged("revoked")
	logger.Info("delegation revoked",
		"event", "governance_delegation_revoked",
		"module", application.ModuleName,
		"layer", "application",
		"delegation_id", revoked.DelegationID,
		"delegator_id", revoked.DelegatorID,
	)
	return revoked, nil
}

func delegationEventData(delegation entities.VotingDelegation) map[string]any {
	return map[string]any{
		"delegation_id": delegation.DelegationID,
		"delegator_id":  delegation.DelegatorID,
		"delegate_id":   delegation.DelegateID,
		"scope":         delegation.Scope.String(),
		"is_active":     delegation.IsActive,
	}
}

func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return "unknown"
	}
	return value.UTC().Format(time.RFC3339)
}

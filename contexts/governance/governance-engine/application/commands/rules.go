package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"
	"agora/contexts/governance/governance-engine/ports"
)

type CreateRuleCommand struct {
	ActorID string
	Params  entities.RuleParams
}

// UpdateRuleCommand applies Patch to the rule as a new version.
type UpdateRuleCommand struct {
	ActorID string
	RuleID  string
	Patch   entities.RulePatch
}

type DeactivateRuleCommand struct {
	ActorID string
	RuleID  string
}

// RuleUseCase manages the governance rule registry. At most one rule per
// proposal type is active; edits bump the rule version and never touch
// proposals that already snapshotted the rule.
type RuleUseCase struct {
	Store  ports.Store
	Policy ports.AuthorizationPolicy
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

// CreateRule registers the first active rule for a proposal type. The actor
// must pass CanManageRules.
func (uc RuleUseCase) CreateRule(ctx context.Context, cmd CreateRuleCommand) (entities.GovernanceRule, error) {
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return entities.GovernanceRule{}, domainerrors.ErrInvalidRuleInput
	}
	if err := uc.authorize(ctx, actorID); err != nil {
		return entities.GovernanceRule{}, err
	}
	return uc.createRule(ctx, actorID, cmd.Params)
}

func (uc RuleUseCase) createRule(ctx context.Context, actorID string, params entities.RuleParams) (entities.GovernanceRule, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("rule create processing started",
		"event", "governance_rule_create_started",
		"module", application.ModuleName,
		"layer", "application",
		"actor_id", actorID,
		"proposal_type", string(params.ProposalType),
	)
	rule, err := services.NewRuleFromParams(params)
	if err != nil {
		logger.Warn("rule create validation failed",
			"event", "governance_rule_create_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"proposal_type", string(params.ProposalType),
			"error", err.Error(),
		)
		return entities.GovernanceRule{}, err
	}
	ruleID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.GovernanceRule{}, err
	}
	now := resolveNow(uc.Clock)
	rule.RuleID = ruleID
	rule.CreatedBy = actorID
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err = uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if err := repos.Rules.LockRuleType(ctx, rule.ProposalType); err != nil {
			return err
		}
		if _, found, err := repos.Rules.GetActiveRuleByType(ctx, rule.ProposalType); err != nil {
			return err
		} else if found {
			return domainerrors.ErrActiveRuleExists
		}
		if err := repos.Rules.CreateRule(ctx, rule); err != nil {
			return err
		}
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventRuleCreated,
			partitionByProposalType, string(rule.ProposalType), now, ruleEventData(rule, actorID))
	})
	if err != nil {
		logger.Warn("rule create failed",
			"event", "governance_rule_create_failed",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"proposal_type", string(rule.ProposalType),
			"error", err.Error(),
		)
		return entities.GovernanceRule{}, err
	}
	logger.Info("rule created",
		"event", "governance_rule_created",
		"module", application.ModuleName,
		"layer", "application",
		"rule_id", rule.RuleID,
		"proposal_type", string(rule.ProposalType),
		"actor_id", actorID,
	)
	return rule, nil
}

// UpdateRule bumps the version of an active rule.
func (uc RuleUseCase) UpdateRule(ctx context.Context, cmd UpdateRuleCommand) (entities.GovernanceRule, error) {
	logger := application.ResolveLogger(uc.Logger)
	actorID := strings.TrimSpace(cmd.ActorID)
	ruleID := strings.TrimSpace(cmd.RuleID)
	if actorID == "" || ruleID == "" {
		return entities.GovernanceRule{}, domainerrors.ErrInvalidRuleInput
	}
	if err := uc.authorize(ctx, actorID); err != nil {
		return entities.GovernanceRule{}, err
	}
	now := resolveNow(uc.Clock)

	var updated entities.GovernanceRule
	err := uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		current, err := repos.Rules.GetRuleForUpdate(ctx, ruleID)
		if err != nil {
			return err
		}
		next, err := services.ApplyRulePatch(current, cmd.Patch)
		if err != nil {
			return err
		}
		next.UpdatedAt = now
		if err := repos.Rules.UpdateRule(ctx, next); err != nil {
			return err
		}
		updated = next
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventRuleUpdated,
			partitionByProposalType, string(next.ProposalType), now, ruleEventData(next, actorID))
	})
	if err != nil {
		logger.Warn("rule update failed",
			"event", "governance_rule_update_failed",
			"module", application.ModuleName,
			"layer", "application",
			"rule_id", ruleID,
			"actor_id", actorID,
			"error", err.Error(),
		)
		return entities.GovernanceRule{}, err
	}
	logger.Info("rule updated",
		"event", "governance_rule_updated",
		"module", application.ModuleName,
		"layer", "application",
		"rule_id", updated.RuleID,
		"version", updated.Version,
		"actor_id", actorID,
	)
	return updated, nil
}

// DeactivateRule soft-deactivates a rule. Deactivating an inactive rule
// returns it unchanged.
func (uc RuleUseCase) DeactivateRule(ctx context.Context, cmd DeactivateRuleCommand) (entities.GovernanceRule, error) {
	logger := application.ResolveLogger(uc.Logger)
	actorID := strings.TrimSpace(cmd.ActorID)
	ruleID := strings.TrimSpace(cmd.RuleID)
	if actorID == "" || ruleID == "" {
		return entities.GovernanceRule{}, domainerrors.ErrInvalidRuleInput
	}
	if err := uc.authorize(ctx, actorID); err != nil {
		return entities.GovernanceRule{}, err
	}
	now := resolveNow(uc.Clock)

	var result entities.GovernanceRule
	err := uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		rule, err := repos.Rules.GetRuleForUpdate(ctx, ruleID)
		if err != nil {
			return err
		}
		if !rule.IsActive {
			result = rule
			return nil
		}
		deactivatedAt := now
		rule.IsActive = false
		rule.DeactivatedAt = &deactivatedAt
		rule.UpdatedAt = now
		if err := repos.Rules.UpdateRule(ctx, rule); err != nil {
			return err
		}
		result = rule
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventRuleDeactivated,
			partitionByProposalType, string(rule.ProposalType), now, ruleEventData(rule, actorID))
	})
	if err != nil {
		return entities.GovernanceRule{}, err
	}
	logger.Info("rule deactivated",
		"event", "governance_rule_deactivated",
		"module", application.ModuleName,
		"layer", "application",
		"rule_id", result.RuleID,
		"actor_id", actorID,
	)
	return result, nil
}

// SeedRules creates the given rules as the system actor. Proposal types that
// already have an active rule are skipped, so seeding on every start is safe.
func (uc RuleUseCase) SeedRules(ctx context.Context, params []entities.RuleParams) (int, error) {
	created := 0
	for _, p := range params {
		_, err := uc.createRule(ctx, SystemActorID, p)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domainerrors.ErrActiveRuleExists):
		default:
			return created, err
		}
	}
	application.ResolveLogger(uc.Logger).Info("rule seed applied",
		"event", "governance_rule_seed_applied",
		"module", application.ModuleName,
		"layer", "application",
		"declared", len(params),
		"created", created,
	)
	return created, nil
}

func (uc RuleUseCase) authorize(ctx context.Context, actorID string) error {
	if uc.Policy == nil {
		return nil
	}
	allowed, err := uc.Policy.CanManageRules(ctx, actorID)
	if err != nil {
		return policyError(err)
	}
	if !allowed {
		application.ResolveLogger(uc.Logger).Warn("rule management denied",
			"event", "governance_rule_management_denied",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
		)
		return domainerrors.ErrNotAuthorized
	}
	return nil
}

func ruleEventData(rule entities.GovernanceRule, actorID string) map[string]any {
	return map[string]any{
		"rule_id":                    rule.RuleID,
		"proposal_type":              string(rule.ProposalType),
		"version":                    rule.Version,
		"minimum_quorum_percent":     rule.MinimumQuorumPercent.String(),
		"approval_threshold_percent": rule.ApprovalThresholdPercent.String(),
		"voting_period_seconds":      int64(rule.VotingPeriod / time.Second),
		"execution_delay_seconds":    int64(rule.ExecutionDelay / time.Second),
		"requires_multi_sig":         rule.RequiresMultiSig,
		"required_signatures":        rule.RequiredSignatures,
		"is_active":                  rule.IsActive,
		"actor_id":                   actorID,
	}
}

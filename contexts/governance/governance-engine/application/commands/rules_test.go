package commands_test

import (
	"context"
	"errors"
	"testing"

	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
)

func TestCreateRuleRejectsSecondActiveRule(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, ruleParams(entities.ProposalTypeParameterChange))
	if rule.Version != 1 || !rule.IsActive {
		t.Fatalf("expected active version 1 rule, got v%d active=%t", rule.Version, rule.IsActive)
	}

	_, err := h.rules.CreateRule(context.Background(), commands.CreateRuleCommand{
		ActorID: "rule-admin",
		Params:  ruleParams(entities.ProposalTypeParameterChange),
	})
	if !errors.Is(err, domainerrors.ErrActiveRuleExists) {
		t.Fatalf("expected active rule conflict, got %v", err)
	}
	if countEvents(h.store, commands.EventRuleCreated) != 1 {
		t.Fatalf("expected one rule created event")
	}
}

func TestCreateRuleValidatesParameters(t *testing.T) {
	h := newHarness(t)
	params := ruleParams(entities.ProposalTypeGeneral)
	params.ApprovalThresholdPercent = dec("101")

	_, err := h.rules.CreateRule(context.Background(), commands.CreateRuleCommand{ActorID: "rule-admin", Params: params})
	if !errors.Is(err, domainerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRuleManagementRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	h.policy.AllowRuleAdmin("rule-admin")
	rule := h.createRule(t, ruleParams(entities.ProposalTypeGeneral))

	_, err := h.rules.DeactivateRule(context.Background(), commands.DeactivateRuleCommand{
		ActorID: "mallory",
		RuleID:  rule.RuleID,
	})
	if !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
}

func TestSystemActorNeedsRuleAdminGrant(t *testing.T) {
	h := newHarness(t)
	h.policy.AllowRuleAdmin("rule-admin")
	rule := h.createRule(t, ruleParams(entities.ProposalTypeGeneral))

	_, err := h.rules.CreateRule(context.Background(), commands.CreateRuleCommand{
		ActorID: commands.SystemActorID,
		Params:  ruleParams(entities.ProposalTypeTreasurySpend),
	})
	if !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if _, found, _ := h.store.Reader().Rules.GetActiveRuleByType(context.Background(), entities.ProposalTypeTreasurySpend); found {
		t.Fatalf("expected no rule created for the system actor")
	}

	_, err = h.rules.DeactivateRule(context.Background(), commands.DeactivateRuleCommand{
		ActorID: commands.SystemActorID,
		RuleID:  rule.RuleID,
	})
	if !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected not authorized on deactivate, got %v", err)
	}
	if countEvents(h.store, commands.EventRuleCreated) != 1 {
		t.Fatalf("expected only the admin's rule created event")
	}
}

func TestDeactivateRuleBlocksNewProposals(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, ruleParams(entities.ProposalTypeGeneral))

	deactivated, err := h.rules.DeactivateRule(context.Background(), commands.DeactivateRuleCommand{
		ActorID: "rule-admin",
		RuleID:  rule.RuleID,
	})
	if err != nil {
		t.Fatalf("deactivate rule failed: %v", err)
	}
	if deactivated.IsActive || deactivated.DeactivatedAt == nil {
		t.Fatalf("expected inactive rule")
	}
	again, err := h.rules.DeactivateRule(context.Background(), commands.DeactivateRuleCommand{
		ActorID: "rule-admin",
		RuleID:  rule.RuleID,
	})
	if err != nil {
		t.Fatalf("repeated deactivate failed: %v", err)
	}
	if !again.DeactivatedAt.Equal(*deactivated.DeactivatedAt) {
		t.Fatalf("expected repeated deactivate to leave the rule unchanged")
	}
	if countEvents(h.store, commands.EventRuleDeactivated) != 1 {
		t.Fatalf("expected one deactivated event")
	}

	_, err = h.proposals.CreateProposal(context.Background(), commands.CreateProposalCommand{
		ActorID:      "alice",
		ProposalType: entities.ProposalTypeGeneral,
		Title:        "After deactivation",
	})
	if !errors.Is(err, domainerrors.ErrNoActiveRule) {
		t.Fatalf("expected no active rule, got %v", err)
	}

	quorum := dec("30")
	_, err = h.rules.UpdateRule(context.Background(), commands.UpdateRuleCommand{
		ActorID: "rule-admin",
		RuleID:  rule.RuleID,
		Patch:   entities.RulePatch{MinimumQuorumPercent: &quorum},
	})
	if !errors.Is(err, domainerrors.ErrRuleInactive) {
		t.Fatalf("expected inactive rule to reject edits, got %v", err)
	}

	replacement := h.createRule(t, ruleParams(entities.ProposalTypeGeneral))
	if replacement.RuleID == rule.RuleID {
		t.Fatalf("expected a new rule id")
	}
}

func TestSeedRulesSkipsTypesWithActiveRule(t *testing.T) {
	h := newHarness(t)
	h.policy.AllowRuleAdmin("rule-admin")
	h.createRule(t, ruleParams(entities.ProposalTypeGeneral))

	created, err := h.rules.SeedRules(context.Background(), []entities.RuleParams{
		ruleParams(entities.ProposalTypeGeneral),
		ruleParams(entities.ProposalTypeParameterChange),
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected one seeded rule, got %d", created)
	}
	rule, found, err := h.store.Reader().Rules.GetActiveRuleByType(context.Background(), entities.ProposalTypeParameterChange)
	if err != nil || !found {
		t.Fatalf("expected seeded parameter change rule, found=%t err=%v", found, err)
	}
	if rule.CreatedBy != "system" {
		t.Fatalf("expected system creator, got %s", rule.CreatedBy)
	}

	again, err := h.rules.SeedRules(context.Background(), []entities.RuleParams{ruleParams(entities.ProposalTypeParameterChange)})
	if err != nil || again != 0 {
		t.Fatalf("expected reseed to be a no-op, got %d %v", again, err)
	}
}

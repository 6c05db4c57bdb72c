package services

import (
	"fmt"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"github.com/shopspring/decimal"
)

var (
	hundred                     = decimal.NewFromInt(100)
	constitutionalSupermajority = decimal.RequireFromString("66.67")
	emergencyMaxVotingPeriod    = 72 * time.Hour
)

// typePolicies holds the extra checks each proposal type applies on top of
// the shared range validation.
var typePolicies = map[entities.ProposalType]func(entities.GovernanceRule) error{
	entities.ProposalTypeConstitutional: func(rule entities.GovernanceRule) error {
		if rule.ApprovalThresholdPercent.LessThan(constitutionalSupermajority) {
			return fmt.Errorf("%w: constitutional rules require an approval threshold of at least %s",
				domainerrors.ErrInvalidRuleInput, constitutionalSupermajority.String())
		}
		return nil
	},
	entities.ProposalTypeEmergency: func(rule entities.GovernanceRule) error {
		if rule.VotingPeriod > emergencyMaxVotingPeriod {
			return fmt.Errorf("%w: emergency rules allow a voting period of at most %s",
				domainerrors.ErrInvalidRuleInput, emergencyMaxVotingPeriod)
		}
		return nil
	},
	entities.ProposalTypeProtocolUpgrade: func(rule entities.GovernanceRule) error {
		if !rule.RequiresMultiSig {
			return fmt.Errorf("%w: protocol upgrades require multi-signature execution",
				domainerrors.ErrInvalidRuleInput)
		}
		return nil
	},
	entities.ProposalTypeTreasurySpend: func(rule entities.GovernanceRule) error {
		if !rule.ProposalDeposit.IsPositive() {
			return fmt.Errorf("%w: treasury spend rules require a positive proposal deposit",
				domainerrors.ErrInvalidRuleInput)
		}
		return nil
	},
}

// ValidateRule checks value ranges and the per-type policy of a complete rule.
func ValidateRule(rule entities.GovernanceRule) error {
	if !rule.ProposalType.Valid() {
		return fmt.Errorf("%w: unknown proposal type %q", domainerrors.ErrInvalidRuleInput, rule.ProposalType)
	}
	if !percentInRange(rule.MinimumQuorumPercent) {
		return fmt.Errorf("%w: minimum quorum percent must be within [0,100]", domainerrors.ErrInvalidRuleInput)
	}
	if !percentInRange(rule.ApprovalThresholdPercent) {
		return fmt.Errorf("%w: approval threshold percent must be within [0,100]", domainerrors.ErrInvalidRuleInput)
	}
	if rule.VotingPeriod <= 0 {
		return fmt.Errorf("%w: voting period must be positive", domainerrors.ErrInvalidRuleInput)
	}
	if rule.ExecutionDelay < 0 {
		return fmt.Errorf("%w: execution delay must not be negative", domainerrors.ErrInvalidRuleInput)
	}
	if rule.RequiresMultiSig && rule.RequiredSignatures < 1 {
		return fmt.Errorf("%w: multi-signature rules need at least one required signature", domainerrors.ErrInvalidRuleInput)
	}
	if !rule.RequiresMultiSig && rule.RequiredSignatures != 0 {
		return fmt.Errorf("%w: required signatures set without multi-signature", domainerrors.ErrInvalidRuleInput)
	}
	if rule.MinimumTokensToPropose.IsNegative() {
		return fmt.Errorf("%w: minimum tokens to propose must not be negative", domainerrors.ErrInvalidRuleInput)
	}
	if rule.ProposalDeposit.IsNegative() {
		return fmt.Errorf("%w: proposal deposit must not be negative", domainerrors.ErrInvalidRuleInput)
	}
	if policy, ok := typePolicies[rule.ProposalType]; ok {
		return policy(rule)
	}
	return nil
}

// NewRuleFromParams builds an unsaved rule and validates it.
func NewRuleFromParams(params entities.RuleParams) (entities.GovernanceRule, error) {
	rule := entities.GovernanceRule{
		ProposalType:             params.ProposalType,
		Version:                  1,
		MinimumQuorumPercent:     params.MinimumQuorumPercent,
		ApprovalThresholdPercent: params.ApprovalThresholdPercent,
		VotingPeriod:             params.VotingPeriod,
		ExecutionDelay:           params.ExecutionDelay,
		RequiresMultiSig:         params.RequiresMultiSig,
		RequiredSignatures:       params.RequiredSignatures,
		AllowDelegation:          params.AllowDelegation,
		AllowZeroPowerVotes:      params.AllowZeroPowerVotes,
		MinimumTokensToPropose:   params.MinimumTokensToPropose,
		ProposalDeposit:          params.ProposalDeposit,
		IsActive:                 true,
	}
	if err := ValidateRule(rule); err != nil {
		return entities.GovernanceRule{}, err
	}
	return rule, nil
}

// ApplyRulePatch returns rule with patch applied and the version bumped. The
// merged rule is validated as a whole so supplied fields are checked against
// the ones that stay unchanged.
func ApplyRulePatch(rule entities.GovernanceRule, patch entities.RulePatch) (entities.GovernanceRule, error) {
	if patch.Empty() {
		return entities.GovernanceRule{}, fmt.Errorf("%w: no fields to update", domainerrors.ErrInvalidRuleInput)
	}
	if !rule.IsActive {
		return entities.GovernanceRule{}, domainerrors.ErrRuleInactive
	}
	updated := rule
	patch.Apply(&updated)
	if patch.RequiresMultiSig != nil && !*patch.RequiresMultiSig && patch.RequiredSignatures == nil {
		updated.RequiredSignatures = 0
	}
	if err := ValidateRule(updated); err != nil {
		return entities.GovernanceRule{}, err
	}
	updated.Version = rule.Version + 1
	return updated, nil
}

func percentInRange(value decimal.Decimal) bool {
	return !value.IsNegative() && value.LessThanOrEqual(hundred)
}

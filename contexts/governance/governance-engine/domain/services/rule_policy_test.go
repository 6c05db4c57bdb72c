package services

import (
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseParams(proposalType entities.ProposalType) entities.RuleParams {
	return entities.RuleParams{
		ProposalType:             proposalType,
		MinimumQuorumPercent:     dec("20"),
		ApprovalThresholdPercent: dec("51"),
		VotingPeriod:             72 * time.Hour,
		ExecutionDelay:           24 * time.Hour,
		AllowDelegation:          true,
		MinimumTokensToPropose:   dec("0"),
		ProposalDeposit:          dec("0"),
	}
}

func TestNewRuleFromParamsValidatesRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entities.RuleParams)
	}{
		{name: "unknown type", mutate: func(p *entities.RuleParams) { p.ProposalType = "bogus" }},
		{name: "quorum above 100", mutate: func(p *entities.RuleParams) { p.MinimumQuorumPercent = dec("100.01") }},
		{name: "negative quorum", mutate: func(p *entities.RuleParams) { p.MinimumQuorumPercent = dec("-1") }},
		{name: "threshold above 100", mutate: func(p *entities.RuleParams) { p.ApprovalThresholdPercent = dec("101") }},
		{name: "zero voting period", mutate: func(p *entities.RuleParams) { p.VotingPeriod = 0 }},
		{name: "negative execution delay", mutate: func(p *entities.RuleParams) { p.ExecutionDelay = -time.Second }},
		{name: "multisig without signatures", mutate: func(p *entities.RuleParams) { p.RequiresMultiSig = true }},
		{name: "signatures without multisig", mutate: func(p *entities.RuleParams) { p.RequiredSignatures = 2 }},
		{name: "negative deposit", mutate: func(p *entities.RuleParams) { p.ProposalDeposit = dec("-5") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := baseParams(entities.ProposalTypeGeneral)
			tt.mutate(&params)
			_, err := NewRuleFromParams(params)
			require.ErrorIs(t, err, domainerrors.ErrInvalidRuleInput)
			require.ErrorIs(t, err, domainerrors.ErrValidation)
		})
	}

	rule, err := NewRuleFromParams(baseParams(entities.ProposalTypeGeneral))
	require.NoError(t, err)
	assert.True(t, rule.IsActive)
	assert.Equal(t, 1, rule.Version)
}

func TestPerTypePolicy(t *testing.T) {
	constitutional := baseParams(entities.ProposalTypeConstitutional)
	_, err := NewRuleFromParams(constitutional)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRuleInput)
	constitutional.ApprovalThresholdPercent = dec("66.67")
	_, err = NewRuleFromParams(constitutional)
	require.NoError(t, err)

	emergency := baseParams(entities.ProposalTypeEmergency)
	emergency.VotingPeriod = 73 * time.Hour
	_, err = NewRuleFromParams(emergency)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRuleInput)
	emergency.VotingPeriod = 72 * time.Hour
	_, err = NewRuleFromParams(emergency)
	require.NoError(t, err)

	upgrade := baseParams(entities.ProposalTypeProtocolUpgrade)
	_, err = NewRuleFromParams(upgrade)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRuleInput)
	upgrade.RequiresMultiSig = true
	upgrade.RequiredSignatures = 2
	_, err = NewRuleFromParams(upgrade)
	require.NoError(t, err)

	treasury := baseParams(entities.ProposalTypeTreasurySpend)
	_, err = NewRuleFromParams(treasury)
	require.ErrorIs(t, err, domainerrors.ErrInvalidRuleInput)
	treasury.ProposalDeposit = dec("10")
	_, err = NewRuleFromParams(treasury)
	require.NoError(t, err)
}

func TestApplyRulePatch(t *testing.T) {
	rule, err := NewRuleFromParams(baseParams(entities.ProposalTypeGeneral))
	require.NoError(t, err)

	_, err = ApplyRulePatch(rule, entities.RulePatch{})
	require.ErrorIs(t, err, domainerrors.ErrInvalidRuleInput)

	quorum := dec("35")
	updated, err := ApplyRulePatch(rule, entities.RulePatch{MinimumQuorumPercent: &quorum})
	require.NoError(t, err)
	assert.True(t, updated.MinimumQuorumPercent.Equal(quorum))
	assert.True(t, updated.ApprovalThresholdPercent.Equal(rule.ApprovalThresholdPercent))
	assert.Equal(t, 2, updated.Version)

	invalid := dec("120")
	_, err = ApplyRulePatch(rule, entities.RulePatch{ApprovalThresholdPercent: &invalid})
	require.ErrorIs(t, err, domainerrors.ErrInvalidRuleInput)

	rule.IsActive = false
	_, err = ApplyRulePatch(rule, entities.RulePatch{MinimumQuorumPercent: &quorum})
	require.ErrorIs(t, err, domainerrors.ErrRuleInactive)
}

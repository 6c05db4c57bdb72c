// Package rulefile reads governance rule seed files.
//
// A seed file lists at most one rule per proposal type:
//
//	rules:
//	  - proposal_type: general
//	    minimum_quorum_percent: "10"
//	    approval_threshold_percent: "50"
//	    voting_period: 72h
//	    execution_delay: 24h
//	    allow_delegation: true
package rulefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type document struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ProposalType             string `yaml:"proposal_type"`
	MinimumQuorumPercent     string `yaml:"minimum_quorum_percent"`
	ApprovalThresholdPercent string `yaml:"approval_threshold_percent"`
	VotingPeriod             string `yaml:"voting_period"`
	ExecutionDelay           string `yaml:"execution_delay"`
	RequiresMultiSig         bool   `yaml:"requires_multi_sig"`
	RequiredSignatures       int    `yaml:"required_signatures"`
	AllowDelegation          bool   `yaml:"allow_delegation"`
	AllowZeroPowerVotes      bool   `yaml:"allow_zero_power_votes"`
	MinimumTokensToPropose   string `yaml:"minimum_tokens_to_propose"`
	ProposalDeposit          string `yaml:"proposal_deposit"`
}

// LoadFile parses and validates the seed file at path.
func LoadFile(path string) ([]entities.RuleParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return Parse(bytes.NewReader(raw))
}

// Parse decodes a seed document. Every rule is checked with the same policy
// the rule registry applies, and a proposal type may appear only once.
func Parse(r io.Reader) ([]entities.RuleParams, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decode rule file: %v", domainerrors.ErrInvalidRuleInput, err)
	}

	seen := make(map[entities.ProposalType]int, len(doc.Rules))
	params := make([]entities.RuleParams, 0, len(doc.Rules))
	for i, entry := range doc.Rules {
		p, err := entry.params()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if first, ok := seen[p.ProposalType]; ok {
			return nil, fmt.Errorf("rule %d: %w: %s already declared by rule %d",
				i+1, domainerrors.ErrActiveRuleExists, p.ProposalType, first)
		}
		if _, err := services.NewRuleFromParams(p); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, p.ProposalType, err)
		}
		seen[p.ProposalType] = i + 1
		params = append(params, p)
	}
	return params, nil
}

func (e ruleEntry) params() (entities.RuleParams, error) {
	var err error
	p := entities.RuleParams{
		ProposalType:        entities.ProposalType(strings.TrimSpace(e.ProposalType)),
		RequiresMultiSig:    e.RequiresMultiSig,
		RequiredSignatures:  e.RequiredSignatures,
		AllowDelegation:     e.AllowDelegation,
		AllowZeroPowerVotes: e.AllowZeroPowerVotes,
	}
	if p.MinimumQuorumPercent, err = parseDecimal("minimum_quorum_percent", e.MinimumQuorumPercent); err != nil {
		return p, err
	}
	if p.ApprovalThresholdPercent, err = parseDecimal("approval_threshold_percent", e.ApprovalThresholdPercent); err != nil {
		return p, err
	}
	if p.MinimumTokensToPropose, err = parseDecimal("minimum_tokens_to_propose", e.MinimumTokensToPropose); err != nil {
		return p, err
	}
	if p.ProposalDeposit, err = parseDecimal("proposal_deposit", e.ProposalDeposit); err != nil {
		return p, err
	}
	if p.VotingPeriod, err = parseDuration("voting_period", e.VotingPeriod); err != nil {
		return p, err
	}
	if p.ExecutionDelay, err = parseDuration("execution_delay", e.ExecutionDelay); err != nil {
		return p, err
	}
	return p, nil
}

func parseDecimal(field string, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", domainerrors.ErrInvalidRuleInput, field, err)
	}
	return value, nil
}

func parseDuration(field string, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domainerrors.ErrInvalidRuleInput, field, err)
	}
	return value, nil
}

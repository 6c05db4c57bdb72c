package rulefile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
)

const seed = `
rules:
  - proposal_type: general
    minimum_quorum_percent: "10"
    approval_threshold_percent: "50"
    voting_period: 72h
    execution_delay: 24h
    allow_delegation: true
    minimum_tokens_to_propose: "100"
  - proposal_type: protocol_upgrade
    minimum_quorum_percent: "20"
    approval_threshold_percent: "66.67"
    voting_period: 168h
    requires_multi_sig: true
    required_signatures: 2
`

func TestParseReadsRules(t *testing.T) {
	params, err := Parse(strings.NewReader(seed))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(params))
	}
	general := params[0]
	if general.ProposalType != entities.ProposalTypeGeneral || general.VotingPeriod != 72*time.Hour {
		t.Fatalf("unexpected general rule %+v", general)
	}
	if general.MinimumTokensToPropose.String() != "100" || !general.AllowDelegation {
		t.Fatalf("unexpected general rule thresholds %+v", general)
	}
	if !general.ProposalDeposit.IsZero() {
		t.Fatalf("expected omitted deposit to be zero, got %s", general.ProposalDeposit)
	}
	if params[1].RequiredSignatures != 2 || !params[1].RequiresMultiSig {
		t.Fatalf("unexpected protocol upgrade rule %+v", params[1])
	}
}

func TestParseAppliesTypePolicy(t *testing.T) {
	doc := `
rules:
  - proposal_type: treasury_spend
    minimum_quorum_percent: "10"
    approval_threshold_percent: "50"
    voting_period: 72h
`
	_, err := Parse(strings.NewReader(doc))
	if !errors.Is(err, domainerrors.ErrInvalidRuleInput) {
		t.Fatalf("expected rule policy error, got %v", err)
	}
}

func TestParseRejectsDuplicateType(t *testing.T) {
	doc := `
rules:
  - proposal_type: general
    voting_period: 1h
  - proposal_type: general
    voting_period: 2h
`
	_, err := Parse(strings.NewReader(doc))
	if !errors.Is(err, domainerrors.ErrActiveRuleExists) {
		t.Fatalf("expected duplicate type conflict, got %v", err)
	}
}

func TestParseRejectsUnknownFieldsAndBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown field": "rules:\n  - proposal_type: general\n    voting_window: 1h\n",
		"bad decimal":   "rules:\n  - proposal_type: general\n    voting_period: 1h\n    proposal_deposit: lots\n",
		"bad duration":  "rules:\n  - proposal_type: general\n    voting_period: three days\n",
	}
	for name, doc := range cases {
		if _, err := Parse(strings.NewReader(doc)); !errors.Is(err, domainerrors.ErrInvalidRuleInput) {
			t.Fatalf("%s: expected invalid rule input, got %v", name, err)
		}
	}
}

func TestParseEmptyDocument(t *testing.T) {
	params, err := Parse(strings.NewReader(""))
	if err != nil || len(params) != 0 {
		t.Fatalf("expected no rules, got %v %v", params, err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed failed: %v", err)
	}
	params, err := LoadFile(path)
	if err != nil || len(params) != 2 {
		t.Fatalf("expected 2 rules, got %d %v", len(params), err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

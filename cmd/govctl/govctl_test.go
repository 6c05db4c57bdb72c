package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/shopspring/decimal"
)

func runGovctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRulesLintPrintsValidRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
rules:
  - proposal_type: general
    minimum_quorum_percent: "10"
    approval_threshold_percent: "50"
    voting_period: 72h
    allow_delegation: true
  - proposal_type: treasury_spend
    minimum_quorum_percent: "25"
    approval_threshold_percent: "60"
    voting_period: 120h
    proposal_deposit: "500"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write rules failed: %v", err)
	}

	out, err := runGovctl(t, "rules", "lint", path)
	if err != nil {
		t.Fatalf("lint failed: %v\n%s", err, out)
	}
	for _, want := range []string{"general", "treasury_spend", "500", "2 rule(s) valid"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRulesLintRejectsPolicyViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "rules:\n  - proposal_type: emergency\n    voting_period: 96h\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write rules failed: %v", err)
	}
	if _, err := runGovctl(t, "rules", "lint", path); err == nil {
		t.Fatalf("expected emergency voting period violation")
	}
}

func TestRulesLintRequiresFile(t *testing.T) {
	if _, err := runGovctl(t, "rules", "lint"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestRenderDistribution(t *testing.T) {
	var out bytes.Buffer
	renderDistribution(&out, entities.DistributionReport{
		ParticipantCount: 2,
		TotalPower:       decimal.NewFromInt(300),
		Gini:             0.1667,
		Nakamoto:         1,
		TopDecileShare:   0.6667,
		TopHolders: []entities.PowerShare{
			{ParticipantID: "alice", Power: decimal.NewFromInt(200)},
			{ParticipantID: "bob", Power: decimal.NewFromInt(100)},
		},
	})
	for _, want := range []string{"all", "300", "66.67%", "alice", "bob"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestRenderHealthSortsStatuses(t *testing.T) {
	var out bytes.Buffer
	renderHealth(&out, entities.HealthReport{
		ProposalsByStatus: map[entities.ProposalStatus]int{
			entities.ProposalStatus("rejected"): 1,
			entities.ProposalStatus("active"):   3,
		},
		ExecutionSuccessRate: 0.5,
	})
	rendered := out.String()
	if strings.Index(rendered, "Proposals active") > strings.Index(rendered, "Proposals rejected") {
		t.Fatalf("expected statuses in name order:\n%s", rendered)
	}
	if !strings.Contains(rendered, "50.00%") {
		t.Fatalf("expected success rate in output:\n%s", rendered)
	}
}

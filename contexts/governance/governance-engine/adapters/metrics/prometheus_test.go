package metrics

import (
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCountsByLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheus(registry)

	recorder.VoteCast(entities.VoteChoiceFor)
	recorder.VoteCast(entities.VoteChoiceFor)
	recorder.VoteCast(entities.VoteChoiceAgainst)
	recorder.ProposalResolved(entities.ProposalStatusApproved)
	recorder.ExecutionAttempted("failure")
	recorder.DelegationChanged("revoked")
	recorder.ObserveTally(30 * time.Millisecond)

	if got := testutil.ToFloat64(recorder.votesCast.WithLabelValues("for")); got != 2 {
		t.Fatalf("expected 2 for-votes, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.votesCast.WithLabelValues("against")); got != 1 {
		t.Fatalf("expected 1 against-vote, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.proposalsResolved.WithLabelValues("approved")); got != 1 {
		t.Fatalf("expected 1 approved proposal, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.executionAttempts.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 failed attempt, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.delegationChanges.WithLabelValues("revoked")); got != 1 {
		t.Fatalf("expected 1 revocation, got %v", got)
	}
	count, err := testutil.GatherAndCount(registry, "agora_governance_tally_duration_seconds")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one tally histogram series, got %d", count)
	}
}

func TestPrometheusRejectsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewPrometheus(registry)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	NewPrometheus(registry)
}

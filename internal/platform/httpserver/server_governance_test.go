package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	governanceengine "agora/contexts/governance/governance-engine"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	governancehttp "agora/contexts/governance/governance-engine/transport/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

func newTestServer() *Server {
	registry := prometheus.NewRegistry()
	return New(
		governanceengine.NewInMemoryModule(nil, slog.Default()),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		slog.Default(),
		":0",
	)
}

func doGovernanceRequest(t *testing.T, server *Server, method string, path string, userID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	return rr
}

func decodeGovernanceResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response failed: %v body=%s", err, rr.Body.String())
	}
}

const generalRuleBody = `{
	"proposal_type": "general",
	"minimum_quorum_percent": "20",
	"approval_threshold_percent": "51",
	"voting_period_seconds": 86400,
	"execution_delay_seconds": 0,
	"allow_delegation": true
}`

func createGeneralRule(t *testing.T, server *Server) governancehttp.RuleResponse {
	t.Helper()
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/rules", "rule-admin", generalRuleBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var rule governancehttp.RuleResponse
	decodeGovernanceResponse(t, rr, &rule)
	return rule
}

func openGeneralProposal(t *testing.T, server *Server) governancehttp.ProposalResponse {
	t.Helper()
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/proposals", "alice",
		`{"proposal_type":"general","title":"Raise the cap","description":"Raise it to 150.","open_immediately":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var proposal governancehttp.ProposalResponse
	decodeGovernanceResponse(t, rr, &proposal)
	return proposal
}

func TestGovernanceCreateRuleRequiresUser(t *testing.T) {
	server := newTestServer()
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/rules", "", generalRuleBody)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceCreateRuleRejectsMalformedJSON(t *testing.T) {
	server := newTestServer()
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/rules", "rule-admin", `{"proposal_type":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceCreateRuleValidatesRequest(t *testing.T) {
	server := newTestServer()
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/rules", "rule-admin",
		`{"proposal_type":"lottery","minimum_quorum_percent":"20","approval_threshold_percent":"51","voting_period_seconds":60}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp governancehttp.ErrorResponse
	decodeGovernanceResponse(t, rr, &resp)
	if resp.Code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %s", resp.Code)
	}
}

func TestGovernanceRejectsReservedSystemUser(t *testing.T) {
	server := newTestServer()
	for _, userID := range []string{"system", "SYSTEM"} {
		rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/rules", userID, generalRuleBody)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for %q, got %d body=%s", userID, rr.Code, rr.Body.String())
		}
		var resp governancehttp.ErrorResponse
		decodeGovernanceResponse(t, rr, &resp)
		if resp.Code != "reserved_user" {
			t.Fatalf("expected reserved_user, got %s", resp.Code)
		}
	}

	rr := doGovernanceRequest(t, server, http.MethodGet, "/v1/governance/rules/active/general", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected no active rule after rejected requests, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceRuleRejectsOverflowingDurations(t *testing.T) {
	server := newTestServer()
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/rules", "rule-admin",
		`{"proposal_type":"general","minimum_quorum_percent":"20","approval_threshold_percent":"51","voting_period_seconds":18446744074}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp governancehttp.ErrorResponse
	decodeGovernanceResponse(t, rr, &resp)
	if resp.Code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %s", resp.Code)
	}

	rule := createGeneralRule(t, server)
	rr = doGovernanceRequest(t, server, http.MethodPatch, "/v1/governance/rules/"+rule.RuleID, "rule-admin",
		`{"execution_delay_seconds":9223372037}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on patch, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doGovernanceRequest(t, server, http.MethodPatch, "/v1/governance/rules/"+rule.RuleID, "rule-admin",
		`{"voting_period_seconds":9223372036}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected the largest representable period to be accepted, got %d body=%s", rr.Code, rr.Body.String())
	}
	var updated governancehttp.RuleResponse
	decodeGovernanceResponse(t, rr, &updated)
	if updated.VotingPeriodSeconds != 9223372036 {
		t.Fatalf("expected period to round trip, got %d", updated.VotingPeriodSeconds)
	}
}

func TestGovernanceSecondActiveRuleConflicts(t *testing.T) {
	server := newTestServer()
	createGeneralRule(t, server)
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/rules", "rule-admin", generalRuleBody)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceProposalWithoutRuleIsUnprocessable(t *testing.T) {
	server := newTestServer()
	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/proposals", "alice",
		`{"proposal_type":"treasury_spend","title":"Fund the grants round"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceUnknownProposalIsNotFound(t *testing.T) {
	server := newTestServer()
	rr := doGovernanceRequest(t, server, http.MethodGet, "/v1/governance/proposals/missing", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceCreateProposalReplaysIdempotencyKey(t *testing.T) {
	server := newTestServer()
	createGeneralRule(t, server)
	body := `{"proposal_type":"general","title":"Raise the cap"}`

	first := httptest.NewRequest(http.MethodPost, "/v1/governance/proposals", bytes.NewReader([]byte(body)))
	first.Header.Set("X-User-Id", "alice")
	first.Header.Set("Idempotency-Key", "proposal-key-1")
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, first)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created governancehttp.ProposalResponse
	decodeGovernanceResponse(t, rr, &created)

	second := httptest.NewRequest(http.MethodPost, "/v1/governance/proposals", bytes.NewReader([]byte(body)))
	second.Header.Set("X-User-Id", "alice")
	second.Header.Set("Idempotency-Key", "proposal-key-1")
	rr = httptest.NewRecorder()
	server.mux.ServeHTTP(rr, second)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d body=%s", rr.Code, rr.Body.String())
	}
	var replayed governancehttp.ProposalResponse
	decodeGovernanceResponse(t, rr, &replayed)
	if !replayed.Replayed || replayed.ProposalID != created.ProposalID {
		t.Fatalf("expected replay of %s, got %+v", created.ProposalID, replayed)
	}

	conflicting := httptest.NewRequest(http.MethodPost, "/v1/governance/proposals",
		bytes.NewReader([]byte(`{"proposal_type":"general","title":"Lower the cap"}`)))
	conflicting.Header.Set("X-User-Id", "alice")
	conflicting.Header.Set("Idempotency-Key", "proposal-key-1")
	rr = httptest.NewRecorder()
	server.mux.ServeHTTP(rr, conflicting)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceProposalLifecycleThroughExecution(t *testing.T) {
	server := newTestServer()
	server.governance.Directory.SetStake("whale", decimal.NewFromInt(600))
	server.governance.Directory.SetStake("minnow", decimal.NewFromInt(400))
	createGeneralRule(t, server)
	proposal := openGeneralProposal(t, server)
	if proposal.Status != string(entities.ProposalStatusActive) {
		t.Fatalf("expected active proposal, got %s", proposal.Status)
	}
	base := "/v1/governance/proposals/" + proposal.ProposalID

	rr := doGovernanceRequest(t, server, http.MethodPost, base+"/votes", "whale", `{"choice":"for"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var vote governancehttp.VoteResponse
	decodeGovernanceResponse(t, rr, &vote)
	if vote.VotingPowerAtCast != "600" {
		t.Fatalf("expected power 600 at cast, got %s", vote.VotingPowerAtCast)
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/votes", "whale", `{"choice":"against"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate vote, got %d body=%s", rr.Code, rr.Body.String())
	}
	var duplicate governancehttp.ErrorResponse
	decodeGovernanceResponse(t, rr, &duplicate)
	if duplicate.Code != "duplicate_vote" {
		t.Fatalf("expected duplicate_vote, got %s", duplicate.Code)
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/close", "alice", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while window is open, got %d body=%s", rr.Code, rr.Body.String())
	}

	server.governance.Clock.Advance(25 * time.Hour)
	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/close", "alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var closed governancehttp.CloseProposalResponse
	decodeGovernanceResponse(t, rr, &closed)
	if closed.Proposal.Status != string(entities.ProposalStatusApproved) || !closed.Tally.Passed {
		t.Fatalf("expected approved proposal, got %s tally=%+v", closed.Proposal.Status, closed.Tally)
	}
	if closed.Tally.TotalEligiblePower != "1000" || closed.Tally.ForPower != "600" {
		t.Fatalf("unexpected tally %+v", closed.Tally)
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/execution", "alice", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/execution", "alice", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second schedule, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/execution/attempts", "executor-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var outcome governancehttp.ExecutionOutcomeResponse
	decodeGovernanceResponse(t, rr, &outcome)
	if outcome.ProposalStatus != string(entities.ProposalStatusExecuted) || outcome.Execution.Status != "completed" {
		t.Fatalf("expected executed proposal, got %+v", outcome)
	}
	if len(outcome.Execution.Attempts) != 1 {
		t.Fatalf("expected one attempt, got %d", len(outcome.Execution.Attempts))
	}
}

func TestGovernanceFailedExecutionReturnsOutcome(t *testing.T) {
	server := newTestServer()
	server.governance.Directory.SetStake("whale", decimal.NewFromInt(600))
	server.governance.Sink.QueueReceipt(entities.ExecutionReceipt{Success: false, ErrorMessage: "reverted"})
	createGeneralRule(t, server)
	proposal := openGeneralProposal(t, server)
	base := "/v1/governance/proposals/" + proposal.ProposalID

	doGovernanceRequest(t, server, http.MethodPost, base+"/votes", "whale", `{"choice":"for"}`)
	server.governance.Clock.Advance(25 * time.Hour)
	doGovernanceRequest(t, server, http.MethodPost, base+"/close", "alice", "")
	doGovernanceRequest(t, server, http.MethodPost, base+"/execution", "alice", "")

	rr := doGovernanceRequest(t, server, http.MethodPost, base+"/execution/retry", "executor-1", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 before any failure, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/execution/attempts", "executor-1", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", rr.Code, rr.Body.String())
	}
	var failed struct {
		Code    string                                  `json:"code"`
		Outcome governancehttp.ExecutionOutcomeResponse `json:"outcome"`
	}
	decodeGovernanceResponse(t, rr, &failed)
	if failed.Code != "execution_failed" || failed.Outcome.Execution.RetryCount != 1 {
		t.Fatalf("expected recorded failure, got %+v", failed)
	}
	if failed.Outcome.Execution.Status != "pending" {
		t.Fatalf("expected execution to stay pending, got %s", failed.Outcome.Execution.Status)
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, base+"/execution/retry", "executor-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceDelegationMovesVotingPower(t *testing.T) {
	server := newTestServer()
	server.governance.Directory.SetStake("alice", decimal.NewFromInt(100))
	server.governance.Directory.SetStake("bob", decimal.NewFromInt(40))

	rr := doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/delegations", "alice", `{"delegate_id":"bob"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var delegation governancehttp.DelegationResponse
	decodeGovernanceResponse(t, rr, &delegation)
	if delegation.Scope != "all" || !delegation.IsActive {
		t.Fatalf("unexpected delegation %+v", delegation)
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/delegations", "alice", `{"delegate_id":"alice"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for self delegation, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doGovernanceRequest(t, server, http.MethodGet, "/v1/governance/participants/bob/voting-power", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var power governancehttp.VotingPowerResponse
	decodeGovernanceResponse(t, rr, &power)
	if power.Effective != "140" || len(power.Delegators) != 1 {
		t.Fatalf("expected 140 effective power from one delegator, got %+v", power)
	}

	rr = doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/delegations/"+delegation.DelegationID+"/revoke", "mallory", `{}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign revoke, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doGovernanceRequest(t, server, http.MethodPost, "/v1/governance/delegations/"+delegation.DelegationID+"/revoke", "alice", `{"reason":"changed my mind"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceListRejectsBadLimit(t *testing.T) {
	server := newTestServer()
	rr := doGovernanceRequest(t, server, http.MethodGet, "/v1/governance/proposals?limit=ten", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGovernanceOperationalRoutes(t *testing.T) {
	server := newTestServer()
	for _, path := range []string{"/healthz", "/metrics", "/v1/governance/analytics/health"} {
		rr := doGovernanceRequest(t, server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 from %s, got %d body=%s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestGovernanceErrorStatusByKind(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: ledger timeout", domainerrors.ErrDependencyUnavailable), http.StatusFailedDependency},
		{domainerrors.ErrNotAuthorized, http.StatusForbidden},
		{&domainerrors.TransitionError{From: "draft", To: "approved"}, http.StatusConflict},
		{domainerrors.ErrExecutionFailed, http.StatusBadGateway},
		{domainerrors.ErrInvalidVoteInput, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := governanceErrorStatus(tc.err)
		if status != tc.status {
			t.Fatalf("expected %d for %v, got %d", tc.status, tc.err, status)
		}
	}
}

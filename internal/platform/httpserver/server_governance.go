package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"agora/contexts/governance/governance-engine/application/commands"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	governancehttp "agora/contexts/governance/governance-engine/transport/http"
)

const maxGovernanceBodyBytes = 1 << 20

func requireGovernanceActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	// The system actor is reserved for workers and rule seeding.
	if strings.EqualFold(userID, commands.SystemActorID) {
		writeGovernanceError(w, http.StatusForbidden, "reserved_user", "X-User-Id is reserved")
		return "", false
	}
	return userID, true
}

// decodeGovernanceBody treats an empty body as an empty request.
func decodeGovernanceBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGovernanceBodyBytes))
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return value, true
}

func queryBool(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a boolean")
		return false, false
	}
	return value, true
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.CreateRuleRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.CreateRuleHandler(r.Context(), actorID, req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	includeInactive, ok := queryBool(w, r, "include_inactive")
	if !ok {
		return
	}
	resp, err := s.governance.Handler.ListRulesHandler(r.Context(), includeInactive)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.GetRuleHandler(r.Context(), r.PathValue("rule_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.UpdateRuleRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.UpdateRuleHandler(r.Context(), actorID, r.PathValue("rule_id"), req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.DeactivateRuleHandler(r.Context(), actorID, r.PathValue("rule_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveRule(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.ActiveRuleHandler(r.Context(), r.PathValue("proposal_type"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.CreateProposalRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.CreateProposalHandler(
		r.Context(),
		actorID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	query := r.URL.Query()
	resp, err := s.governance.Handler.ListProposalsHandler(
		r.Context(),
		query.Get("status"),
		query.Get("proposal_type"),
		query.Get("creator_id"),
		limit,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.GetProposalHandler(r.Context(), r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateProposal(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.UpdateProposalRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.UpdateProposalHandler(r.Context(), actorID, r.PathValue("proposal_id"), req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenProposal(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.OpenProposalHandler(r.Context(), actorID, r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelProposal(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.CancelProposalRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.CancelProposalHandler(r.Context(), actorID, r.PathValue("proposal_id"), req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCloseProposal(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.CloseProposalHandler(r.Context(), actorID, r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.TallyHandler(r.Context(), r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.CastVoteRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.CastVoteHandler(
		r.Context(),
		voterID,
		r.Header.Get("Idempotency-Key"),
		r.PathValue("proposal_id"),
		req,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.ListVotesHandler(r.Context(), r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVote(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.GetVoteHandler(r.Context(), r.PathValue("proposal_id"), r.PathValue("voter_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleParticipation(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.ParticipationHandler(r.Context(), r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScheduleExecution(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.ScheduleExecutionHandler(r.Context(), actorID, r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.GetExecutionHandler(r.Context(), r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	executorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.ExecuteHandler(r.Context(), executorID, r.PathValue("proposal_id"))
	writeExecutionOutcome(w, resp, err)
}

func (s *Server) handleRetryExecution(w http.ResponseWriter, r *http.Request) {
	executorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.RetryExecutionHandler(r.Context(), executorID, r.PathValue("proposal_id"))
	writeExecutionOutcome(w, resp, err)
}

func (s *Server) handleSignExecution(w http.ResponseWriter, r *http.Request) {
	signerID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.SignExecutionHandler(r.Context(), signerID, r.PathValue("proposal_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	resp, err := s.governance.Handler.ListExecutionsHandler(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	delegatorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.DelegateRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.DelegateHandler(r.Context(), delegatorID, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	includeInactive, ok := queryBool(w, r, "include_inactive")
	if !ok {
		return
	}
	query := r.URL.Query()
	resp, err := s.governance.Handler.ListDelegationsHandler(
		r.Context(),
		query.Get("delegator_id"),
		query.Get("delegate_id"),
		includeInactive,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDelegation(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.GetDelegationHandler(r.Context(), r.PathValue("delegation_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevokeDelegation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireGovernanceActor(w, r)
	if !ok {
		return
	}
	var req governancehttp.RevokeDelegationRequest
	if !decodeGovernanceBody(w, r, &req) {
		return
	}
	resp, err := s.governance.Handler.RevokeDelegationHandler(r.Context(), actorID, r.PathValue("delegation_id"), req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVotingPower(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.VotingPowerHandler(
		r.Context(),
		r.PathValue("participant_id"),
		r.URL.Query().Get("proposal_type"),
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	topN, ok := queryInt(w, r, "top")
	if !ok {
		return
	}
	resp, err := s.governance.Handler.DistributionHandler(r.Context(), r.URL.Query().Get("proposal_type"), topN)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGovernanceHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.HealthHandler(r.Context())
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeExecutionOutcome returns the recorded attempt alongside a failed
// sink call so callers can see the retry budget.
func writeExecutionOutcome(w http.ResponseWriter, resp governancehttp.ExecutionOutcomeResponse, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if errors.Is(err, domainerrors.ErrExecutionFailed) {
		writeJSON(w, http.StatusBadGateway, struct {
			governancehttp.ErrorResponse
			Outcome governancehttp.ExecutionOutcomeResponse `json:"outcome"`
		}{
			ErrorResponse: governancehttp.ErrorResponse{Code: "execution_failed", Message: err.Error()},
			Outcome:       resp,
		})
		return
	}
	writeGovernanceDomainError(w, err)
}

func writeGovernanceDomainError(w http.ResponseWriter, err error) {
	status, code := governanceErrorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	writeGovernanceError(w, status, code, message)
}

// governanceErrorStatus picks a specific code for the failures clients act
// on and falls back to the error kind otherwise.
func governanceErrorStatus(err error) (int, string) {
	var transition *domainerrors.TransitionError
	switch {
	case errors.As(err, &transition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domainerrors.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict"
	case errors.Is(err, domainerrors.ErrDuplicateVote):
		return http.StatusConflict, "duplicate_vote"
	case errors.Is(err, domainerrors.ErrExecutionInProgress):
		return http.StatusConflict, "execution_in_progress"
	case errors.Is(err, domainerrors.ErrNoActiveRule):
		return http.StatusUnprocessableEntity, "no_active_rule"
	case errors.Is(err, domainerrors.ErrSelfDelegation):
		return http.StatusUnprocessableEntity, "self_delegation"
	case errors.Is(err, domainerrors.ErrInsufficientSignatures):
		return http.StatusForbidden, "insufficient_signatures"
	}

	switch domainerrors.KindOf(err) {
	case domainerrors.KindValidation:
		return http.StatusBadRequest, "invalid_request"
	case domainerrors.KindConflict:
		return http.StatusConflict, "conflict"
	case domainerrors.KindAuthorization:
		return http.StatusForbidden, "forbidden"
	case domainerrors.KindNotFound:
		return http.StatusNotFound, "not_found"
	case domainerrors.KindUnavailable:
		return http.StatusFailedDependency, "dependency_unavailable"
	case domainerrors.KindExecution:
		return http.StatusBadGateway, "execution_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeGovernanceError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, governancehttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	governanceengine "agora/contexts/governance/governance-engine"
	_ "agora/internal/platform/httpserver/docs"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
	addr       string
	metrics    http.Handler
	governance governanceengine.Module
}

// New builds the server. A nil metrics handler serves the default
// prometheus registry.
func New(
	governance governanceengine.Module,
	metrics http.Handler,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	s := &Server{
		mux:        http.NewServeMux(),
		logger:     logger,
		addr:       addr,
		metrics:    metrics,
		governance: governance,
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server stopping",
		"event", "http_server_stopping",
		"module", "internal/platform/httpserver",
		"layer", "platform",
	)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.Handle("GET /metrics", s.metrics)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.HandleFunc("POST /v1/governance/rules", s.handleCreateRule)
	s.mux.HandleFunc("GET /v1/governance/rules", s.handleListRules)
	s.mux.HandleFunc("GET /v1/governance/rules/{rule_id}", s.handleGetRule)
	s.mux.HandleFunc("PATCH /v1/governance/rules/{rule_id}", s.handleUpdateRule)
	s.mux.HandleFunc("POST /v1/governance/rules/{rule_id}/deactivate", s.handleDeactivateRule)
	s.mux.HandleFunc("GET /v1/governance/rules/active/{proposal_type}", s.handleActiveRule)

	s.mux.HandleFunc("POST /v1/governance/proposals", s.handleCreateProposal)
	s.mux.HandleFunc("GET /v1/governance/proposals", s.handleListProposals)
	s.mux.HandleFunc("GET /v1/governance/proposals/{proposal_id}", s.handleGetProposal)
	s.mux.HandleFunc("PATCH /v1/governance/proposals/{proposal_id}", s.handleUpdateProposal)
	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/open", s.handleOpenProposal)
	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/cancel", s.handleCancelProposal)
	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/close", s.handleCloseProposal)
	s.mux.HandleFunc("GET /v1/governance/proposals/{proposal_id}/tally", s.handleTally)
	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/votes", s.handleCastVote)
	s.mux.HandleFunc("GET /v1/governance/proposals/{proposal_id}/votes", s.handleListVotes)
	s.mux.HandleFunc("GET /v1/governance/proposals/{proposal_id}/votes/{voter_id}", s.handleGetVote)
	s.mux.HandleFunc("GET /v1/governance/proposals/{proposal_id}/participation", s.handleParticipation)

	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/execution", s.handleScheduleExecution)
	s.mux.HandleFunc("GET /v1/governance/proposals/{proposal_id}/execution", s.handleGetExecution)
	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/execution/attempts", s.handleExecute)
	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/execution/retry", s.handleRetryExecution)
	s.mux.HandleFunc("POST /v1/governance/proposals/{proposal_id}/execution/signatures", s.handleSignExecution)
	s.mux.HandleFunc("GET /v1/governance/executions", s.handleListExecutions)

	s.mux.HandleFunc("POST /v1/governance/delegations", s.handleDelegate)
	s.mux.HandleFunc("GET /v1/governance/delegations", s.handleListDelegations)
	s.mux.HandleFunc("GET /v1/governance/delegations/{delegation_id}", s.handleGetDelegation)
	s.mux.HandleFunc("POST /v1/governance/delegations/{delegation_id}/revoke", s.handleRevokeDelegation)
	s.mux.HandleFunc("GET /v1/governance/participants/{participant_id}/voting-power", s.handleVotingPower)

	s.mux.HandleFunc("GET /v1/governance/analytics/distribution", s.handleDistribution)
	s.mux.HandleFunc("GET /v1/governance/analytics/health", s.handleGovernanceHealth)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

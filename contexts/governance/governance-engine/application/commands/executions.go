package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/domain/services"
	"agora/contexts/governance/governance-engine/ports"
)

const (
	defaultMaxRetries          = 3
	defaultExternalCallTimeout = 5 * time.Second
)

// ScheduleExecutionCommand creates the pending execution of an approved
// proposal.
type ScheduleExecutionCommand struct {
	ActorID    string
	ProposalID string
}

type ExecuteCommand struct {
	ProposalID string
	ExecutorID string
}

// SignExecutionCommand adds a multi-sig approval.
type SignExecutionCommand struct {
	ProposalID string
	SignerID   string
}

// ExecutionResult is the execution after an attempt, with the proposal
// status it left behind and the sink's receipt.
type ExecutionResult struct {
	Execution      entities.ProposalExecution
	ProposalStatus entities.ProposalStatus
	Receipt        entities.ExecutionReceipt
}

// ExecutionUseCase schedules and runs approved proposals. An attempt is
// claimed under a lease, the sink is called outside any transaction, and the
// outcome is recorded only if the claim is still held.
type ExecutionUseCase struct {
	Store               ports.Store
	Sink                ports.ExecutionSink
	Policy              ports.AuthorizationPolicy
	Clock               ports.Clock
	IDGen               ports.IDGenerator
	MaxRetries          int
	LeaseTTL            time.Duration
	ExternalCallTimeout time.Duration
	Metrics             ports.Metrics
	Logger              *slog.Logger
}

// Schedule returns ErrExecutionAlreadyScheduled when the proposal already has
// an execution.
func (uc ExecutionUseCase) Schedule(ctx context.Context, cmd ScheduleExecutionCommand) (entities.ProposalExecution, error) {
	logger := application.ResolveLogger(uc.Logger)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		actorID = SystemActorID
	}
	if proposalID == "" {
		return entities.ProposalExecution{}, domainerrors.ErrInvalidExecutionInput
	}
	executionID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.ProposalExecution{}, err
	}
	now := resolveNow(uc.Clock)

	var scheduled entities.ProposalExecution
	err = uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		proposal, err := repos.Proposals.GetProposalForShare(ctx, proposalID)
		if err != nil {
			return err
		}
		if existing, err := repos.Executions.GetExecutionByProposal(ctx, proposalID); err == nil {
			return fmt.Errorf("%w: execution %s is %s",
				domainerrors.ErrExecutionAlreadyScheduled, existing.ExecutionID, existing.Status)
		} else if !errors.Is(err, domainerrors.ErrExecutionNotFound) {
			return err
		}
		execution, err := services.NewExecution(executionID, proposal, uc.maxRetries(), now)
		if err != nil {
			return err
		}
		if err := repos.Executions.InsertExecution(ctx, execution); err != nil {
			return err
		}
		scheduled = execution
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventExecutionScheduled,
			partitionByProposal, proposalID, now, map[string]any{
				"execution_id": execution.ExecutionID,
				"proposal_id":  execution.ProposalID,
				"scheduled_at": execution.ScheduledAt.Format(time.RFC3339),
				"max_retries":  execution.MaxRetries,
				"actor_id":     actorID,
			})
	})
	if err != nil {
		logger.Warn("execution schedule failed",
			"event", "governance_execution_schedule_failed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"error", err.Error(),
		)
		return entities.ProposalExecution{}, err
	}
	logger.Info("execution scheduled",
		"event", "governance_execution_scheduled",
		"module", application.ModuleName,
		"layer", "application",
		"execution_id", scheduled.ExecutionID,
		"proposal_id", scheduled.ProposalID,
		"scheduled_at", scheduled.ScheduledAt.Format(time.RFC3339),
	)
	return scheduled, nil
}

// Execute runs the first or a subsequent attempt of a pending execution.
// A sink failure is recorded and returned as ErrExecutionFailed together with
// the updated execution.
func (uc ExecutionUseCase) Execute(ctx context.Context, cmd ExecuteCommand) (ExecutionResult, error) {
	return uc.attempt(ctx, cmd, false)
}

// Retry is Execute restricted to executions with at least one failed attempt.
func (uc ExecutionUseCase) Retry(ctx context.Context, cmd ExecuteCommand) (ExecutionResult, error) {
	return uc.attempt(ctx, cmd, true)
}

func (uc ExecutionUseCase) attempt(ctx context.Context, cmd ExecuteCommand, retry bool) (ExecutionResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	executorID := strings.TrimSpace(cmd.ExecutorID)
	if proposalID == "" || executorID == "" {
		return ExecutionResult{}, fmt.Errorf("%w: proposal and executor are required",
			domainerrors.ErrInvalidExecutionInput)
	}
	if uc.Sink == nil {
		return ExecutionResult{}, fmt.Errorf("%w: execution sink is not configured",
			domainerrors.ErrDependencyUnavailable)
	}

	var (
		claimed entities.ProposalExecution
		payload []byte
	)
	claimedAt := resolveNow(uc.Clock)
	err := uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		execution, err := repos.Executions.GetExecutionByProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		proposal, err := repos.Proposals.GetProposalForShare(ctx, proposalID)
		if err != nil {
			return err
		}
		if err := services.EvaluateExecutionClaim(execution, proposal.Rule, claimedAt, retry); err != nil {
			return err
		}
		claimed = services.ClaimExecution(execution, executorID, claimedAt, uc.leaseTTL())
		payload = proposal.Payload
		return repos.Executions.UpdateExecution(ctx, claimed)
	})
	if err != nil {
		logger.Warn("execution claim rejected",
			"event", "governance_execution_claim_rejected",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"executor_id", executorID,
			"retry", retry,
			"error", err.Error(),
		)
		return ExecutionResult{}, err
	}

	receipt := uc.perform(ctx, proposalID, payload)
	finishedAt := resolveNow(uc.Clock)

	var result ExecutionResult
	recordCtx := context.WithoutCancel(ctx)
	err = uc.Store.WithinTransaction(recordCtx, func(ctx context.Context, repos ports.Repositories) error {
		execution, err := repos.Executions.GetExecutionByProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		if execution.Version != claimed.Version || execution.ClaimedBy != executorID {
			return fmt.Errorf("%w: lease lost to %s", domainerrors.ErrExecutionInProgress, execution.ClaimedBy)
		}
		outcome := services.RecordExecutionAttempt(execution, executorID, receipt, claimedAt, finishedAt)
		if err := repos.Executions.UpdateExecution(ctx, outcome.Execution); err != nil {
			return err
		}
		if err := appendEvent(ctx, repos.Outbox, uc.IDGen, EventExecutionAttempted,
			partitionByProposal, proposalID, finishedAt, map[string]any{
				"execution_id":   outcome.Execution.ExecutionID,
				"proposal_id":    proposalID,
				"executor_id":    executorID,
				"succeeded":      receipt.Success,
				"retry_count":    outcome.Execution.RetryCount,
				"max_retries":    outcome.Execution.MaxRetries,
				"status":         string(outcome.Execution.Status),
				"error_message":  outcome.Execution.ErrorMessage,
				"attempt_number": len(outcome.Execution.Attempts),
			}); err != nil {
			return err
		}
		result = ExecutionResult{
			Execution:      outcome.Execution,
			ProposalStatus: outcome.ProposalStatus,
			Receipt:        receipt,
		}
		if !outcome.Terminal {
			return nil
		}

		proposal, err := repos.Proposals.GetProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		if err := services.EnsureTransition(proposal.Status, outcome.ProposalStatus); err != nil {
			return err
		}
		proposal.Status = outcome.ProposalStatus
		if outcome.ProposalStatus == entities.ProposalStatusExecuted {
			executedAt := finishedAt
			proposal.ExecutedAt = &executedAt
		}
		proposal.UpdatedAt = finishedAt
		proposal.Version++
		if err := repos.Proposals.UpdateProposal(ctx, proposal); err != nil {
			return err
		}
		eventType := EventProposalFailed
		if proposal.Status == entities.ProposalStatusExecuted {
			eventType = EventProposalExecuted
		}
		data := proposalEventData(proposal, executorID)
		data["execution_id"] = outcome.Execution.ExecutionID
		return appendEvent(ctx, repos.Outbox, uc.IDGen, eventType, partitionByProposal, proposalID, finishedAt, data)
	})
	if err != nil {
		logger.Error("execution outcome not recorded",
			"event", "governance_execution_record_failed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"executor_id", executorID,
			"sink_success", receipt.Success,
			"error", err.Error(),
		)
		return ExecutionResult{}, err
	}

	metrics := application.ResolveMetrics(uc.Metrics)
	execution := result.Execution
	switch {
	case receipt.Success:
		metrics.ExecutionAttempted("success")
		logger.Info("proposal executed",
			"event", "governance_execution_completed",
			"module", application.ModuleName,
			"layer", "application",
			"execution_id", execution.ExecutionID,
			"proposal_id", proposalID,
			"executor_id", executorID,
			"gas_used", receipt.GasUsed,
			"cost", receipt.Cost.String(),
		)
		return result, nil
	case execution.Status == entities.ExecutionStatusFailed:
		metrics.ExecutionAttempted("exhausted")
		logger.Error("proposal execution failed permanently",
			"event", "governance_execution_exhausted",
			"module", application.ModuleName,
			"layer", "application",
			"execution_id", execution.ExecutionID,
			"proposal_id", proposalID,
			"retry_count", execution.RetryCount,
			"error", execution.ErrorMessage,
		)
	default:
		metrics.ExecutionAttempted("failure")
		logger.Warn("proposal execution attempt failed",
			"event", "governance_execution_attempt_failed",
			"module", application.ModuleName,
			"layer", "application",
			"execution_id", execution.ExecutionID,
			"proposal_id", proposalID,
			"retry_count", execution.RetryCount,
			"max_retries", execution.MaxRetries,
			"error", execution.ErrorMessage,
		)
	}
	return result, fmt.Errorf("%w: attempt %d of %d: %s",
		domainerrors.ErrExecutionFailed, execution.RetryCount, execution.MaxRetries, execution.ErrorMessage)
}

// perform calls the sink under the configured timeout. Transport failures are
// folded into a failed receipt so they consume an attempt like any other.
func (uc ExecutionUseCase) perform(ctx context.Context, proposalID string, payload []byte) entities.ExecutionReceipt {
	timeout := uc.ExternalCallTimeout
	if timeout <= 0 {
		timeout = defaultExternalCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	receipt, err := uc.Sink.PerformExecution(callCtx, proposalID, payload)
	if err != nil {
		return entities.ExecutionReceipt{Success: false, ErrorMessage: err.Error()}
	}
	if !receipt.Success && strings.TrimSpace(receipt.ErrorMessage) == "" {
		receipt.ErrorMessage = "execution sink reported failure"
	}
	return receipt
}

// SignExecution records one signature per signer on a pending execution.
func (uc ExecutionUseCase) SignExecution(ctx context.Context, cmd SignExecutionCommand) (entities.ProposalExecution, error) {
	logger := application.ResolveLogger(uc.Logger)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	signerID := strings.TrimSpace(cmd.SignerID)
	if proposalID == "" || signerID == "" {
		return entities.ProposalExecution{}, fmt.Errorf("%w: proposal and signer are required",
			domainerrors.ErrInvalidExecutionInput)
	}
	if uc.Policy != nil {
		allowed, err := uc.Policy.CanSignExecution(ctx, signerID, proposalID)
		if err != nil {
			return entities.ProposalExecution{}, policyError(err)
		}
		if !allowed {
			logger.Warn("execution signer not authorized",
				"event", "governance_execution_signer_denied",
				"module", application.ModuleName,
				"layer", "application",
				"proposal_id", proposalID,
				"signer_id", signerID,
			)
			return entities.ProposalExecution{}, domainerrors.ErrNotAuthorized
		}
	}
	now := resolveNow(uc.Clock)

	var signed entities.ProposalExecution
	err := uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		execution, err := repos.Executions.GetExecutionByProposalForUpdate(ctx, proposalID)
		if err != nil {
			return err
		}
		proposal, err := repos.Proposals.GetProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		next, err := services.AddSignature(execution, proposal.Rule, signerID, now)
		if err != nil {
			return err
		}
		if err := repos.Executions.UpdateExecution(ctx, next); err != nil {
			return err
		}
		signed = next
		return appendEvent(ctx, repos.Outbox, uc.IDGen, EventExecutionSigned,
			partitionByProposal, proposalID, now, map[string]any{
				"execution_id":        next.ExecutionID,
				"proposal_id":         proposalID,
				"signer_id":           signerID,
				"signature_count":     len(next.Signatures),
				"required_signatures": proposal.Rule.RequiredSignatures,
			})
	})
	if err != nil {
		logger.Warn("execution signature rejected",
			"event", "governance_execution_sign_failed",
			"module", application.ModuleName,
			"layer", "application",
			"proposal_id", proposalID,
			"signer_id", signerID,
			"error", err.Error(),
		)
		return entities.ProposalExecution{}, err
	}
	logger.Info("execution signed",
		"event", "governance_execution_signed",
		"module", application.ModuleName,
		"layer", "application",
		"execution_id", signed.ExecutionID,
		"proposal_id", proposalID,
		"signer_id", signerID,
		"signature_count", len(signed.Signatures),
	)
	return signed, nil
}

func (uc ExecutionUseCase) maxRetries() int {
	if uc.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return uc.MaxRetries
}

func (uc ExecutionUseCase) leaseTTL() time.Duration {
	if uc.LeaseTTL <= 0 {
		return defaultExecutionLeaseTTL
	}
	return uc.LeaseTTL
}

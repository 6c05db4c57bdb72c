package services

import (
	"fmt"
	"strings"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
)

// NewExecution schedules an approved proposal at resolvedAt + executionDelay.
func NewExecution(
	executionID string,
	proposal entities.Proposal,
	maxRetries int,
	now time.Time,
) (entities.ProposalExecution, error) {
	if proposal.Status != entities.ProposalStatusApproved {
		return entities.ProposalExecution{}, fmt.Errorf("%w: proposal is %s",
			domainerrors.ErrProposalNotApproved, proposal.Status)
	}
	if maxRetries < 1 {
		return entities.ProposalExecution{}, fmt.Errorf("%w: max retries must be positive",
			domainerrors.ErrInvalidExecutionInput)
	}
	approvedAt := now.UTC()
	if proposal.ResolvedAt != nil {
		approvedAt = proposal.ResolvedAt.UTC()
	}
	return entities.ProposalExecution{
		ExecutionID: executionID,
		ProposalID:  proposal.ProposalID,
		Status:      entities.ExecutionStatusPending,
		ScheduledAt: approvedAt.Add(proposal.Rule.ExecutionDelay),
		MaxRetries:  maxRetries,
		Signatures:  []entities.ExecutionSignature{},
		Attempts:    []entities.ExecutionAttempt{},
		Version:     1,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// EvaluateExecutionClaim reports whether an attempt may start at now. A retry
// additionally requires at least one recorded failure.
func EvaluateExecutionClaim(
	execution entities.ProposalExecution,
	rule entities.RuleSnapshot,
	now time.Time,
	retry bool,
) error {
	if execution.Status != entities.ExecutionStatusPending {
		return fmt.Errorf("%w: execution is %s", domainerrors.ErrExecutionNotPending, execution.Status)
	}
	if execution.RetryCount >= execution.MaxRetries {
		return fmt.Errorf("%w: %d of %d attempts used",
			domainerrors.ErrRetryCeilingReached, execution.RetryCount, execution.MaxRetries)
	}
	if retry && execution.RetryCount == 0 {
		return domainerrors.ErrNothingToRetry
	}
	if now.Before(execution.ScheduledAt) {
		return fmt.Errorf("%w: scheduled at %s",
			domainerrors.ErrExecutionNotDue, execution.ScheduledAt.UTC().Format(time.RFC3339))
	}
	if rule.RequiresMultiSig && len(execution.Signatures) < rule.RequiredSignatures {
		return domainerrors.ErrInsufficientSignatures
	}
	if execution.InFlight(now) {
		return fmt.Errorf("%w: claimed by %s", domainerrors.ErrExecutionInProgress, execution.ClaimedBy)
	}
	return nil
}

// ClaimExecution marks an attempt in flight until now + lease.
func ClaimExecution(
	execution entities.ProposalExecution,
	executorID string,
	now time.Time,
	lease time.Duration,
) entities.ProposalExecution {
	expiresAt := now.UTC().Add(lease)
	execution.ClaimedBy = strings.TrimSpace(executorID)
	execution.ClaimExpiresAt = &expiresAt
	execution.UpdatedAt = now.UTC()
	execution.Version++
	return execution
}

// ExecutionOutcome is the result of recording one attempt.
type ExecutionOutcome struct {
	Execution      entities.ProposalExecution
	ProposalStatus entities.ProposalStatus
	Terminal       bool
}

// RecordExecutionAttempt applies a sink receipt to a claimed execution.
// Success completes the execution and executes the proposal. A failure
// consumes one attempt; the last allowed failure fails both records.
func RecordExecutionAttempt(
	execution entities.ProposalExecution,
	executorID string,
	receipt entities.ExecutionReceipt,
	startedAt time.Time,
	finishedAt time.Time,
) ExecutionOutcome {
	finishedAt = finishedAt.UTC()
	attempt := entities.ExecutionAttempt{
		AttemptNumber: len(execution.Attempts) + 1,
		ExecutorID:    strings.TrimSpace(executorID),
		Succeeded:     receipt.Success,
		ErrorMessage:  strings.TrimSpace(receipt.ErrorMessage),
		GasUsed:       receipt.GasUsed,
		Cost:          receipt.Cost,
		StartedAt:     startedAt.UTC(),
		FinishedAt:    finishedAt,
	}
	execution.Attempts = append(append([]entities.ExecutionAttempt{}, execution.Attempts...), attempt)
	execution.ExecutorID = attempt.ExecutorID
	execution.ClaimedBy = ""
	execution.ClaimExpiresAt = nil
	execution.UpdatedAt = finishedAt
	execution.Version++

	if receipt.Success {
		gasUsed := receipt.GasUsed
		cost := receipt.Cost
		execution.Status = entities.ExecutionStatusCompleted
		execution.ExecutedAt = &finishedAt
		execution.GasUsed = &gasUsed
		execution.ExecutionCost = &cost
		execution.ErrorMessage = ""
		return ExecutionOutcome{
			Execution:      execution,
			ProposalStatus: entities.ProposalStatusExecuted,
			Terminal:       true,
		}
	}

	execution.RetryCount++
	execution.ErrorMessage = attempt.ErrorMessage
	if execution.ErrorMessage == "" {
		execution.ErrorMessage = domainerrors.ErrExecutionFailed.Error()
	}
	if execution.RetryCount >= execution.MaxRetries {
		execution.RetryCount = execution.MaxRetries
		execution.Status = entities.ExecutionStatusFailed
		return ExecutionOutcome{
			Execution:      execution,
			ProposalStatus: entities.ProposalStatusFailed,
			Terminal:       true,
		}
	}
	return ExecutionOutcome{
		Execution:      execution,
		ProposalStatus: entities.ProposalStatusApproved,
	}
}

// AddSignature appends signerID to a pending multi-sig execution.
func AddSignature(
	execution entities.ProposalExecution,
	rule entities.RuleSnapshot,
	signerID string,
	now time.Time,
) (entities.ProposalExecution, error) {
	signerID = strings.TrimSpace(signerID)
	if signerID == "" {
		return entities.ProposalExecution{}, fmt.Errorf("%w: signer is required", domainerrors.ErrInvalidExecutionInput)
	}
	if !rule.RequiresMultiSig {
		return entities.ProposalExecution{}, domainerrors.ErrMultiSigNotRequired
	}
	if execution.Status != entities.ExecutionStatusPending {
		return entities.ProposalExecution{}, fmt.Errorf("%w: execution is %s",
			domainerrors.ErrExecutionNotPending, execution.Status)
	}
	if execution.HasSigned(signerID) {
		return entities.ProposalExecution{}, domainerrors.ErrDuplicateSignature
	}
	execution.Signatures = append(append([]entities.ExecutionSignature{}, execution.Signatures...),
		entities.ExecutionSignature{SignerID: signerID, SignedAt: now.UTC()})
	execution.UpdatedAt = now.UTC()
	execution.Version++
	return execution, nil
}

package workers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/commands"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/ports"
)

const defaultExecutorID = "governance-executor"

type ExecutionRunner interface {
	Execute(ctx context.Context, cmd commands.ExecuteCommand) (commands.ExecutionResult, error)
}

// ExecutionJob makes one attempt per due pending execution per cycle. It
// never loops on a failure; the next cycle picks the execution up again
// while retries remain.
type ExecutionJob struct {
	Executions ports.ExecutionRepository
	Runner     ExecutionRunner
	Clock      ports.Clock
	ExecutorID string
	BatchSize  int
	Disabled   bool
	Logger     *slog.Logger
}

func (j ExecutionJob) RunOnce(ctx context.Context) error {
	if j.Disabled {
		return nil
	}
	logger := application.ResolveLogger(j.Logger)
	now := time.Now().UTC()
	if j.Clock != nil {
		now = j.Clock.Now().UTC()
	}
	executorID := strings.TrimSpace(j.ExecutorID)
	if executorID == "" {
		executorID = defaultExecutorID
	}
	due, err := j.Executions.ListDueExecutions(ctx, now, resolveBatchSize(j.BatchSize))
	if err != nil {
		logger.Error("execution job list failed",
			"event", "governance_execution_job_list_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	var succeeded, failed, skipped int
	for _, execution := range due {
		_, err := j.Runner.Execute(ctx, commands.ExecuteCommand{
			ProposalID: execution.ProposalID,
			ExecutorID: executorID,
		})
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domainerrors.ErrExecutionFailed):
			failed++
		case errors.Is(err, domainerrors.ErrConflict), errors.Is(err, domainerrors.ErrAuthorization):
			// Claimed elsewhere, awaiting signatures, or no longer pending.
			skipped++
		default:
			logger.Error("execution job attempt errored",
				"event", "governance_execution_job_attempt_errored",
				"module", application.ModuleName,
				"layer", "worker",
				"proposal_id", execution.ProposalID,
				"error", err.Error(),
			)
			return err
		}
	}
	if len(due) > 0 {
		logger.Info("execution job cycle completed",
			"event", "governance_execution_job_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"due_count", len(due),
			"succeeded", succeeded,
			"failed", failed,
			"skipped", skipped,
		)
	}
	return nil
}

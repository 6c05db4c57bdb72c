package workers

import (
	"context"
	"errors"
	"log/slog"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/ports"
)

// ApprovalBackfill schedules approved proposals that have no execution yet.
// It catches approvals whose event was lost or exhausted its redeliveries.
type ApprovalBackfill struct {
	Proposals  ports.ProposalRepository
	Executions ports.ExecutionRepository
	Scheduler  ExecutionScheduler
	BatchSize  int
	Disabled   bool
	Logger     *slog.Logger
}

// RunOnce scans the newest approved proposals. Per-proposal failures are
// logged and skipped.
func (b ApprovalBackfill) RunOnce(ctx context.Context) error {
	if b.Disabled {
		return nil
	}
	logger := application.ResolveLogger(b.Logger)
	approved, err := b.Proposals.ListProposals(ctx, entities.ProposalFilter{
		Status: entities.ProposalStatusApproved,
		Limit:  resolveBatchSize(b.BatchSize),
	})
	if err != nil {
		logger.Error("approval backfill list failed",
			"event", "governance_approval_backfill_list_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	scheduled := 0
	for _, proposal := range approved {
		_, err := b.Executions.GetExecutionByProposal(ctx, proposal.ProposalID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domainerrors.ErrExecutionNotFound) {
			logger.Warn("approval backfill lookup failed",
				"event", "governance_approval_backfill_lookup_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"proposal_id", proposal.ProposalID,
				"error", err.Error(),
			)
			if ctx.Err() != nil {
				return err
			}
			continue
		}

		_, err = b.Scheduler.Schedule(ctx, commands.ScheduleExecutionCommand{ProposalID: proposal.ProposalID})
		switch {
		case err == nil:
			scheduled++
		case errors.Is(err, domainerrors.ErrExecutionAlreadyScheduled):
		default:
			logger.Warn("approval backfill schedule failed",
				"event", "governance_approval_backfill_schedule_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"proposal_id", proposal.ProposalID,
				"error", err.Error(),
			)
			if errors.Is(err, domainerrors.ErrUnavailable) || ctx.Err() != nil {
				return err
			}
		}
	}
	if scheduled > 0 {
		logger.Info("approval backfill scheduled missing executions",
			"event", "governance_approval_backfill_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"approved_count", len(approved),
			"scheduled_count", scheduled,
		)
	}
	return nil
}

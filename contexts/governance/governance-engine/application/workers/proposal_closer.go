package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/commands"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/ports"
)

type ProposalResolver interface {
	CloseProposal(ctx context.Context, cmd commands.CloseProposalCommand) (commands.CloseProposalResult, error)
}

// ProposalCloser resolves active proposals whose voting window has passed.
// It shares CloseProposal with explicit requests, which makes the race
// between them harmless.
type ProposalCloser struct {
	Proposals ports.ProposalRepository
	Resolver  ProposalResolver
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce closes one batch. A failure on one proposal is logged and the
// sweep moves on; unavailable collaborators end the cycle early.
func (w ProposalCloser) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(w.Logger)
	now := time.Now().UTC()
	if w.Clock != nil {
		now = w.Clock.Now().UTC()
	}
	due, err := w.Proposals.ListProposalsDueForClose(ctx, now, resolveBatchSize(w.BatchSize))
	if err != nil {
		logger.Error("proposal close sweep list failed",
			"event", "governance_close_sweep_list_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	closed := 0
	for _, proposal := range due {
		result, err := w.Resolver.CloseProposal(ctx, commands.CloseProposalCommand{ProposalID: proposal.ProposalID})
		if err != nil {
			logger.Warn("proposal close sweep item failed",
				"event", "governance_close_sweep_item_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"proposal_id", proposal.ProposalID,
				"error", err.Error(),
			)
			if errors.Is(err, domainerrors.ErrUnavailable) || ctx.Err() != nil {
				return err
			}
			continue
		}
		if !result.AlreadyResolved {
			closed++
		}
	}
	if len(due) > 0 {
		logger.Info("proposal close sweep completed",
			"event", "governance_close_sweep_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"due_count", len(due),
			"closed_count", closed,
		)
	}
	return nil
}

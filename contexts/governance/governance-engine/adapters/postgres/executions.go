package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r repositories) InsertExecution(ctx context.Context, execution entities.ProposalExecution) error {
	row := executionModelFromEntity(execution)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrExecutionAlreadyScheduled
		}
		return r.logError("governance_repo_insert_execution_failed", err,
			"execution_id", row.ID,
			"proposal_id", row.ProposalID,
		)
	}
	return r.saveExecutionChildren(ctx, execution)
}

// UpdateExecution rewrites the execution row and appends any signatures or
// attempts not stored yet. Both child sets are append-only.
func (r repositories) UpdateExecution(ctx context.Context, execution entities.ProposalExecution) error {
	row := executionModelFromEntity(execution)
	result := r.db.WithContext(ctx).
		Model(&executionModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"status":           row.Status,
			"scheduled_at":     row.ScheduledAt,
			"executed_at":      row.ExecutedAt,
			"executor_id":      row.ExecutorID,
			"retry_count":      row.RetryCount,
			"max_retries":      row.MaxRetries,
			"error_message":    row.ErrorMessage,
			"gas_used":         row.GasUsed,
			"execution_cost":   row.ExecutionCost,
			"claimed_by":       row.ClaimedBy,
			"claim_expires_at": row.ClaimExpiresAt,
			"version":          row.Version,
			"updated_at":       row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("governance_repo_update_execution_failed", result.Error,
			"execution_id", row.ID,
			"proposal_id", row.ProposalID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrExecutionNotFound
	}
	return r.saveExecutionChildren(ctx, execution)
}

func (r repositories) saveExecutionChildren(ctx context.Context, execution entities.ProposalExecution) error {
	executionID := strings.TrimSpace(execution.ExecutionID)
	if len(execution.Signatures) > 0 {
		signatures := make([]signatureModel, 0, len(execution.Signatures))
		for _, signature := range execution.Signatures {
			signatures = append(signatures, signatureModel{
				ExecutionID: executionID,
				SignerID:    strings.TrimSpace(signature.SignerID),
				SignedAt:    signature.SignedAt.UTC(),
			})
		}
		if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}, {Name: "signer_id"}},
			DoNothing: true,
		}).Create(&signatures).Error; err != nil {
			return r.logError("governance_repo_save_signatures_failed", err, "execution_id", executionID)
		}
	}
	if len(execution.Attempts) > 0 {
		attempts := make([]attemptModel, 0, len(execution.Attempts))
		for _, attempt := range execution.Attempts {
			attempts = append(attempts, attemptModel{
				ExecutionID:   executionID,
				AttemptNumber: attempt.AttemptNumber,
				ExecutorID:    strings.TrimSpace(attempt.ExecutorID),
				Succeeded:     attempt.Succeeded,
				ErrorMessage:  attempt.ErrorMessage,
				GasUsed:       int64(attempt.GasUsed),
				Cost:          attempt.Cost,
				StartedAt:     attempt.StartedAt.UTC(),
				FinishedAt:    attempt.FinishedAt.UTC(),
			})
		}
		if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}, {Name: "attempt_number"}},
			DoNothing: true,
		}).Create(&attempts).Error; err != nil {
			return r.logError("governance_repo_save_attempts_failed", err, "execution_id", executionID)
		}
	}
	return nil
}

func (r repositories) GetExecutionByProposal(ctx context.Context, proposalID string) (entities.ProposalExecution, error) {
	return r.getExecution(ctx, r.db.WithContext(ctx), proposalID)
}

func (r repositories) GetExecutionByProposalForUpdate(
	ctx context.Context,
	proposalID string,
) (entities.ProposalExecution, error) {
	return r.getExecution(ctx, r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), proposalID)
}

func (r repositories) getExecution(
	ctx context.Context,
	tx *gorm.DB,
	proposalID string,
) (entities.ProposalExecution, error) {
	var row executionModel
	err := tx.Where("proposal_id = ?", strings.TrimSpace(proposalID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ProposalExecution{}, domainerrors.ErrExecutionNotFound
		}
		return entities.ProposalExecution{}, r.logError("governance_repo_get_execution_failed", err,
			"proposal_id", strings.TrimSpace(proposalID),
		)
	}
	items, err := r.hydrateExecutions(ctx, []executionModel{row})
	if err != nil {
		return entities.ProposalExecution{}, err
	}
	return items[0], nil
}

func (r repositories) ListExecutions(
	ctx context.Context,
	filter entities.ExecutionFilter,
) ([]entities.ProposalExecution, error) {
	tx := r.db.WithContext(ctx).Model(&executionModel{})
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var rows []executionModel
	if err := tx.Order("scheduled_at ASC").Order("proposal_id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_executions_failed", err, "status", string(filter.Status))
	}
	return r.hydrateExecutions(ctx, rows)
}

// ListDueExecutions skips executions whose attempt lease has not expired.
func (r repositories) ListDueExecutions(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]entities.ProposalExecution, error) {
	tx := r.db.WithContext(ctx).
		Where("status = ?", string(entities.ExecutionStatusPending)).
		Where("scheduled_at <= ?", now.UTC()).
		Where("claim_expires_at IS NULL OR claim_expires_at <= ?", now.UTC())
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []executionModel
	if err := tx.Order("scheduled_at ASC").Order("proposal_id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_due_executions_failed", err, "limit", limit)
	}
	return r.hydrateExecutions(ctx, rows)
}

func (r repositories) hydrateExecutions(
	ctx context.Context,
	rows []executionModel,
) ([]entities.ProposalExecution, error) {
	items := make([]entities.ProposalExecution, 0, len(rows))
	if len(rows) == 0 {
		return items, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var signatures []signatureModel
	if err := r.db.WithContext(ctx).
		Where("execution_id IN ?", ids).
		Order("signed_at ASC").
		Order("signer_id ASC").
		Find(&signatures).Error; err != nil {
		return nil, r.logError("governance_repo_load_signatures_failed", err, "executions", len(ids))
	}
	var attempts []attemptModel
	if err := r.db.WithContext(ctx).
		Where("execution_id IN ?", ids).
		Order("attempt_number ASC").
		Find(&attempts).Error; err != nil {
		return nil, r.logError("governance_repo_load_attempts_failed", err, "executions", len(ids))
	}

	signaturesByExecution := make(map[string][]signatureModel, len(rows))
	for _, signature := range signatures {
		signaturesByExecution[signature.ExecutionID] = append(signaturesByExecution[signature.ExecutionID], signature)
	}
	attemptsByExecution := make(map[string][]attemptModel, len(rows))
	for _, attempt := range attempts {
		attemptsByExecution[attempt.ExecutionID] = append(attemptsByExecution[attempt.ExecutionID], attempt)
	}
	for _, row := range rows {
		items = append(items, row.toEntity(signaturesByExecution[row.ID], attemptsByExecution[row.ID]))
	}
	return items, nil
}

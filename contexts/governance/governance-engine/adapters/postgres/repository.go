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

func (r repositories) LockRuleType(ctx context.Context, proposalType entities.ProposalType) error {
	return r.advisoryLock(ctx, "governance_repo_lock_rule_type_failed", "governance_rule_type:"+string(proposalType))
}

func (r repositories) CreateRule(ctx context.Context, rule entities.GovernanceRule) error {
	row := ruleModelFromEntity(rule)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrActiveRuleExists
		}
		return r.logError("governance_repo_create_rule_failed", err,
			"rule_id", row.ID,
			"proposal_type", row.ProposalType,
		)
	}
	return nil
}

func (r repositories) UpdateRule(ctx context.Context, rule entities.GovernanceRule) error {
	row := ruleModelFromEntity(rule)
	result := r.db.WithContext(ctx).
		Model(&ruleModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"version":                    row.Version,
			"minimum_quorum_percent":     row.MinimumQuorumPercent,
			"approval_threshold_percent": row.ApprovalThresholdPercent,
			"voting_period_seconds":      row.VotingPeriodSeconds,
			"execution_delay_seconds":    row.ExecutionDelaySeconds,
			"requires_multi_sig":         row.RequiresMultiSig,
			"required_signatures":        row.RequiredSignatures,
			"allow_delegation":           row.AllowDelegation,
			"allow_zero_power_votes":     row.AllowZeroPowerVotes,
			"minimum_tokens_to_propose":  row.MinimumTokensToPropose,
			"proposal_deposit":           row.ProposalDeposit,
			"is_active":                  row.IsActive,
			"updated_at":                 row.UpdatedAt,
			"deactivated_at":             row.DeactivatedAt,
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return domainerrors.ErrActiveRuleExists
		}
		return r.logError("governance_repo_update_rule_failed", result.Error, "rule_id", row.ID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrRuleNotFound
	}
	return nil
}

func (r repositories) GetRule(ctx context.Context, ruleID string) (entities.GovernanceRule, error) {
	return r.getRule(r.db.WithContext(ctx), ruleID)
}

func (r repositories) GetRuleForUpdate(ctx context.Context, ruleID string) (entities.GovernanceRule, error) {
	return r.getRule(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), ruleID)
}

func (r repositories) getRule(tx *gorm.DB, ruleID string) (entities.GovernanceRule, error) {
	var row ruleModel
	err := tx.Where("id = ?", strings.TrimSpace(ruleID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.GovernanceRule{}, domainerrors.ErrRuleNotFound
		}
		return entities.GovernanceRule{}, r.logError("governance_repo_get_rule_failed", err,
			"rule_id", strings.TrimSpace(ruleID),
		)
	}
	return row.toEntity(), nil
}

func (r repositories) GetActiveRuleByType(
	ctx context.Context,
	proposalType entities.ProposalType,
) (entities.GovernanceRule, bool, error) {
	var row ruleModel
	err := r.db.WithContext(ctx).
		Where("proposal_type = ?", string(proposalType)).
		Where("is_active = ?", true).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.GovernanceRule{}, false, nil
		}
		return entities.GovernanceRule{}, false, r.logError("governance_repo_get_active_rule_failed", err,
			"proposal_type", string(proposalType),
		)
	}
	return row.toEntity(), true, nil
}

func (r repositories) ListRules(ctx context.Context, includeInactive bool) ([]entities.GovernanceRule, error) {
	tx := r.db.WithContext(ctx).Model(&ruleModel{})
	if !includeInactive {
		tx = tx.Where("is_active = ?", true)
	}
	var rows []ruleModel
	if err := tx.Order("proposal_type ASC").Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_rules_failed", err)
	}
	items := make([]entities.GovernanceRule, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r repositories) CreateProposal(ctx context.Context, proposal entities.Proposal) error {
	row, err := proposalModelFromEntity(proposal)
	if err != nil {
		return r.logError("governance_repo_create_proposal_encode_failed", err, "proposal_id", proposal.ProposalID)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("governance_repo_create_proposal_failed", err, "proposal_id", row.ID)
	}
	return nil
}

func (r repositories) UpdateProposal(ctx context.Context, proposal entities.Proposal) error {
	row, err := proposalModelFromEntity(proposal)
	if err != nil {
		return r.logError("governance_repo_update_proposal_encode_failed", err, "proposal_id", proposal.ProposalID)
	}
	result := r.db.WithContext(ctx).
		Model(&proposalModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"title":            row.Title,
			"description":      row.Description,
			"payload":          row.Payload,
			"status":           row.Status,
			"rule_snapshot":    row.RuleSnapshot,
			"deposit_amount":   row.DepositAmount,
			"voting_opens_at":  row.VotingOpensAt,
			"voting_closes_at": row.VotingClosesAt,
			"resolved_at":      row.ResolvedAt,
			"cancelled_at":     row.CancelledAt,
			"executed_at":      row.ExecutedAt,
			"final_tally":      row.FinalTally,
			"version":          row.Version,
			"updated_at":       row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("governance_repo_update_proposal_failed", result.Error, "proposal_id", row.ID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrProposalNotFound
	}
	return nil
}

func (r repositories) GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error) {
	return r.getProposal(r.db.WithContext(ctx), proposalID)
}

func (r repositories) GetProposalForUpdate(ctx context.Context, proposalID string) (entities.Proposal, error) {
	return r.getProposal(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), proposalID)
}

func (r repositories) GetProposalForShare(ctx context.Context, proposalID string) (entities.Proposal, error) {
	return r.getProposal(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "SHARE"}), proposalID)
}

func (r repositories) getProposal(tx *gorm.DB, proposalID string) (entities.Proposal, error) {
	var row proposalModel
	err := tx.Where("id = ?", strings.TrimSpace(proposalID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Proposal{}, domainerrors.ErrProposalNotFound
		}
		return entities.Proposal{}, r.logError("governance_repo_get_proposal_failed", err,
			"proposal_id", strings.TrimSpace(proposalID),
		)
	}
	proposal, err := row.toEntity()
	if err != nil {
		return entities.Proposal{}, r.logError("governance_repo_decode_proposal_failed", err, "proposal_id", row.ID)
	}
	return proposal, nil
}

func (r repositories) ListProposals(ctx context.Context, filter entities.ProposalFilter) ([]entities.Proposal, error) {
	tx := r.db.WithContext(ctx).Model(&proposalModel{})
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.ProposalType != "" {
		tx = tx.Where("proposal_type = ?", string(filter.ProposalType))
	}
	if creator := strings.TrimSpace(filter.CreatorID); creator != "" {
		tx = tx.Where("creator_id = ?", creator)
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var rows []proposalModel
	if err := tx.Order("created_at DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_proposals_failed", err,
			"status", string(filter.Status),
			"proposal_type", string(filter.ProposalType),
		)
	}
	return r.toProposals(rows)
}

func (r repositories) ListProposalsDueForClose(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]entities.Proposal, error) {
	tx := r.db.WithContext(ctx).
		Where("status = ?", string(entities.ProposalStatusActive)).
		Where("voting_closes_at <= ?", now.UTC())
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []proposalModel
	if err := tx.Order("voting_closes_at ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_due_proposals_failed", err, "limit", limit)
	}
	return r.toProposals(rows)
}

func (r repositories) CountProposalsByStatus(ctx context.Context) (map[entities.ProposalStatus]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	if err := r.db.WithContext(ctx).
		Model(&proposalModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_count_proposals_failed", err)
	}
	counts := make(map[entities.ProposalStatus]int, len(rows))
	for _, row := range rows {
		counts[entities.ProposalStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (r repositories) toProposals(rows []proposalModel) ([]entities.Proposal, error) {
	items := make([]entities.Proposal, 0, len(rows))
	for _, row := range rows {
		proposal, err := row.toEntity()
		if err != nil {
			return nil, r.logError("governance_repo_decode_proposal_failed", err, "proposal_id", row.ID)
		}
		items = append(items, proposal)
	}
	return items, nil
}

func (r repositories) InsertVote(ctx context.Context, vote entities.Vote) error {
	row := voteModelFromEntity(vote)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateVote
		}
		return r.logError("governance_repo_insert_vote_failed", err,
			"proposal_id", row.ProposalID,
			"voter_id", row.VoterID,
		)
	}
	return nil
}

func (r repositories) GetVote(ctx context.Context, proposalID string, voterID string) (entities.Vote, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", strings.TrimSpace(proposalID)).
		Where("voter_id = ?", strings.TrimSpace(voterID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, domainerrors.ErrVoteNotFound
		}
		return entities.Vote{}, r.logError("governance_repo_get_vote_failed", err,
			"proposal_id", strings.TrimSpace(proposalID),
			"voter_id", strings.TrimSpace(voterID),
		)
	}
	return row.toEntity(), nil
}

func (r repositories) GetVoteByID(ctx context.Context, voteID string) (entities.Vote, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(voteID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, domainerrors.ErrVoteNotFound
		}
		return entities.Vote{}, r.logError("governance_repo_get_vote_by_id_failed", err,
			"vote_id", strings.TrimSpace(voteID),
		)
	}
	return row.toEntity(), nil
}

func (r repositories) ListVotes(ctx context.Context, proposalID string) ([]entities.Vote, error) {
	var rows []voteModel
	if err := r.db.WithContext(ctx).
		Where("proposal_id = ?", strings.TrimSpace(proposalID)).
		Order("cast_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_votes_failed", err,
			"proposal_id", strings.TrimSpace(proposalID),
		)
	}
	items := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r repositories) LockDelegator(ctx context.Context, delegatorID string) error {
	return r.advisoryLock(ctx, "governance_repo_lock_delegator_failed",
		"governance_delegator:"+strings.TrimSpace(delegatorID))
}

func (r repositories) InsertDelegation(ctx context.Context, delegation entities.VotingDelegation) error {
	row := delegationModelFromEntity(delegation)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("governance_repo_insert_delegation_failed", err,
			"delegation_id", row.ID,
			"delegator_id", row.DelegatorID,
		)
	}
	return nil
}

func (r repositories) UpdateDelegation(ctx context.Context, delegation entities.VotingDelegation) error {
	row := delegationModelFromEntity(delegation)
	result := r.db.WithContext(ctx).
		Model(&delegationModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"is_active":     row.IsActive,
			"revoked_at":    row.RevokedAt,
			"revoke_reason": row.RevokeReason,
		})
	if result.Error != nil {
		return r.logError("governance_repo_update_delegation_failed", result.Error, "delegation_id", row.ID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrDelegationNotFound
	}
	return nil
}

func (r repositories) GetDelegation(ctx context.Context, delegationID string) (entities.VotingDelegation, error) {
	return r.getDelegation(r.db.WithContext(ctx), delegationID)
}

func (r repositories) GetDelegationForUpdate(
	ctx context.Context,
	delegationID string,
) (entities.VotingDelegation, error) {
	return r.getDelegation(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), delegationID)
}

func (r repositories) getDelegation(tx *gorm.DB, delegationID string) (entities.VotingDelegation, error) {
	var row delegationModel
	err := tx.Where("id = ?", strings.TrimSpace(delegationID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.VotingDelegation{}, domainerrors.ErrDelegationNotFound
		}
		return entities.VotingDelegation{}, r.logError("governance_repo_get_delegation_failed", err,
			"delegation_id", strings.TrimSpace(delegationID),
		)
	}
	return row.toEntity(), nil
}

func (r repositories) ListDelegations(
	ctx context.Context,
	filter entities.DelegationFilter,
) ([]entities.VotingDelegation, error) {
	tx := r.db.WithContext(ctx).Model(&delegationModel{})
	if !filter.IncludeInactive {
		tx = tx.Where("is_active = ?", true)
	}
	if id := strings.TrimSpace(filter.DelegatorID); id != "" {
		tx = tx.Where("delegator_id = ?", id)
	}
	if id := strings.TrimSpace(filter.DelegateID); id != "" {
		tx = tx.Where("delegate_id = ?", id)
	}
	var rows []delegationModel
	if err := tx.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_delegations_failed", err,
			"delegator_id", strings.TrimSpace(filter.DelegatorID),
			"delegate_id", strings.TrimSpace(filter.DelegateID),
		)
	}
	items := make([]entities.VotingDelegation, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

package directory

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
	"agora/contexts/governance/governance-engine/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Projection reads stake and role projections maintained by upstream ledger
// and membership services. Participants missing from the stake projection
// have zero power.
type Projection struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewProjection(db *gorm.DB, logger *slog.Logger) *Projection {
	return &Projection{
		db:     db,
		logger: application.ResolveLogger(logger),
	}
}

type stakeModel struct {
	ParticipantID string          `gorm:"column:participant_id;primaryKey"`
	VotingPower   decimal.Decimal `gorm:"column:voting_power"`
	TokenBalance  decimal.Decimal `gorm:"column:token_balance"`
	Suspended     bool            `gorm:"column:suspended"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (stakeModel) TableName() string {
	return "governance_stake_projection"
}

type signerModel struct {
	SignerID string `gorm:"column:signer_id;primaryKey"`
	Active   bool   `gorm:"column:active"`
}

func (signerModel) TableName() string {
	return "governance_execution_signers"
}

type ruleAdminModel struct {
	ActorID string `gorm:"column:actor_id;primaryKey"`
}

func (ruleAdminModel) TableName() string {
	return "governance_rule_admins"
}

func (p *Projection) GetBaseVotingPower(ctx context.Context, participantID string) (decimal.Decimal, error) {
	row, found, err := p.stake(ctx, participantID)
	if err != nil || !found {
		return decimal.Zero, err
	}
	return row.VotingPower, nil
}

func (p *Projection) GetTokenBalance(ctx context.Context, participantID string) (decimal.Decimal, error) {
	row, found, err := p.stake(ctx, participantID)
	if err != nil || !found {
		return decimal.Zero, err
	}
	return row.TokenBalance, nil
}

func (p *Projection) GetTotalEligiblePower(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := p.db.WithContext(ctx).
		Model(&stakeModel{}).
		Select("COALESCE(SUM(voting_power), 0)").
		Where("voting_power > 0").
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, p.unavailable("governance_directory_total_power_failed", err)
	}
	return total, nil
}

func (p *Projection) ListParticipants(ctx context.Context) ([]string, error) {
	var ids []string
	err := p.db.WithContext(ctx).
		Model(&stakeModel{}).
		Where("voting_power > 0").
		Order("participant_id ASC").
		Pluck("participant_id", &ids).
		Error
	if err != nil {
		return nil, p.unavailable("governance_directory_list_participants_failed", err)
	}
	return ids, nil
}

func (p *Projection) stake(ctx context.Context, participantID string) (stakeModel, bool, error) {
	var row stakeModel
	err := p.db.WithContext(ctx).
		Where("participant_id = ?", strings.TrimSpace(participantID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return stakeModel{}, false, nil
		}
		return stakeModel{}, false, p.unavailable("governance_directory_get_stake_failed", err,
			"participant_id", strings.TrimSpace(participantID),
		)
	}
	return row, true, nil
}

// CanPropose and CanVote deny suspended participants only; stake thresholds
// are enforced by the use cases.
func (p *Projection) CanPropose(ctx context.Context, participantID string, _ entities.ProposalType) (bool, error) {
	return p.notSuspended(ctx, participantID)
}

func (p *Projection) CanVote(ctx context.Context, participantID string, _ string) (bool, error) {
	return p.notSuspended(ctx, participantID)
}

func (p *Projection) CanSignExecution(ctx context.Context, signerID string, _ string) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Model(&signerModel{}).
		Where("signer_id = ?", strings.TrimSpace(signerID)).
		Where("active = ?", true).
		Count(&count).
		Error
	if err != nil {
		if isUndefinedTable(err) {
			// No signer roster deployed: nobody may sign.
			return false, nil
		}
		return false, p.unavailable("governance_policy_signer_lookup_failed", err,
			"signer_id", strings.TrimSpace(signerID),
		)
	}
	return count > 0, nil
}

func (p *Projection) CanManageRules(ctx context.Context, actorID string) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Model(&ruleAdminModel{}).
		Where("actor_id = ?", strings.TrimSpace(actorID)).
		Count(&count).
		Error
	if err != nil {
		if isUndefinedTable(err) {
			return false, nil
		}
		return false, p.unavailable("governance_policy_rule_admin_lookup_failed", err,
			"actor_id", strings.TrimSpace(actorID),
		)
	}
	return count > 0, nil
}

func (p *Projection) notSuspended(ctx context.Context, participantID string) (bool, error) {
	row, found, err := p.stake(ctx, participantID)
	if err != nil {
		return false, err
	}
	return !found || !row.Suspended, nil
}

func (p *Projection) unavailable(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.ModuleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	p.logger.Error("governance projection lookup failed", fields...)
	return fmt.Errorf("%w: %v", domainerrors.ErrDependencyUnavailable, err)
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

var _ ports.AccountDirectory = (*Projection)(nil)
var _ ports.AuthorizationPolicy = (*Projection)(nil)

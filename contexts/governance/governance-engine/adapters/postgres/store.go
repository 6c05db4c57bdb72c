package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Store is the Postgres unit of work. Repositories handed to
// WithinTransaction are bound to the open transaction; Reader repositories run
// each statement on its own.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates the tables owned by the governance engine.
// Projection tables are owned by upstream services and are left alone.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&ruleModel{},
		&proposalModel{},
		&voteModel{},
		&delegationModel{},
		&executionModel{},
		&signatureModel{},
		&attemptModel{},
		&idempotencyModel{},
		&outboxModel{},
		&eventDedupModel{},
	)
	if err != nil {
		return s.repositories(s.db).logError("governance_repo_migrate_failed", err)
	}
	return nil
}

func (s *Store) WithinTransaction(
	ctx context.Context,
	fn func(ctx context.Context, repos ports.Repositories) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, s.repositories(tx).bundle())
	})
}

func (s *Store) Reader() ports.Repositories {
	return s.repositories(s.db).bundle()
}

func (s *Store) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	return s.repositories(s.db).AppendOutbox(ctx, envelope)
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxRecord, error) {
	return s.repositories(s.db).ListPendingOutbox(ctx, limit)
}

func (s *Store) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	return s.repositories(s.db).MarkOutboxPublished(ctx, outboxID, publishedAt)
}

func (s *Store) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	return s.repositories(s.db).ReserveEvent(ctx, eventID, payloadHash, expiresAt)
}

func (s *Store) ReleaseEvent(ctx context.Context, eventID string) error {
	return s.repositories(s.db).ReleaseEvent(ctx, eventID)
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) repositories(db *gorm.DB) repositories {
	return repositories{db: db, logger: s.logger}
}

type repositories struct {
	db     *gorm.DB
	logger *slog.Logger
}

func (r repositories) bundle() ports.Repositories {
	return ports.Repositories{
		Rules:       r,
		Proposals:   r,
		Votes:       r,
		Delegations: r,
		Executions:  r,
		Idempotency: r,
		Outbox:      r,
	}
}

// advisoryLock takes a transaction-scoped lock on key. Outside a transaction
// it is released as soon as the statement finishes.
func (r repositories) advisoryLock(ctx context.Context, event string, key string) error {
	if err := r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return r.logError(event, err, "lock_key", key)
	}
	return nil
}

func (r repositories) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.ModuleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("governance repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.Store = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.EventDedupStore = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
var _ ports.RuleRepository = repositories{}
var _ ports.ProposalRepository = repositories{}
var _ ports.VoteRepository = repositories{}
var _ ports.DelegationRepository = repositories{}
var _ ports.ExecutionRepository = repositories{}
var _ ports.IdempotencyStore = repositories{}
var _ ports.OutboxWriter = repositories{}

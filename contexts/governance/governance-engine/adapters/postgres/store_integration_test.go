//go:build integration

package postgresadapter

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Run with GOVERNANCE_TEST_POSTGRES_DSN pointing at a disposable database:
//
//	go test -tags integration ./contexts/governance/governance-engine/adapters/postgres/
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GOVERNANCE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOVERNANCE_TEST_POSTGRES_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := NewStore(db, nil)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return store
}

func TestIntegrationInsertVoteMapsUniqueViolation(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()
	vote := entities.Vote{
		VoteID:            uuid.NewString(),
		ProposalID:        uuid.NewString(),
		VoterID:           "voter-" + uuid.NewString(),
		Choice:            entities.VoteChoiceFor,
		VotingPowerAtCast: decimal.NewFromInt(100),
		BasePowerAtCast:   decimal.NewFromInt(100),
		ReceivedAtCast:    decimal.Zero,
		CastAt:            time.Now().UTC(),
	}
	if err := store.Reader().Votes.InsertVote(ctx, vote); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	again := vote
	again.VoteID = uuid.NewString()
	again.Choice = entities.VoteChoiceAgainst
	if err := store.Reader().Votes.InsertVote(ctx, again); !errors.Is(err, domainerrors.ErrDuplicateVote) {
		t.Fatalf("expected duplicate vote, got %v", err)
	}

	stored, err := store.Reader().Votes.GetVote(ctx, vote.ProposalID, vote.VoterID)
	if err != nil {
		t.Fatalf("get vote failed: %v", err)
	}
	if stored.VoteID != vote.VoteID || stored.Choice != entities.VoteChoiceFor {
		t.Fatalf("expected the first vote to survive, got %+v", stored)
	}
}

func TestIntegrationReleasedEventCanBeReserved(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()
	eventID := uuid.NewString()
	expiresAt := time.Now().UTC().Add(time.Hour)

	seen, err := store.ReserveEvent(ctx, eventID, "hash-a", expiresAt)
	if err != nil || seen {
		t.Fatalf("expected fresh reservation, got seen=%t err=%v", seen, err)
	}
	if seen, err = store.ReserveEvent(ctx, eventID, "hash-a", expiresAt); err != nil || !seen {
		t.Fatalf("expected replay, got seen=%t err=%v", seen, err)
	}
	if _, err := store.ReserveEvent(ctx, eventID, "hash-b", expiresAt); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected payload mismatch conflict, got %v", err)
	}

	if err := store.ReleaseEvent(ctx, eventID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if seen, err = store.ReserveEvent(ctx, eventID, "hash-a", expiresAt); err != nil || seen {
		t.Fatalf("expected reservation after release, got seen=%t err=%v", seen, err)
	}
}

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
	"agora/contexts/governance/governance-engine/ports"
)

const maxVoteReasonLength = 1000

// CastVoteCommand casts VoterID's vote. A repeated IdempotencyKey replays
// the first result.
type CastVoteCommand struct {
	VoterID        string
	ProposalID     string
	Choice         entities.VoteChoice
	Reason         string
	IdempotencyKey string
}

// CastVoteResult carries the stored vote; Replayed is set on an idempotent
// retry.
type CastVoteResult struct {
	Vote     entities.Vote
	Replayed bool
}

// VoteUseCase records votes with the voter's effective power frozen at cast
// time. The (proposal, voter) uniqueness guard lives in the store.
type VoteUseCase struct {
	Store          ports.Store
	Power          *application.PowerCalculator
	Policy         ports.AuthorizationPolicy
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Metrics        ports.Metrics
	Logger         *slog.Logger
}

// CastVote records one vote per voter per active proposal.
func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	voterID := strings.TrimSpace(cmd.VoterID)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	logger.Info("vote cast processing started",
		"event", "governance_vote_cast_started",
		"module", application.ModuleName,
		"layer", "application",
		"voter_id", voterID,
		"proposal_id", proposalID,
	)
	if voterID == "" || proposalID == "" || !cmd.Choice.Valid() {
		logger.Warn("vote cast validation failed",
			"event", "governance_vote_cast_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"voter_id", voterID,
			"proposal_id", proposalID,
			"choice", string(cmd.Choice),
		)
		return CastVoteResult{}, domainerrors.ErrInvalidVoteInput
	}
	if len(cmd.Reason) > maxVoteReasonLength {
		return CastVoteResult{}, fmt.Errorf("%w: reason exceeds %d characters",
			domainerrors.ErrInvalidVoteInput, maxVoteReasonLength)
	}

	now := resolveNow(uc.Clock)
	key := idempotencyScope("cast_vote", voterID, cmd.IdempotencyKey)
	requestHash := hashRequest(map[string]string{
		"op":          "cast_vote",
		"voter_id":    voterID,
		"proposal_id": proposalID,
		"choice":      string(cmd.Choice),
		"reason":      strings.TrimSpace(cmd.Reason),
	})
	reader := uc.Store.Reader()
	if voteID, found, err := replayedResource(ctx, reader.Idempotency, key, requestHash, now); err != nil {
		return CastVoteResult{}, err
	} else if found {
		vote, err := reader.Votes.GetVoteByID(ctx, voteID)
		if err != nil {
			return CastVoteResult{}, err
		}
		return CastVoteResult{Vote: vote, Replayed: true}, nil
	}

	proposal, err := reader.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if err := ensureVotable(proposal, now); err != nil {
		return CastVoteResult{}, err
	}
	if _, err := reader.Votes.GetVote(ctx, proposalID, voterID); err == nil {
		return CastVoteResult{}, domainerrors.ErrDuplicateVote
	} else if !errors.Is(err, domainerrors.ErrVoteNotFound) {
		return CastVoteResult{}, err
	}
	if err := uc.authorizeVoter(ctx, voterID, proposalID); err != nil {
		return CastVoteResult{}, err
	}
	power, err := uc.Power.VotingPower(ctx, reader, voterID, proposal.ProposalType, proposal.Rule.AllowDelegation)
	if err != nil {
		return CastVoteResult{}, err
	}
	if !power.Effective.IsPositive() && !proposal.Rule.AllowZeroPowerVotes {
		logger.Warn("vote rejected for zero voting power",
			"event", "governance_vote_cast_zero_power",
			"module", application.ModuleName,
			"layer", "application",
			"voter_id", voterID,
			"proposal_id", proposalID,
			"delegated_to", power.DelegatedTo,
		)
		return CastVoteResult{}, domainerrors.ErrNotAuthorized
	}
	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CastVoteResult{}, err
	}

	var (
		recorded entities.Vote
		replayed bool
	)
	err = uc.Store.WithinTransaction(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if existingID, found, err := replayedResource(ctx, repos.Idempotency, key, requestHash, now); err != nil {
			return err
		} else if found {
			vote, err := repos.Votes.GetVoteByID(ctx, existingID)
			if err != nil {
				return err
			}
			recorded = vote
			replayed = true
			return nil
		}
		locked, err := repos.Proposals.GetProposalForShare(ctx, proposalID)
		if err != nil {
			return err
		}
		castAt := resolveNow(uc.Clock)
		if err := ensureVotable(locked, castAt); err != nil {
			return err
		}
		vote := entities.Vote{
			VoteID:            voteID,
			ProposalID:        proposalID,
			VoterID:           voterID,
			Choice:            cmd.Choice,
			VotingPowerAtCast: power.Effective,
			BasePowerAtCast:   power.BasePower,
			ReceivedAtCast:    power.Received,
			Reason:            strings.TrimSpace(cmd.Reason),
			CastAt:            castAt,
		}
		if err := repos.Votes.InsertVote(ctx, vote); err != nil {
			return err
		}
		recorded = vote
		if err := appendEvent(ctx, repos.Outbox, uc.IDGen, EventVoteCast, partitionByProposal, proposalID, castAt,
			map[string]any{
				"vote_id":     vote.VoteID,
				"proposal_id": vote.ProposalID,
				"voter_id":    vote.VoterID,
				"choice":      string(vote.Choice),
				"power":       vote.VotingPowerAtCast.String(),
			}); err != nil {
			return err
		}
		return rememberResource(ctx, repos.Idempotency, key, requestHash, vote.VoteID,
			now.Add(resolveIdempotencyTTL(uc.IdempotencyTTL)))
	})
	if err != nil {
		logger.Warn("vote cast failed",
			"event", "governance_vote_cast_failed",
			"module", application.ModuleName,
			"layer", "application",
			"voter_id", voterID,
			"proposal_id", proposalID,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}
	if !replayed {
		application.ResolveMetrics(uc.Metrics).VoteCast(recorded.Choice)
	}
	logger.Info("vote cast",
		"event", "governance_vote_cast",
		"module", application.ModuleName,
		"layer", "application",
		"vote_id", recorded.VoteID,
		"proposal_id", recorded.ProposalID,
		"voter_id", recorded.VoterID,
		"choice", string(recorded.Choice),
		"power", recorded.VotingPowerAtCast.String(),
		"replayed", replayed,
	)
	return CastVoteResult{Vote: recorded, Replayed: replayed}, nil
}

func (uc VoteUseCase) authorizeVoter(ctx context.Context, voterID string, proposalID string) error {
	if uc.Policy == nil {
		return nil
	}
	allowed, err := uc.Policy.CanVote(ctx, voterID, proposalID)
	if err != nil {
		return policyError(err)
	}
	if !allowed {
		return domainerrors.ErrNotAuthorized
	}
	return nil
}

func ensureVotable(proposal entities.Proposal, now time.Time) error {
	if proposal.Status != entities.ProposalStatusActive {
		return fmt.Errorf("%w: proposal is %s", domainerrors.ErrProposalNotActive, proposal.Status)
	}
	if !proposal.AcceptsVotesAt(now) {
		return fmt.Errorf("%w: closed at %s",
			domainerrors.ErrVotingWindowClosed, proposal.VotingClosesAt.UTC().Format(time.RFC3339))
	}
	return nil
}

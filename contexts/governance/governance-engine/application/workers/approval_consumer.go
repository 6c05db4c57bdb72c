package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/ports"
)

const defaultApprovalCG = "governance-engine-approval-cg"

// ExecutionScheduler is the slice of the execution use case the approval
// consumer drives.
type ExecutionScheduler interface {
	Schedule(ctx context.Context, cmd commands.ScheduleExecutionCommand) (entities.ProposalExecution, error)
}

// ApprovalConsumer schedules the execution of every approved proposal. An
// execution that already exists counts as handled, so redelivery is safe. A
// failed schedule releases the event reservation so the broker retry runs it
// again; ApprovalBackfill covers events that are never redelivered.
type ApprovalConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Scheduler     ExecutionScheduler
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

func (c ApprovalConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("approval consumer disabled by feature flag",
			"event", "governance_approval_consumer_disabled",
			"module", application.ModuleName,
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultApprovalCG
	}
	if err := c.Subscriber.Subscribe(ctx, commands.EventProposalApproved, group, c.Handle); err != nil {
		logger.Error("approval consumer subscribe failed",
			"event", "governance_approval_consumer_subscribe_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"topic", commands.EventProposalApproved,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("approval consumer subscription active",
		"event", "governance_approval_consumer_started",
		"module", application.ModuleName,
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

// Handle processes one proposal.approved envelope.
func (c ApprovalConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
	if err != nil {
		logger.Error("approval event dedupe failed",
			"event", "governance_approval_dedupe_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	if alreadyProcessed {
		logger.Debug("approval event replay skipped",
			"event", "governance_approval_replayed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	var payload struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("approval payload decode failed",
			"event", "governance_approval_decode_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	proposalID := strings.TrimSpace(payload.ProposalID)
	if proposalID == "" {
		proposalID = strings.TrimSpace(event.PartitionKey)
	}

	execution, err := c.Scheduler.Schedule(ctx, commands.ScheduleExecutionCommand{ProposalID: proposalID})
	if errors.Is(err, domainerrors.ErrExecutionAlreadyScheduled) {
		logger.Info("approval already scheduled",
			"event", "governance_approval_already_scheduled",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"proposal_id", proposalID,
		)
		return nil
	}
	if err != nil {
		logger.Error("approval scheduling failed",
			"event", "governance_approval_schedule_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"proposal_id", proposalID,
			"error", err.Error(),
		)
		// The reservation must not outlive a failed schedule or the
		// redelivered event would be skipped as a replay.
		if releaseErr := c.Dedup.ReleaseEvent(ctx, event.EventID); releaseErr != nil {
			logger.Error("approval event release failed",
				"event", "governance_approval_release_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"event_id", event.EventID,
				"error", releaseErr.Error(),
			)
		}
		return err
	}
	logger.Info("approval consumed",
		"event", "governance_approval_consumed",
		"module", application.ModuleName,
		"layer", "worker",
		"event_id", event.EventID,
		"proposal_id", proposalID,
		"execution_id", execution.ExecutionID,
	)
	return nil
}

func (c ApprovalConsumer) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (c ApprovalConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return defaultDedupTTL
	}
	return c.DedupTTL
}

package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"agora/contexts/governance/governance-engine/ports"
)

// Event types double as bus topics.
const (
	EventRuleCreated        = "governance.rule.created"
	EventRuleUpdated        = "governance.rule.updated"
	EventRuleDeactivated    = "governance.rule.deactivated"
	EventProposalCreated    = "governance.proposal.created"
	EventProposalUpdated    = "governance.proposal.updated"
	EventProposalOpened     = "governance.proposal.opened"
	EventProposalCancelled  = "governance.proposal.cancelled"
	EventProposalApproved   = "governance.proposal.approved"
	EventProposalRejected   = "governance.proposal.rejected"
	EventProposalExecuted   = "governance.proposal.executed"
	EventProposalFailed     = "governance.proposal.failed"
	EventVoteCast           = "governance.vote.cast"
	EventDelegationCreated  = "governance.delegation.created"
	EventDelegationRevoked  = "governance.delegation.revoked"
	EventExecutionScheduled = "governance.execution.scheduled"
	EventExecutionSigned    = "governance.execution.signed"
	EventExecutionAttempted = "governance.execution.attempted"
)

const (
	defaultIdempotencyTTL    = 7 * 24 * time.Hour
	defaultExecutionLeaseTTL = 2 * time.Minute
	sourceService            = "governance-engine"
	partitionByProposal      = "proposal_id"
	partitionByDelegator     = "delegator_id"
	partitionByProposalType  = "proposal_type"
)

// SystemActorID is recorded as the actor of worker-driven and seeded changes.
// Transports must not accept it from callers.
const SystemActorID = "system"

func newGovernanceEnvelope(
	eventID string,
	eventType string,
	partitionKeyPath string,
	partitionKey string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: partitionKeyPath,
		PartitionKey:     partitionKey,
		Data:             payload,
	}, nil
}

// appendEvent writes one envelope through the transaction's outbox. A nil
// outbox is a no-op for read-only wiring.
func appendEvent(
	ctx context.Context,
	outbox ports.OutboxWriter,
	idGen ports.IDGenerator,
	eventType string,
	partitionKeyPath string,
	partitionKey string,
	occurredAt time.Time,
	data map[string]any,
) error {
	if outbox == nil {
		return nil
	}
	eventID, err := idGen.NewID(ctx)
	if err != nil {
		return err
	}
	data["occurred_at"] = occurredAt.UTC().Format(time.RFC3339)
	envelope, err := newGovernanceEnvelope(eventID, eventType, partitionKeyPath, partitionKey, occurredAt, data)
	if err != nil {
		return err
	}
	return outbox.AppendOutbox(ctx, envelope)
}

func hashRequest(payload map[string]string) string {
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func resolveNow(clock ports.Clock) time.Time {
	now := time.Now().UTC()
	if clock != nil {
		now = clock.Now().UTC()
	}
	return now
}

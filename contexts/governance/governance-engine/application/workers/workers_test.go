package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/adapters/memory"
	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/application/workers"
	"agora/contexts/governance/governance-engine/domain/entities"
	"agora/contexts/governance/governance-engine/ports"

	"github.com/shopspring/decimal"
)

var workerEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type stubSubscriber struct {
	handlers map[string]func(context.Context, ports.EventEnvelope) error
	groups   map[string]string
}

func (s *stubSubscriber) Subscribe(
	_ context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	if s.handlers == nil {
		s.handlers = map[string]func(context.Context, ports.EventEnvelope) error{}
		s.groups = map[string]string{}
	}
	s.handlers[topic] = handler
	s.groups[topic] = consumerGroup
	return nil
}

type stubPublisher struct {
	topics []string
	failAt int
}

func (p *stubPublisher) Publish(_ context.Context, topic string, _ ports.EventEnvelope) error {
	if p.failAt > 0 && len(p.topics)+1 == p.failAt {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	return nil
}

type fixture struct {
	store      *memory.Store
	directory  *memory.Directory
	clock      *memory.ManualClock
	proposals  commands.ProposalUseCase
	votes      commands.VoteUseCase
	executions commands.ExecutionUseCase
	sink       *memory.ExecutionSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore(nil)
	directory := memory.NewDirectory()
	clock := memory.NewManualClock(workerEpoch)
	sink := memory.NewExecutionSink()
	power := application.NewPowerCalculator(directory, time.Second, 4, nil)

	rules := commands.RuleUseCase{Store: store, Clock: clock, IDGen: store}
	if _, err := rules.CreateRule(context.Background(), commands.CreateRuleCommand{
		ActorID: "rule-admin",
		Params: entities.RuleParams{
			ProposalType:             entities.ProposalTypeGeneral,
			MinimumQuorumPercent:     decimal.NewFromInt(10),
			ApprovalThresholdPercent: decimal.NewFromInt(50),
			VotingPeriod:             time.Hour,
			ExecutionDelay:           30 * time.Minute,
			AllowDelegation:          true,
		},
	}); err != nil {
		t.Fatalf("create rule failed: %v", err)
	}
	directory.SetStake("voter", decimal.NewFromInt(100))

	return &fixture{
		store:      store,
		directory:  directory,
		clock:      clock,
		sink:       sink,
		proposals:  commands.ProposalUseCase{Store: store, Power: power, Clock: clock, IDGen: store},
		votes:      commands.VoteUseCase{Store: store, Power: power, Clock: clock, IDGen: store},
		executions: commands.ExecutionUseCase{Store: store, Sink: sink, Clock: clock, IDGen: store, MaxRetries: 2},
	}
}

func (f *fixture) activeProposal(t *testing.T, choice entities.VoteChoice) string {
	t.Helper()
	created, err := f.proposals.CreateProposal(context.Background(), commands.CreateProposalCommand{
		ActorID:         "author",
		ProposalType:    entities.ProposalTypeGeneral,
		Title:           "Rotate the treasury multisig",
		OpenImmediately: true,
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if _, err := f.votes.CastVote(context.Background(), commands.CastVoteCommand{
		VoterID:    "voter",
		ProposalID: created.Proposal.ProposalID,
		Choice:     choice,
	}); err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}
	return created.Proposal.ProposalID
}

func TestProposalCloserResolvesDueProposals(t *testing.T) {
	f := newFixture(t)
	approvedID := f.activeProposal(t, entities.VoteChoiceFor)
	rejectedID := f.activeProposal(t, entities.VoteChoiceAgainst)
	closer := workers.ProposalCloser{Proposals: f.store.Reader().Proposals, Resolver: f.proposals, Clock: f.clock}

	if err := closer.RunOnce(context.Background()); err != nil {
		t.Fatalf("early sweep failed: %v", err)
	}
	proposal, err := f.store.Reader().Proposals.GetProposal(context.Background(), approvedID)
	if err != nil {
		t.Fatalf("get proposal failed: %v", err)
	}
	if proposal.Status != entities.ProposalStatusActive {
		t.Fatalf("expected proposal to stay active before the window ends, got %s", proposal.Status)
	}

	f.clock.Advance(time.Hour)
	if err := closer.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	for id, want := range map[string]entities.ProposalStatus{
		approvedID: entities.ProposalStatusApproved,
		rejectedID: entities.ProposalStatusRejected,
	} {
		proposal, err := f.store.Reader().Proposals.GetProposal(context.Background(), id)
		if err != nil {
			t.Fatalf("get proposal failed: %v", err)
		}
		if proposal.Status != want {
			t.Fatalf("expected %s, got %s", want, proposal.Status)
		}
	}

	if err := closer.RunOnce(context.Background()); err != nil {
		t.Fatalf("repeated sweep failed: %v", err)
	}
}

func TestApprovalConsumerSchedulesOnce(t *testing.T) {
	f := newFixture(t)
	proposalID := f.activeProposal(t, entities.VoteChoiceFor)
	f.clock.Advance(time.Hour)
	if _, err := f.proposals.CloseProposal(context.Background(), commands.CloseProposalCommand{
		ProposalID: proposalID,
	}); err != nil {
		t.Fatalf("close proposal failed: %v", err)
	}

	sub := &stubSubscriber{}
	consumer := workers.ApprovalConsumer{
		Subscriber: sub,
		Dedup:      f.store,
		Scheduler:  f.executions,
		Clock:      f.clock,
	}
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start approval consumer failed: %v", err)
	}
	handler := sub.handlers[commands.EventProposalApproved]
	if handler == nil {
		t.Fatalf("expected %s handler registration", commands.EventProposalApproved)
	}
	if sub.groups[commands.EventProposalApproved] != "governance-engine-approval-cg" {
		t.Fatalf("unexpected consumer group %q", sub.groups[commands.EventProposalApproved])
	}

	var approved ports.EventEnvelope
	for _, event := range f.store.OutboxEvents() {
		if event.EventType == commands.EventProposalApproved {
			approved = event
		}
	}
	if approved.EventID == "" {
		t.Fatalf("expected approved event in outbox")
	}
	if err := handler(context.Background(), approved); err != nil {
		t.Fatalf("approval handler failed: %v", err)
	}
	if err := handler(context.Background(), approved); err != nil {
		t.Fatalf("replayed approval handler failed: %v", err)
	}

	redelivered := approved
	redelivered.EventID = "redelivered-" + approved.EventID
	if err := handler(context.Background(), redelivered); err != nil {
		t.Fatalf("expected already scheduled execution to be treated as handled, got %v", err)
	}

	execution, err := f.store.Reader().Executions.GetExecutionByProposal(context.Background(), proposalID)
	if err != nil {
		t.Fatalf("expected scheduled execution: %v", err)
	}
	if execution.Status != entities.ExecutionStatusPending {
		t.Fatalf("expected pending execution, got %s", execution.Status)
	}
	scheduled := 0
	for _, event := range f.store.OutboxEvents() {
		if event.EventType == commands.EventExecutionScheduled {
			scheduled++
		}
	}
	if scheduled != 1 {
		t.Fatalf("expected one scheduled event, got %d", scheduled)
	}
}

func TestApprovalConsumerDisabled(t *testing.T) {
	sub := &stubSubscriber{}
	consumer := workers.ApprovalConsumer{Subscriber: sub, Disabled: true}
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start disabled consumer failed: %v", err)
	}
	if len(sub.handlers) != 0 {
		t.Fatalf("expected no subscription while disabled")
	}
}

func TestExecutionJobRunsDueExecutions(t *testing.T) {
	f := newFixture(t)
	proposalID := f.activeProposal(t, entities.VoteChoiceFor)
	f.clock.Advance(time.Hour)
	if _, err := f.proposals.CloseProposal(context.Background(), commands.CloseProposalCommand{
		ProposalID: proposalID,
	}); err != nil {
		t.Fatalf("close proposal failed: %v", err)
	}
	if _, err := f.executions.Schedule(context.Background(), commands.ScheduleExecutionCommand{
		ProposalID: proposalID,
	}); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	job := workers.ExecutionJob{Executions: f.store.Reader().Executions, Runner: f.executions, Clock: f.clock}

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("job before due failed: %v", err)
	}
	if len(f.sink.Calls()) != 0 {
		t.Fatalf("expected no attempt before the execution delay")
	}

	f.clock.Advance(30 * time.Minute)
	f.sink.QueueReceipt(entities.ExecutionReceipt{Success: false, ErrorMessage: "nonce too low"})
	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("job with failing attempt failed: %v", err)
	}
	execution, err := f.store.Reader().Executions.GetExecutionByProposal(context.Background(), proposalID)
	if err != nil {
		t.Fatalf("get execution failed: %v", err)
	}
	if execution.RetryCount != 1 || execution.Status != entities.ExecutionStatusPending {
		t.Fatalf("expected one failed attempt with retries left, got %d/%s", execution.RetryCount, execution.Status)
	}
	if execution.ExecutorID != "governance-executor" {
		t.Fatalf("expected default executor id, got %q", execution.ExecutorID)
	}

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("second job cycle failed: %v", err)
	}
	execution, err = f.store.Reader().Executions.GetExecutionByProposal(context.Background(), proposalID)
	if err != nil {
		t.Fatalf("get execution failed: %v", err)
	}
	if execution.Status != entities.ExecutionStatusCompleted {
		t.Fatalf("expected completion on the next cycle, got %s", execution.Status)
	}
	if calls := len(f.sink.Calls()); calls != 2 {
		t.Fatalf("expected two sink calls, got %d", calls)
	}
}

func TestOutboxRelayPublishesAndStopsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.activeProposal(t, entities.VoteChoiceFor)
	pending, err := f.store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}
	if len(pending) < 3 {
		t.Fatalf("expected rule, proposal and vote events, got %d", len(pending))
	}

	failing := &stubPublisher{failAt: 2}
	relay := workers.OutboxRelay{Outbox: f.store, Publisher: failing, Clock: f.clock}
	if err := relay.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected publish failure to surface")
	}
	remaining, err := f.store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}
	if len(remaining) != len(pending)-1 {
		t.Fatalf("expected only the first row to be marked, got %d pending of %d", len(remaining), len(pending))
	}

	publisher := &stubPublisher{}
	relay.Publisher = publisher
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	if len(publisher.topics) != len(remaining) {
		t.Fatalf("expected %d publishes, got %d", len(remaining), len(publisher.topics))
	}
	for i, row := range remaining {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			t.Fatalf("decode outbox row failed: %v", err)
		}
		if publisher.topics[i] != envelope.EventType {
			t.Fatalf("expected topic %s, got %s", envelope.EventType, publisher.topics[i])
		}
	}
	if left, _ := f.store.ListPendingOutbox(context.Background(), 100); len(left) != 0 {
		t.Fatalf("expected empty outbox, got %d rows", len(left))
	}
}

func (f *fixture) approvedProposal(t *testing.T) (string, ports.EventEnvelope) {
	t.Helper()
	proposalID := f.activeProposal(t, entities.VoteChoiceFor)
	f.clock.Advance(time.Hour)
	if _, err := f.proposals.CloseProposal(context.Background(), commands.CloseProposalCommand{
		ProposalID: proposalID,
	}); err != nil {
		t.Fatalf("close proposal failed: %v", err)
	}
	for _, event := range f.store.OutboxEvents() {
		if event.EventType == commands.EventProposalApproved && event.PartitionKey == proposalID {
			return proposalID, event
		}
	}
	t.Fatalf("expected approved event for %s", proposalID)
	return "", ports.EventEnvelope{}
}

type flakyScheduler struct {
	next     workers.ExecutionScheduler
	failures int
	calls    int
}

func (s *flakyScheduler) Schedule(
	ctx context.Context,
	cmd commands.ScheduleExecutionCommand,
) (entities.ProposalExecution, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return entities.ProposalExecution{}, errors.New("execution store unavailable")
	}
	return s.next.Schedule(ctx, cmd)
}

func TestApprovalConsumerRetriesAfterScheduleFailure(t *testing.T) {
	f := newFixture(t)
	proposalID, approved := f.approvedProposal(t)
	scheduler := &flakyScheduler{next: f.executions, failures: 1}
	// Reservations expire against wall time in the memory store.
	consumer := workers.ApprovalConsumer{Dedup: f.store, Scheduler: scheduler}

	if err := consumer.Handle(context.Background(), approved); err == nil {
		t.Fatalf("expected the failed schedule to surface")
	}
	if _, err := f.store.Reader().Executions.GetExecutionByProposal(context.Background(), proposalID); err == nil {
		t.Fatalf("expected no execution after the failed schedule")
	}

	if err := consumer.Handle(context.Background(), approved); err != nil {
		t.Fatalf("redelivered approval failed: %v", err)
	}
	if scheduler.calls != 2 {
		t.Fatalf("expected the redelivery to schedule again, got %d calls", scheduler.calls)
	}
	execution, err := f.store.Reader().Executions.GetExecutionByProposal(context.Background(), proposalID)
	if err != nil {
		t.Fatalf("expected scheduled execution: %v", err)
	}
	if execution.Status != entities.ExecutionStatusPending {
		t.Fatalf("expected pending execution, got %s", execution.Status)
	}

	if err := consumer.Handle(context.Background(), approved); err != nil {
		t.Fatalf("replay after success failed: %v", err)
	}
	if scheduler.calls != 2 {
		t.Fatalf("expected the replay to be skipped, got %d calls", scheduler.calls)
	}
}

func TestApprovalBackfillSchedulesMissingExecutions(t *testing.T) {
	f := newFixture(t)
	missingID, _ := f.approvedProposal(t)
	scheduledID, _ := f.approvedProposal(t)
	if _, err := f.executions.Schedule(context.Background(), commands.ScheduleExecutionCommand{
		ProposalID: scheduledID,
	}); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	scheduler := &flakyScheduler{next: f.executions}
	backfill := workers.ApprovalBackfill{
		Proposals:  f.store.Reader().Proposals,
		Executions: f.store.Reader().Executions,
		Scheduler:  scheduler,
	}

	if err := backfill.RunOnce(context.Background()); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if scheduler.calls != 1 {
		t.Fatalf("expected only the unscheduled proposal to be scheduled, got %d calls", scheduler.calls)
	}
	execution, err := f.store.Reader().Executions.GetExecutionByProposal(context.Background(), missingID)
	if err != nil {
		t.Fatalf("expected backfilled execution: %v", err)
	}
	if execution.Status != entities.ExecutionStatusPending {
		t.Fatalf("expected pending execution, got %s", execution.Status)
	}

	if err := backfill.RunOnce(context.Background()); err != nil {
		t.Fatalf("second backfill failed: %v", err)
	}
	if scheduler.calls != 1 {
		t.Fatalf("expected no further scheduling, got %d calls", scheduler.calls)
	}
}

func TestApprovalBackfillDisabled(t *testing.T) {
	f := newFixture(t)
	proposalID, _ := f.approvedProposal(t)
	scheduler := &flakyScheduler{next: f.executions}
	backfill := workers.ApprovalBackfill{
		Proposals:  f.store.Reader().Proposals,
		Executions: f.store.Reader().Executions,
		Scheduler:  scheduler,
		Disabled:   true,
	}
	if err := backfill.RunOnce(context.Background()); err != nil {
		t.Fatalf("disabled backfill failed: %v", err)
	}
	if scheduler.calls != 0 {
		t.Fatalf("expected no scheduling while disabled, got %d calls", scheduler.calls)
	}
	if _, err := f.store.Reader().Executions.GetExecutionByProposal(context.Background(), proposalID); err == nil {
		t.Fatalf("expected no execution while disabled")
	}
}

type stubOutbox struct {
	rows      []ports.OutboxRecord
	published map[string]bool
}

func (o *stubOutbox) AppendOutbox(context.Context, ports.EventEnvelope) error { return nil }

func (o *stubOutbox) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	var pending []ports.OutboxRecord
	for _, row := range o.rows {
		if !o.published[row.OutboxID] && len(pending) < limit {
			pending = append(pending, row)
		}
	}
	return pending, nil
}

func (o *stubOutbox) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	if o.published == nil {
		o.published = map[string]bool{}
	}
	o.published[outboxID] = true
	return nil
}

func TestOutboxRelaySkipsUndecodableRows(t *testing.T) {
	good, err := json.Marshal(ports.EventEnvelope{EventID: "evt-2", EventType: commands.EventVoteCast})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}
	outbox := &stubOutbox{rows: []ports.OutboxRecord{
		{OutboxID: "row-1", EventType: commands.EventVoteCast, Payload: []byte("{not json")},
		{OutboxID: "row-2", EventType: commands.EventVoteCast, Payload: good},
	}}
	publisher := &stubPublisher{}
	relay := workers.OutboxRelay{Outbox: outbox, Publisher: publisher}

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	if len(publisher.topics) != 1 || publisher.topics[0] != commands.EventVoteCast {
		t.Fatalf("expected the decodable row to publish, got %v", publisher.topics)
	}
	if pending, _ := outbox.ListPendingOutbox(context.Background(), 10); len(pending) != 0 {
		t.Fatalf("expected both rows to leave the queue, got %d pending", len(pending))
	}
}

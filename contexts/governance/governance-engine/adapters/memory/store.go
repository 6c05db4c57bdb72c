package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxRecord
	sequence  int64
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

type state struct {
	rules       map[string]entities.GovernanceRule
	proposals   map[string]entities.Proposal
	votes       map[string]entities.Vote
	voteKeys    map[string]string
	delegations map[string]entities.VotingDelegation
	executions  map[string]entities.ProposalExecution
	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
	outboxSeq   int64
}

func newState() *state {
	return &state{
		rules:       make(map[string]entities.GovernanceRule),
		proposals:   make(map[string]entities.Proposal),
		votes:       make(map[string]entities.Vote),
		voteKeys:    make(map[string]string),
		delegations: make(map[string]entities.VotingDelegation),
		executions:  make(map[string]entities.ProposalExecution),
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
	}
}

func (s *state) clone() *state {
	return &state{
		rules:       maps.Clone(s.rules),
		proposals:   maps.Clone(s.proposals),
		votes:       maps.Clone(s.votes),
		voteKeys:    maps.Clone(s.voteKeys),
		delegations: maps.Clone(s.delegations),
		executions:  maps.Clone(s.executions),
		idempotency: maps.Clone(s.idempotency),
		outbox:      maps.Clone(s.outbox),
		outboxSeq:   s.outboxSeq,
	}
}

// Store is the in-memory governance store. A transaction works on a copy of
// the state and swaps it in on success, so failed units of work leave no
// trace. Transactions are serialised by a single write lock.
type Store struct {
	mu         sync.RWMutex
	state      *state
	eventDedup map[string]dedupRecord
}

func NewStore(seedRules []entities.GovernanceRule) *Store {
	st := newState()
	for _, rule := range seedRules {
		st.rules[rule.RuleID] = rule
	}
	return &Store{
		state:      st,
		eventDedup: make(map[string]dedupRecord),
	}
}

func (s *Store) WithinTransaction(
	ctx context.Context,
	fn func(ctx context.Context, repos ports.Repositories) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(ctx, repositories{store: s, tx: draft}.bundle()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *Store) Reader() ports.Repositories {
	return repositories{store: s}.bundle()
}

// repositories implements every repository port over either the live state
// (guarded per call) or a transaction draft (already guarded by the caller).
type repositories struct {
	store *Store
	tx    *state
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

func (r repositories) read(fn func(st *state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fn(r.store.state)
}

func (r repositories) write(fn func(st *state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (r repositories) LockRuleType(context.Context, entities.ProposalType) error {
	return nil
}

func (r repositories) CreateRule(_ context.Context, rule entities.GovernanceRule) error {
	return r.write(func(st *state) error {
		if _, exists := st.rules[rule.RuleID]; exists {
			return domainerrors.ErrActiveRuleExists
		}
		if rule.IsActive {
			for _, existing := range st.rules {
				if existing.IsActive && existing.ProposalType == rule.ProposalType {
					return domainerrors.ErrActiveRuleExists
				}
			}
		}
		st.rules[rule.RuleID] = rule
		return nil
	})
}

func (r repositories) UpdateRule(_ context.Context, rule entities.GovernanceRule) error {
	return r.write(func(st *state) error {
		if _, exists := st.rules[rule.RuleID]; !exists {
			return domainerrors.ErrRuleNotFound
		}
		st.rules[rule.RuleID] = rule
		return nil
	})
}

func (r repositories) GetRule(_ context.Context, ruleID string) (entities.GovernanceRule, error) {
	var rule entities.GovernanceRule
	err := r.read(func(st *state) error {
		item, ok := st.rules[strings.TrimSpace(ruleID)]
		if !ok {
			return domainerrors.ErrRuleNotFound
		}
		rule = item
		return nil
	})
	return rule, err
}

func (r repositories) GetRuleForUpdate(ctx context.Context, ruleID string) (entities.GovernanceRule, error) {
	return r.GetRule(ctx, ruleID)
}

func (r repositories) GetActiveRuleByType(
	_ context.Context,
	proposalType entities.ProposalType,
) (entities.GovernanceRule, bool, error) {
	var (
		rule  entities.GovernanceRule
		found bool
	)
	err := r.read(func(st *state) error {
		for _, item := range st.rules {
			if item.IsActive && item.ProposalType == proposalType {
				rule = item
				found = true
				return nil
			}
		}
		return nil
	})
	return rule, found, err
}

func (r repositories) ListRules(_ context.Context, includeInactive bool) ([]entities.GovernanceRule, error) {
	items := []entities.GovernanceRule{}
	err := r.read(func(st *state) error {
		for _, rule := range st.rules {
			if !includeInactive && !rule.IsActive {
				continue
			}
			items = append(items, rule)
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProposalType != items[j].ProposalType {
			return items[i].ProposalType < items[j].ProposalType
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, err
}

func (r repositories) CreateProposal(_ context.Context, proposal entities.Proposal) error {
	return r.write(func(st *state) error {
		if _, exists := st.proposals[proposal.ProposalID]; exists {
			return domainerrors.ErrConflict
		}
		st.proposals[proposal.ProposalID] = proposal
		return nil
	})
}

func (r repositories) UpdateProposal(_ context.Context, proposal entities.Proposal) error {
	return r.write(func(st *state) error {
		if _, exists := st.proposals[proposal.ProposalID]; !exists {
			return domainerrors.ErrProposalNotFound
		}
		st.proposals[proposal.ProposalID] = proposal
		return nil
	})
}

func (r repositories) GetProposal(_ context.Context, proposalID string) (entities.Proposal, error) {
	var proposal entities.Proposal
	err := r.read(func(st *state) error {
		item, ok := st.proposals[strings.TrimSpace(proposalID)]
		if !ok {
			return domainerrors.ErrProposalNotFound
		}
		proposal = item
		return nil
	})
	return proposal, err
}

func (r repositories) GetProposalForUpdate(ctx context.Context, proposalID string) (entities.Proposal, error) {
	return r.GetProposal(ctx, proposalID)
}

func (r repositories) GetProposalForShare(ctx context.Context, proposalID string) (entities.Proposal, error) {
	return r.GetProposal(ctx, proposalID)
}

func (r repositories) ListProposals(_ context.Context, filter entities.ProposalFilter) ([]entities.Proposal, error) {
	items := []entities.Proposal{}
	err := r.read(func(st *state) error {
		for _, proposal := range st.proposals {
			if filter.Status != "" && proposal.Status != filter.Status {
				continue
			}
			if filter.ProposalType != "" && proposal.ProposalType != filter.ProposalType {
				continue
			}
			if creator := strings.TrimSpace(filter.CreatorID); creator != "" && proposal.CreatorID != creator {
				continue
			}
			items = append(items, proposal)
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ProposalID < items[j].ProposalID
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, err
}

func (r repositories) ListProposalsDueForClose(
	_ context.Context,
	now time.Time,
	limit int,
) ([]entities.Proposal, error) {
	items := []entities.Proposal{}
	err := r.read(func(st *state) error {
		for _, proposal := range st.proposals {
			if proposal.Status == entities.ProposalStatusActive && proposal.WindowElapsed(now) {
				items = append(items, proposal)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		return items[i].VotingClosesAt.Before(*items[j].VotingClosesAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, err
}

func (r repositories) CountProposalsByStatus(context.Context) (map[entities.ProposalStatus]int, error) {
	counts := make(map[entities.ProposalStatus]int)
	err := r.read(func(st *state) error {
		for _, proposal := range st.proposals {
			counts[proposal.Status]++
		}
		return nil
	})
	return counts, err
}

func voteKey(proposalID string, voterID string) string {
	return strings.TrimSpace(proposalID) + "|" + strings.TrimSpace(voterID)
}

func (r repositories) InsertVote(_ context.Context, vote entities.Vote) error {
	return r.write(func(st *state) error {
		key := voteKey(vote.ProposalID, vote.VoterID)
		if _, exists := st.voteKeys[key]; exists {
			return domainerrors.ErrDuplicateVote
		}
		st.voteKeys[key] = vote.VoteID
		st.votes[vote.VoteID] = vote
		return nil
	})
}

func (r repositories) GetVote(_ context.Context, proposalID string, voterID string) (entities.Vote, error) {
	var vote entities.Vote
	err := r.read(func(st *state) error {
		voteID, ok := st.voteKeys[voteKey(proposalID, voterID)]
		if !ok {
			return domainerrors.ErrVoteNotFound
		}
		vote = st.votes[voteID]
		return nil
	})
	return vote, err
}

func (r repositories) GetVoteByID(_ context.Context, voteID string) (entities.Vote, error) {
	var vote entities.Vote
	err := r.read(func(st *state) error {
		item, ok := st.votes[strings.TrimSpace(voteID)]
		if !ok {
			return domainerrors.ErrVoteNotFound
		}
		vote = item
		return nil
	})
	return vote, err
}

func (r repositories) ListVotes(_ context.Context, proposalID string) ([]entities.Vote, error) {
	items := []entities.Vote{}
	err := r.read(func(st *state) error {
		for _, vote := range st.votes {
			if vote.ProposalID == strings.TrimSpace(proposalID) {
				items = append(items, vote)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CastAt.Equal(items[j].CastAt) {
			return items[i].CastAt.Before(items[j].CastAt)
		}
		return items[i].VoteID < items[j].VoteID
	})
	return items, err
}

func (r repositories) LockDelegator(context.Context, string) error {
	return nil
}

func (r repositories) InsertDelegation(_ context.Context, delegation entities.VotingDelegation) error {
	return r.write(func(st *state) error {
		if _, exists := st.delegations[delegation.DelegationID]; exists {
			return domainerrors.ErrConflict
		}
		st.delegations[delegation.DelegationID] = delegation
		return nil
	})
}

func (r repositories) UpdateDelegation(_ context.Context, delegation entities.VotingDelegation) error {
	return r.write(func(st *state) error {
		if _, exists := st.delegations[delegation.DelegationID]; !exists {
			return domainerrors.ErrDelegationNotFound
		}
		st.delegations[delegation.DelegationID] = delegation
		return nil
	})
}

func (r repositories) GetDelegation(_ context.Context, delegationID string) (entities.VotingDelegation, error) {
	var delegation entities.VotingDelegation
	err := r.read(func(st *state) error {
		item, ok := st.delegations[strings.TrimSpace(delegationID)]
		if !ok {
			return domainerrors.ErrDelegationNotFound
		}
		delegation = item
		return nil
	})
	return delegation, err
}

func (r repositories) GetDelegationForUpdate(ctx context.Context, delegationID string) (entities.VotingDelegation, error) {
	return r.GetDelegation(ctx, delegationID)
}

func (r repositories) ListDelegations(
	_ context.Context,
	filter entities.DelegationFilter,
) ([]entities.VotingDelegation, error) {
	items := []entities.VotingDelegation{}
	err := r.read(func(st *state) error {
		for _, delegation := range st.delegations {
			if !filter.IncludeInactive && !delegation.IsActive {
				continue
			}
			if id := strings.TrimSpace(filter.DelegatorID); id != "" && delegation.DelegatorID != id {
				continue
			}
			if id := strings.TrimSpace(filter.DelegateID); id != "" && delegation.DelegateID != id {
				continue
			}
			items = append(items, delegation)
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].DelegationID < items[j].DelegationID
	})
	return items, err
}

func (r repositories) InsertExecution(_ context.Context, execution entities.ProposalExecution) error {
	return r.write(func(st *state) error {
		if _, exists := st.executions[execution.ProposalID]; exists {
			return domainerrors.ErrExecutionAlreadyScheduled
		}
		st.executions[execution.ProposalID] = execution
		return nil
	})
}

func (r repositories) UpdateExecution(_ context.Context, execution entities.ProposalExecution) error {
	return r.write(func(st *state) error {
		if _, exists := st.executions[execution.ProposalID]; !exists {
			return domainerrors.ErrExecutionNotFound
		}
		st.executions[execution.ProposalID] = execution
		return nil
	})
}

func (r repositories) GetExecutionByProposal(_ context.Context, proposalID string) (entities.ProposalExecution, error) {
	var execution entities.ProposalExecution
	err := r.read(func(st *state) error {
		item, ok := st.executions[strings.TrimSpace(proposalID)]
		if !ok {
			return domainerrors.ErrExecutionNotFound
		}
		execution = item
		return nil
	})
	return execution, err
}

func (r repositories) GetExecutionByProposalForUpdate(
	ctx context.Context,
	proposalID string,
) (entities.ProposalExecution, error) {
	return r.GetExecutionByProposal(ctx, proposalID)
}

func (r repositories) ListExecutions(
	_ context.Context,
	filter entities.ExecutionFilter,
) ([]entities.ProposalExecution, error) {
	items := []entities.ProposalExecution{}
	err := r.read(func(st *state) error {
		for _, execution := range st.executions {
			if filter.Status != "" && execution.Status != filter.Status {
				continue
			}
			items = append(items, execution)
		}
		return nil
	})
	sortExecutions(items)
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, err
}

func (r repositories) ListDueExecutions(
	_ context.Context,
	now time.Time,
	limit int,
) ([]entities.ProposalExecution, error) {
	items := []entities.ProposalExecution{}
	err := r.read(func(st *state) error {
		for _, execution := range st.executions {
			if execution.Status != entities.ExecutionStatusPending ||
				now.Before(execution.ScheduledAt) ||
				execution.InFlight(now) {
				continue
			}
			items = append(items, execution)
		}
		return nil
	})
	sortExecutions(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, err
}

func (r repositories) Get(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var (
		record ports.IdempotencyRecord
		found  bool
	)
	err := r.read(func(st *state) error {
		item, exists := st.idempotency[strings.TrimSpace(key)]
		if !exists || !item.ExpiresAt.After(now.UTC()) {
			return nil
		}
		record = item
		found = true
		return nil
	})
	return record, found, err
}

func (r repositories) Put(_ context.Context, record ports.IdempotencyRecord) error {
	return r.write(func(st *state) error {
		key := strings.TrimSpace(record.Key)
		existing, exists := st.idempotency[key]
		if exists && existing.ExpiresAt.After(time.Now().UTC()) {
			if existing.RequestHash != record.RequestHash || existing.ResourceID != record.ResourceID {
				return domainerrors.ErrIdempotencyConflict
			}
			return nil
		}
		st.idempotency[key] = ports.IdempotencyRecord{
			Key:         key,
			RequestHash: strings.TrimSpace(record.RequestHash),
			ResourceID:  strings.TrimSpace(record.ResourceID),
			ExpiresAt:   record.ExpiresAt.UTC(),
		}
		return nil
	})
}

func (r repositories) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return r.write(func(st *state) error {
		outboxID := strings.TrimSpace(envelope.EventID)
		if outboxID == "" {
			outboxID = uuid.NewString()
		}
		if existing, ok := st.outbox[outboxID]; ok {
			if !bytes.Equal(existing.message.Payload, payload) {
				return domainerrors.ErrConflict
			}
			return nil
		}
		createdAt := envelope.OccurredAt.UTC()
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		st.outboxSeq++
		st.outbox[outboxID] = outboxRecord{
			message: ports.OutboxRecord{
				OutboxID:  outboxID,
				EventType: strings.TrimSpace(envelope.EventType),
				Payload:   payload,
				CreatedAt: createdAt,
			},
			sequence: st.outboxSeq,
		}
		return nil
	})
}

func (s *Store) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	return repositories{store: s}.AppendOutbox(ctx, envelope)
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.state.outbox))
	for _, row := range s.state.outbox {
		if row.published {
			continue
		}
		rows = append(rows, row)
	}
	sortOutbox(rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.state.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	published := publishedAt.UTC()
	row.published = true
	row.message.PublishedAt = &published
	s.state.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

// OutboxEvents returns every stored envelope in append order, published or
// not.
func (s *Store) OutboxEvents() []ports.EventEnvelope {
	s.mu.RLock()
	rows := make([]outboxRecord, 0, len(s.state.outbox))
	for _, row := range s.state.outbox {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sortOutbox(rows)
	events := make([]ports.EventEnvelope, 0, len(rows))
	for _, row := range rows {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.message.Payload, &event); err == nil {
			events = append(events, event)
		}
	}
	return events
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) ReleaseEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.eventDedup, strings.TrimSpace(eventID))
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func sortOutbox(rows []outboxRecord) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].sequence < rows[j].sequence
	})
}

func sortExecutions(items []entities.ProposalExecution) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ScheduledAt.Equal(items[j].ScheduledAt) {
			return items[i].ScheduledAt.Before(items[j].ScheduledAt)
		}
		return items[i].ProposalID < items[j].ProposalID
	})
}

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/shopspring/decimal"
)

// Directory is an in-memory AccountDirectory. Delay and Err let tests model
// a slow or failing ledger.
type Directory struct {
	mu            sync.RWMutex
	basePower     map[string]decimal.Decimal
	balances      map[string]decimal.Decimal
	totalEligible *decimal.Decimal
	delay         time.Duration
	err           error
}

func NewDirectory() *Directory {
	return &Directory{
		basePower: make(map[string]decimal.Decimal),
		balances:  make(map[string]decimal.Decimal),
	}
}

// SetStake sets both base voting power and token balance for participantID.
func (d *Directory) SetStake(participantID string, stake decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.basePower[strings.TrimSpace(participantID)] = stake
	d.balances[strings.TrimSpace(participantID)] = stake
}

func (d *Directory) SetTokenBalance(participantID string, balance decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances[strings.TrimSpace(participantID)] = balance
}

func (d *Directory) SetTotalEligiblePower(total decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalEligible = &total
}

func (d *Directory) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

func (d *Directory) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Directory) wait(ctx context.Context) error {
	d.mu.RLock()
	delay, err := d.delay, d.err
	d.mu.RUnlock()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (d *Directory) GetBaseVotingPower(ctx context.Context, participantID string) (decimal.Decimal, error) {
	if err := d.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	power, ok := d.basePower[strings.TrimSpace(participantID)]
	if !ok {
		return decimal.Zero, nil
	}
	return power, nil
}

func (d *Directory) GetTotalEligiblePower(ctx context.Context) (decimal.Decimal, error) {
	if err := d.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.totalEligible != nil {
		return *d.totalEligible, nil
	}
	total := decimal.Zero
	for _, power := range d.basePower {
		total = total.Add(power)
	}
	return total, nil
}

func (d *Directory) GetTokenBalance(ctx context.Context, participantID string) (decimal.Decimal, error) {
	if err := d.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	balance, ok := d.balances[strings.TrimSpace(participantID)]
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

func (d *Directory) ListParticipants(ctx context.Context) ([]string, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.basePower))
	for id := range d.basePower {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Policy is an allow-by-default AuthorizationPolicy with explicit denials.
type Policy struct {
	mu            sync.RWMutex
	deniedPropose map[string]bool
	deniedVote    map[string]bool
	signers       map[string]bool
	ruleAdmins    map[string]bool
	openSigning   bool
	openRuleAdmin bool
}

func NewPolicy() *Policy {
	return &Policy{
		deniedPropose: make(map[string]bool),
		deniedVote:    make(map[string]bool),
		signers:       make(map[string]bool),
		ruleAdmins:    make(map[string]bool),
		openSigning:   true,
		openRuleAdmin: true,
	}
}

func (p *Policy) DenyPropose(participantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deniedPropose[strings.TrimSpace(participantID)] = true
}

func (p *Policy) DenyVote(participantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deniedVote[strings.TrimSpace(participantID)] = true
}

// AllowSigner restricts execution signing to the registered signers.
func (p *Policy) AllowSigner(signerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openSigning = false
	p.signers[strings.TrimSpace(signerID)] = true
}

// AllowRuleAdmin restricts rule management to the registered admins.
func (p *Policy) AllowRuleAdmin(actorID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openRuleAdmin = false
	p.ruleAdmins[strings.TrimSpace(actorID)] = true
}

func (p *Policy) CanPropose(_ context.Context, participantID string, _ entities.ProposalType) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.deniedPropose[strings.TrimSpace(participantID)], nil
}

func (p *Policy) CanVote(_ context.Context, participantID string, _ string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.deniedVote[strings.TrimSpace(participantID)], nil
}

func (p *Policy) CanSignExecution(_ context.Context, signerID string, _ string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.openSigning || p.signers[strings.TrimSpace(signerID)], nil
}

func (p *Policy) CanManageRules(_ context.Context, actorID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.openRuleAdmin || p.ruleAdmins[strings.TrimSpace(actorID)], nil
}

// ExecutionSink replays scripted receipts in order; once the script runs out
// every call succeeds.
type ExecutionSink struct {
	mu     sync.Mutex
	script []scriptedReceipt
	calls  []string
	delay  time.Duration
}

type scriptedReceipt struct {
	receipt entities.ExecutionReceipt
	err     error
}

func NewExecutionSink() *ExecutionSink {
	return &ExecutionSink{}
}

func (s *ExecutionSink) QueueReceipt(receipt entities.ExecutionReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scriptedReceipt{receipt: receipt})
}

func (s *ExecutionSink) QueueError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scriptedReceipt{err: err})
}

func (s *ExecutionSink) SetDelay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
}

func (s *ExecutionSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *ExecutionSink) PerformExecution(
	ctx context.Context,
	proposalID string,
	_ []byte,
) (entities.ExecutionReceipt, error) {
	s.mu.Lock()
	s.calls = append(s.calls, proposalID)
	delay := s.delay
	var next *scriptedReceipt
	if len(s.script) > 0 {
		item := s.script[0]
		s.script = s.script[1:]
		next = &item
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return entities.ExecutionReceipt{}, ctx.Err()
		case <-timer.C:
		}
	}
	if next == nil {
		return entities.ExecutionReceipt{Success: true, Cost: decimal.Zero}, nil
	}
	return next.receipt, next.err
}

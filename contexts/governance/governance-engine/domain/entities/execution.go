package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

func (s ExecutionStatus) Valid() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ProposalExecution is the single execution record of an approved proposal.
// RetryCount never exceeds MaxRetries.
type ProposalExecution struct {
	ExecutionID    string
	ProposalID     string
	Status         ExecutionStatus
	ScheduledAt    time.Time
	ExecutedAt     *time.Time
	ExecutorID     string
	RetryCount     int
	MaxRetries     int
	ErrorMessage   string
	GasUsed        *uint64
	ExecutionCost  *decimal.Decimal
	ClaimedBy      string
	ClaimExpiresAt *time.Time
	Signatures     []ExecutionSignature
	Attempts       []ExecutionAttempt
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InFlight reports whether another caller holds an unexpired attempt claim.
func (e ProposalExecution) InFlight(now time.Time) bool {
	return e.ClaimExpiresAt != nil && now.Before(*e.ClaimExpiresAt)
}

func (e ProposalExecution) HasSigned(signerID string) bool {
	for _, signature := range e.Signatures {
		if signature.SignerID == signerID {
			return true
		}
	}
	return false
}

type ExecutionSignature struct {
	SignerID string
	SignedAt time.Time
}

type ExecutionAttempt struct {
	AttemptNumber int
	ExecutorID    string
	Succeeded     bool
	ErrorMessage  string
	GasUsed       uint64
	Cost          decimal.Decimal
	StartedAt     time.Time
	FinishedAt    time.Time
}

type ExecutionFilter struct {
	Status ExecutionStatus
	Limit  int
}

// ExecutionReceipt is what an execution sink reports for one attempt.
type ExecutionReceipt struct {
	Success      bool
	GasUsed      uint64
	Cost         decimal.Decimal
	ErrorMessage string
}

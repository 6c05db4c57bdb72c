package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type PowerShare struct {
	ParticipantID string
	Power         decimal.Decimal
}

type DistributionReport struct {
	ProposalType     ProposalType
	ParticipantCount int
	TotalPower       decimal.Decimal
	Gini             float64
	Nakamoto         int
	Herfindahl       float64
	TopDecileShare   float64
	TopHolders       []PowerShare
	GeneratedAt      time.Time
}

type ParticipationReport struct {
	ProposalID         string
	Status             ProposalStatus
	VoterCount         int
	ParticipatingPower decimal.Decimal
	TotalEligiblePower decimal.Decimal
	Turnout            float64
	ForShare           float64
	AgainstShare       float64
	AbstainShare       float64
	GeneratedAt        time.Time
}

type HealthReport struct {
	ProposalsByStatus    map[ProposalStatus]int
	ActiveDelegations    int
	DelegatedPowerShare  float64
	AverageTurnout       float64
	ExecutionSuccessRate float64
	PendingExecutions    int
	GeneratedAt          time.Time
}

package application

import (
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	"agora/contexts/governance/governance-engine/ports"
)

type noopMetrics struct{}

func (noopMetrics) VoteCast(entities.VoteChoice) {}
func (noopMetrics) ProposalResolved(entities.ProposalStatus) {}
func (noopMetrics) ExecutionAttempted(string) {}
func (noopMetrics) DelegationChanged(string) {}
func (noopMetrics) ObserveTally(time.Duration) {}

// ResolveMetrics returns a no-op recorder when metrics is nil.
func ResolveMetrics(metrics ports.Metrics) ports.Metrics {
	if metrics == nil {
		return noopMetrics{}
	}
	return metrics
}

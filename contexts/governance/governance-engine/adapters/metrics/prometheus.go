package metrics

import (
	"time"

	"agora/contexts/governance/governance-engine/domain/entities"
	"agora/contexts/governance/governance-engine/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agora"

// Prometheus records governance activity on a caller-supplied registry.
type Prometheus struct {
	votesCast          *prometheus.CounterVec
	proposalsResolved  *prometheus.CounterVec
	executionAttempts  *prometheus.CounterVec
	delegationChanges  *prometheus.CounterVec
	tallyDurationHisto prometheus.Histogram
}

func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	factory := promauto.With(registerer)
	return &Prometheus{
		// Labels: choice (for, against, abstain)
		votesCast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "votes_cast_total",
			Help:      "Votes recorded by choice",
		}, []string{"choice"}),

		// Labels: status (approved, rejected, executed, failed, cancelled)
		proposalsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_resolved_total",
			Help:      "Proposals that reached a resolved status",
		}, []string{"status"}),

		// Labels: result (success, failure, exhausted)
		executionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "execution_attempts_total",
			Help:      "Execution sink attempts by result",
		}, []string{"result"}),

		// Labels: action (created, revoked)
		delegationChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "delegation_changes_total",
			Help:      "Delegation edges created or revoked",
		}, []string{"action"}),

		tallyDurationHisto: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "tally_duration_seconds",
			Help:      "Time spent computing a proposal tally",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (p *Prometheus) VoteCast(choice entities.VoteChoice) {
	p.votesCast.WithLabelValues(string(choice)).Inc()
}

func (p *Prometheus) ProposalResolved(status entities.ProposalStatus) {
	p.proposalsResolved.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) ExecutionAttempted(result string) {
	p.executionAttempts.WithLabelValues(result).Inc()
}

func (p *Prometheus) DelegationChanged(action string) {
	p.delegationChanges.WithLabelValues(action).Inc()
}

func (p *Prometheus) ObserveTally(duration time.Duration) {
	p.tallyDurationHisto.Observe(duration.Seconds())
}

var _ ports.Metrics = (*Prometheus)(nil)

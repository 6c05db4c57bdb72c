package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"agora/contexts/governance/governance-engine/adapters/directory"
	postgresadapter "agora/contexts/governance/governance-engine/adapters/postgres"
	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/application/queries"
	"agora/contexts/governance/governance-engine/domain/entities"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newAnalyticsCmd() *cobra.Command {
	var (
		proposalType string
		top          int
	)
	analyticsCmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print governance analytics from the database",
	}

	distributionCmd := &cobra.Command{
		Use:   "distribution",
		Short: "Voting power concentration report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			analytics, closeDB, err := connectAnalytics()
			if err != nil {
				return err
			}
			defer closeDB()

			report, err := analytics.Distribution(cmd.Context(), entities.ProposalType(proposalType), top)
			if err != nil {
				return err
			}
			renderDistribution(cmd.OutOrStdout(), report)
			return nil
		},
	}
	distributionCmd.Flags().StringVar(&proposalType, "type", "", "proposal type whose delegation rules apply (empty: global delegations only)")
	distributionCmd.Flags().IntVar(&top, "top", 10, "number of top holders to list")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Governance health dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			analytics, closeDB, err := connectAnalytics()
			if err != nil {
				return err
			}
			defer closeDB()

			report, err := analytics.Health(cmd.Context())
			if err != nil {
				return err
			}
			renderHealth(cmd.OutOrStdout(), report)
			return nil
		},
	}

	analyticsCmd.AddCommand(distributionCmd, healthCmd)
	return analyticsCmd
}

// connectAnalytics reads the same environment as the api process.
func connectAnalytics() (queries.AnalyticsQueries, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return queries.AnalyticsQueries{}, nil, err
	}
	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return queries.AnalyticsQueries{}, nil, err
	}
	logger := telemetry.NewLogger("warn", "text", os.Stderr)
	store := postgresadapter.NewStore(pg.DB, logger)
	power := application.NewPowerCalculator(
		directory.NewProjection(pg.DB, logger),
		cfg.ExternalCallTimeout,
		cfg.TallyConcurrency,
		logger,
	)
	closeDB := func() {
		if err := pg.Close(); err != nil {
			slog.Warn("close postgres failed", "error", err.Error())
		}
	}
	return queries.AnalyticsQueries{
		Store:  store,
		Power:  power,
		Clock:  store,
		Logger: logger,
	}, closeDB, nil
}

func renderDistribution(w io.Writer, report entities.DistributionReport) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Voting power distribution")
	scope := string(report.ProposalType)
	if scope == "" {
		scope = "all"
	}
	summary.AppendRows([]table.Row{
		{"Scope", scope},
		{"Participants", report.ParticipantCount},
		{"Total power", report.TotalPower.String()},
		{"Gini", fmt.Sprintf("%.4f", report.Gini)},
		{"Nakamoto", report.Nakamoto},
		{"HHI", fmt.Sprintf("%.4f", report.Herfindahl)},
		{"Top 10% share", fmt.Sprintf("%.2f%%", report.TopDecileShare*100)},
	})
	summary.Render()

	if len(report.TopHolders) == 0 {
		return
	}
	holders := table.NewWriter()
	holders.SetOutputMirror(w)
	holders.SetStyle(table.StyleLight)
	holders.AppendHeader(table.Row{"#", "Participant", "Power"})
	for i, holder := range report.TopHolders {
		holders.AppendRow(table.Row{i + 1, holder.ParticipantID, holder.Power.String()})
	}
	holders.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	holders.Render()
}

func renderHealth(w io.Writer, report entities.HealthReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Governance health")

	statuses := make([]string, 0, len(report.ProposalsByStatus))
	for status := range report.ProposalsByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		t.AppendRow(table.Row{"Proposals " + status, report.ProposalsByStatus[entities.ProposalStatus(status)]})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Active delegations", report.ActiveDelegations},
		{"Delegated power share", fmt.Sprintf("%.2f%%", report.DelegatedPowerShare*100)},
		{"Average turnout", fmt.Sprintf("%.2f%%", report.AverageTurnout*100)},
		{"Execution success rate", fmt.Sprintf("%.2f%%", report.ExecutionSuccessRate*100)},
		{"Pending executions", report.PendingExecutions},
	})
	t.Render()
}

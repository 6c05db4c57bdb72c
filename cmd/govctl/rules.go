package main

import (
	"fmt"
	"io"

	"agora/contexts/governance/governance-engine/adapters/rulefile"
	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect governance rule seed files",
	}
	rulesCmd.AddCommand(&cobra.Command{
		Use:   "lint <file>",
		Short: "Parse and validate a rule seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := rulefile.LoadFile(args[0])
			if err != nil {
				return err
			}
			renderRules(cmd.OutOrStdout(), params)
			fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) valid\n", len(params))
			return nil
		},
	})
	return rulesCmd
}

func renderRules(w io.Writer, params []entities.RuleParams) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Type", "Quorum %", "Approval %", "Voting", "Delay", "Multi-sig", "Delegation", "Min tokens", "Deposit"})
	for _, p := range params {
		multiSig := "no"
		if p.RequiresMultiSig {
			multiSig = fmt.Sprintf("%d sig", p.RequiredSignatures)
		}
		t.AppendRow(table.Row{
			string(p.ProposalType),
			p.MinimumQuorumPercent.String(),
			p.ApprovalThresholdPercent.String(),
			p.VotingPeriod.String(),
			p.ExecutionDelay.String(),
			multiSig,
			yesNo(p.AllowDelegation),
			p.MinimumTokensToPropose.String(),
			p.ProposalDeposit.String(),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})
	t.Render()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

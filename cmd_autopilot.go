package main

import (
	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/plan"
)

func newAutopilotCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Search, flatten, align and concatenate in one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stages := plan.Autopilot
			if reset {
				stages = append([]plan.Stage{plan.StageReset}, stages...)
			}
			return runPlan(cmd, plan.New(stages...))
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete the record database before searching")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/plan"
)

func newRunCmd() *cobra.Command {
	var commands string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a comma separated list of stages",
		Long:  "Run the given stages in pipeline order: reset, search, flatten, align, concatenate, publish. \"autopilot\" stands for search,flatten,align,concatenate.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pl, err := plan.Parse(commands)
			if err != nil {
				return err
			}
			return runPlan(cmd, pl)
		},
	}

	cmd.Flags().StringVarP(&commands, "commands", "c", "autopilot", "Stages to run")
	return cmd
}

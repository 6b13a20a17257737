package main

import (
	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/plan"
)

func newFlattenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Reduce the records of each organism to one flat record per locus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, plan.New(plan.StageFlatten))
		},
	}
	return cmd
}

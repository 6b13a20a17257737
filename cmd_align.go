package main

import (
	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/plan"
)

func newAlignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align the flat records of every locus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, plan.New(plan.StageAlign))
		},
	}
	return cmd
}

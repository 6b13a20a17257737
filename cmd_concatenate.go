package main

import (
	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/plan"
)

func newConcatenateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "concatenate",
		Short: "Concatenate the locus alignments into a supermatrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, plan.New(plan.StageConcatenate))
		},
	}
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/plan"
)

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the supermatrix files to S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, plan.New(plan.StagePublish))
		},
	}
	return cmd
}

package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "phylomat",
		Short:        "phylomat - build phylogenetic supermatrices from archive records",
		Long:         "phylomat searches a sequence archive for the loci of a project, reduces the records of each organism to one flat record per locus and concatenates the per-locus alignments into a supermatrix.",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringP("project", "p", ".", "Project directory")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newFlattenCmd())
	cmd.AddCommand(newAlignCmd())
	cmd.AddCommand(newConcatenateCmd())
	cmd.AddCommand(newAutopilotCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newBlacklistCmd())
	cmd.AddCommand(newWhitelistCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func projectDir(cmd *cobra.Command) string {
	if f := cmd.Flag("project"); f != nil {
		return f.Value.String()
	}
	return "."
}

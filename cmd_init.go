package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project directory with a template config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.InitProject(projectDir(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized project in %s\nEdit %s and the files in %s before searching.\n",
				cfg.ProjectDir, cfg.ConfigPath(), cfg.StrategiesDir())
			return nil
		},
	}
	return cmd
}

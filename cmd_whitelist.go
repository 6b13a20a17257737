package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/flatten"
)

func newWhitelistCmd() *cobra.Command {
	var accessions []string

	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Reactivate blacklisted records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if len(accessions) == 0 {
				return fmt.Errorf("give at least one --accession")
			}
			prj, err := openProject(projectDir(cmd))
			if err != nil {
				return err
			}
			defer func() {
				if cerr := prj.Close(); err == nil {
					err = cerr
				}
			}()

			artifacts, err := db.NewArtifactDir(prj.cfg.FlattenDir())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			for _, acc := range accessions {
				if _, err := flatten.Whitelist(ctx, prj.store, artifacts, acc); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Whitelisted %s\n", acc)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&accessions, "accession", "a", nil, "Accession to reactivate (repeatable)")
	return cmd
}

package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/pkg/flatten"
)

func newBlacklistCmd() *cobra.Command {
	var (
		accessions []string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Inactivate records and keep them out of future searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if len(accessions) == 0 && !list {
				return fmt.Errorf("give --accession or --list")
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

			ctx := cmd.Context()
			for _, acc := range accessions {
				if _, err := flatten.Blacklist(ctx, prj.store, acc, prj.metrics); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Blacklisted %s\n", acc)
			}

			if list {
				entries, err := prj.store.Blacklist(ctx)
				if err != nil {
					return err
				}
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.Style().Format.Header = text.FormatDefault
				t.AppendHeader(table.Row{"Accession", "Internal reference", "Notes", "Added"})
				for _, e := range entries {
					t.AppendRow(table.Row{e.Accession, e.InternalReference, e.Notes, e.CreatedAt.Format(time.DateOnly)})
				}
				t.Render()
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&accessions, "accession", "a", nil, "Accession to blacklist (repeatable)")
	cmd.Flags().BoolVar(&list, "list", false, "Print the blacklist")
	return cmd
}

package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show record counts per locus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			prj, err := openProject(projectDir(cmd))
			if err != nil {
				return err
			}
			defer func() {
				if cerr := prj.Close(); err == nil {
					err = cerr
				}
			}()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.Style().Format.Header = text.FormatDefault
			t.Style().Format.Footer = text.FormatDefault
			t.AppendHeader(table.Row{"Locus", "Active raw", "Inactive raw", "Organisms", "Flat records"})
			t.SetColumnConfigs([]table.ColumnConfig{
				{Number: 2, Align: text.AlignRight},
				{Number: 3, Align: text.AlignRight},
				{Number: 4, Align: text.AlignRight},
				{Number: 5, Align: text.AlignRight},
			})

			var active, inactive, flat int
			for _, l := range prj.cfg.Loci {
				s, err := prj.store.SummarizeLocus(cmd.Context(), l.Name)
				if err != nil {
					return err
				}
				t.AppendRow(table.Row{s.Locus, s.ActiveRaw, s.InactiveRaw, s.Organisms, s.FlatRecords})
				active += s.ActiveRaw
				inactive += s.InactiveRaw
				flat += s.FlatRecords
			}
			t.AppendFooter(table.Row{"Total", active, inactive, "", flat})
			t.Render()
			return nil
		},
	}
	return cmd
}

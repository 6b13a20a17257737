package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yumyai/phylomat/internal/util"
	"github.com/yumyai/phylomat/pkg/export"
)

func newExportCmd() *cobra.Command {
	var (
		loci []string
		kind string
		out  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active records of loci as FASTA",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			k, err := export.ParseKind(kind)
			if err != nil {
				return err
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

			if len(loci) == 0 {
				for _, l := range prj.cfg.Loci {
					loci = append(loci, l.Name)
				}
			}
			for _, name := range loci {
				if _, ok := prj.cfg.Locus(name); !ok {
					return fmt.Errorf("unknown locus %q", name)
				}
			}

			if out == "" || out == "-" {
				_, err := export.Write(cmd.Context(), cmd.OutOrStdout(), prj.store, loci, k)
				return err
			}
			var buf bytes.Buffer
			n, err := export.Write(cmd.Context(), &buf, prj.store, loci, k)
			if err != nil {
				return err
			}
			if err := util.WriteFileAtomic(out, buf.Bytes()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d sequences to %s\n", n, out)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&loci, "locus", "l", nil, "Locus to export (repeatable, default all)")
	cmd.Flags().StringVar(&kind, "kind", "raw", "Record kind: raw or flat")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/internal/pipeline"
	"github.com/yumyai/phylomat/internal/util"
	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/aligner"
	"github.com/yumyai/phylomat/pkg/archive"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/metrics"
	"github.com/yumyai/phylomat/pkg/plan"
	"github.com/yumyai/phylomat/pkg/publish"
)

// project is an opened project directory: its configuration, its record
// store and the metrics of this invocation.
type project struct {
	cfg     config.Config
	store   *db.Store
	metrics *metrics.Recorder
}

func openProject(dir string) (*project, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %v", config.ErrConfig, err)
	}
	if err := util.PrepareDir(cfg.OutputDir()); err != nil {
		return nil, err
	}
	if err := logger.InitLogger(level, cfg.LogPath()); err != nil {
		return nil, err
	}
	store, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	logger.Debug("project opened", zap.String("dir", dir), zap.String("db", cfg.DBPath()))
	return &project{cfg: cfg, store: store, metrics: metrics.New()}, nil
}

func (p *project) Close() error {
	var errs []error
	if err := p.metrics.WriteTextfile(p.cfg.MetricsPath()); err != nil {
		errs = append(errs, fmt.Errorf("write metrics: %w", err))
	}
	if err := p.store.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = logger.Sync()
	return errors.Join(errs...)
}

func (p *project) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	pl := &pipeline.Pipeline{
		Config: p.cfg,
		Store:  p.store,
		Archive: archive.NewNCBI(archive.Options{Email: p.cfg.Email}),
		Aligner: aligner.NewExternal(aligner.Options{
			Mafft:        p.cfg.Executables.Mafft,
			Vsearch:      p.cfg.Executables.Vsearch,
			MafftOptions: p.cfg.Flatten.AlignOptions,
			Timeout:      p.cfg.Flatten.Timeout,
			TempDir:      p.cfg.TempDir(),
		}),
		Metrics: p.metrics,
		Reopen:  func() (*db.Store, error) { return db.Open(p.cfg.DBPath()) },
	}
	if p.cfg.S3.Bucket != "" {
		up, err := publish.New(ctx, p.cfg.S3)
		if err != nil {
			return nil, err
		}
		pl.Uploader = up
	}
	return pl, nil
}

// runPlan opens the project of cmd and runs pl against it.
func runPlan(cmd *cobra.Command, pl plan.Plan) (err error) {
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
	pipe, err := prj.pipeline(ctx)
	if err != nil {
		return err
	}
	sum, err := pipe.Run(ctx, pl)
	// A reset swaps the store.
	prj.store = pipe.Store
	printSummary(cmd, sum)
	return err
}

func printSummary(cmd *cobra.Command, sum pipeline.Summary) {
	out := cmd.OutOrStdout()
	for _, s := range sum.Searched {
		fmt.Fprintf(out, "search %s: %d found, %d added, %d known, %d blacklisted, %d too long\n",
			s.Locus, s.Found, s.Added, s.Known, s.Blacklisted, s.TooLong)
	}
	if len(sum.Flatten) > 0 {
		counts := map[string]int{}
		for _, r := range sum.Flatten {
			counts[string(r.Outcome)]++
		}
		fmt.Fprintf(out, "flatten: %d pairs", len(sum.Flatten))
		for _, o := range []string{"created", "updated", "deleted", "current", "skipped"} {
			if counts[o] > 0 {
				fmt.Fprintf(out, ", %d %s", counts[o], o)
			}
		}
		fmt.Fprintln(out)
	}
	if sum.Matrix != nil {
		fmt.Fprintf(out, "supermatrix: %d taxa, %d loci\n", len(sum.Matrix.Taxa), len(sum.Matrix.Loci))
	}
	for _, key := range sum.Uploaded {
		fmt.Fprintf(out, "uploaded %s\n", key)
	}
}

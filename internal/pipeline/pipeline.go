// Package pipeline runs the stages enabled in a plan against one project.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/aligner"
	"github.com/yumyai/phylomat/pkg/archive"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/flatten"
	"github.com/yumyai/phylomat/pkg/ingest"
	"github.com/yumyai/phylomat/pkg/metrics"
	"github.com/yumyai/phylomat/pkg/plan"
	"github.com/yumyai/phylomat/pkg/supermatrix"
	"github.com/yumyai/phylomat/pkg/taxonomy"
)

// Uploader publishes the files of the supermatrix directory.
type Uploader interface {
	PublishDir(ctx context.Context, dir string) ([]string, error)
}

// Pipeline holds the collaborators of one run. Archive and Uploader may be
// nil when the plan does not need them.
type Pipeline struct {
	Config   config.Config
	Store    *db.Store
	Archive  archive.Client
	Aligner  aligner.Service
	Uploader Uploader
	Metrics  *metrics.Recorder

	// Reopen replaces Store after a reset.
	Reopen func() (*db.Store, error)
}

// Summary of a run, for the CLI.
type Summary struct {
	Plan     plan.Plan
	Searched []ingest.Stats
	Flatten  []flatten.Result
	Matrix   *supermatrix.Matrix
	Uploaded []string
}

// Run executes the enabled stages in order. Low-confidence flattening turns
// off the align and concatenate stages for the rest of the run.
func (p *Pipeline) Run(ctx context.Context, pl plan.Plan) (Summary, error) {
	sum := Summary{Plan: pl}
	logger.Info("run started", zap.String("plan", pl.String()))

	if pl.Enabled(plan.StageReset) {
		if err := p.stage(plan.StageReset, func() error { return p.reset() }); err != nil {
			return sum, err
		}
	}
	if pl.Enabled(plan.StageSearch) {
		err := p.stage(plan.StageSearch, func() (err error) {
			sum.Searched, err = p.search(ctx)
			return err
		})
		if err != nil {
			return sum, err
		}
	}
	if pl.Enabled(plan.StageFlatten) {
		err := p.stage(plan.StageFlatten, func() (err error) {
			pl, sum.Flatten, err = p.flatten(ctx, pl)
			return err
		})
		if err != nil {
			return sum, err
		}
		sum.Plan = pl
	}

	builder := supermatrix.NewBuilder(p.Store, p.Aligner, p.Config)
	if pl.Enabled(plan.StageAlign) {
		if err := p.stage(plan.StageAlign, func() error { return builder.AlignAll(ctx) }); err != nil {
			return sum, err
		}
	}
	if pl.Enabled(plan.StageConcatenate) {
		err := p.stage(plan.StageConcatenate, func() error {
			m, err := builder.Concatenate(ctx)
			if errors.Is(err, supermatrix.ErrNoAlignments) {
				logger.Warn("nothing to concatenate")
				return nil
			}
			sum.Matrix = &m
			return err
		})
		if err != nil {
			return sum, err
		}
	}
	if pl.Enabled(plan.StagePublish) {
		err := p.stage(plan.StagePublish, func() (err error) {
			if p.Uploader == nil {
				return fmt.Errorf("%w: publishing needs an s3 bucket", config.ErrConfig)
			}
			sum.Uploaded, err = p.Uploader.PublishDir(ctx, p.Config.AlignDir())
			return err
		})
		if err != nil {
			return sum, err
		}
	}

	logger.Info("run finished", zap.String("plan", sum.Plan.String()))
	return sum, nil
}

func (p *Pipeline) stage(s plan.Stage, fn func() error) error {
	start := time.Now()
	logger.Info("stage started", zap.String("stage", string(s)))
	err := fn()
	p.Metrics.Stage(string(s), time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	return nil
}

func (p *Pipeline) reset() error {
	if p.Reopen == nil {
		return fmt.Errorf("reset is not available")
	}
	if err := p.Store.Close(); err != nil {
		return err
	}
	if err := os.Remove(p.Config.DBPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	store, err := p.Reopen()
	if err != nil {
		return err
	}
	p.Store = store
	logger.Info("database reset", zap.String("path", p.Config.DBPath()))
	return nil
}

func (p *Pipeline) search(ctx context.Context) ([]ingest.Stats, error) {
	if p.Archive == nil {
		return nil, fmt.Errorf("searching needs an archive client")
	}
	resolver := taxonomy.NewResolver(p.Archive)
	taxids, err := resolver.TaxIDs(ctx, p.Config.MainTaxa)
	if err != nil {
		return nil, err
	}
	excluded, err := resolver.TaxIDs(ctx, p.Config.ExcludedTaxa)
	if err != nil {
		return nil, err
	}
	in := ingest.New(p.Store, p.Archive, resolver, p.Config.MaxSeqLength, p.Metrics)
	return in.SearchAll(ctx, p.Config.Loci, taxids, excluded)
}

func (p *Pipeline) flatten(ctx context.Context, pl plan.Plan) (plan.Plan, []flatten.Result, error) {
	artifacts, err := db.NewArtifactDir(p.Config.FlattenDir())
	if err != nil {
		return pl, nil, err
	}
	if err := artifacts.CleanStale(); err != nil {
		logger.Warn("failed to clean stale artifacts", zap.Error(err))
	}
	engine := flatten.NewEngine(p.Store, artifacts, p.Aligner, p.Config.Flatten, p.Metrics)

	var all []flatten.Result
	for _, l := range p.Config.Loci {
		next, results, err := engine.FlattenLocus(ctx, l, pl)
		all = append(all, results...)
		if err != nil {
			return pl, all, err
		}
		if !next.Enabled(plan.StageAlign) && pl.Enabled(plan.StageAlign) {
			logger.Warn("low-confidence alignments, align and concatenate disabled", zap.String("locus", l.Name))
		}
		pl = next
		for _, r := range results {
			if r.Err != nil {
				logger.Warn("pair skipped", zap.String("locus", r.Locus), zap.String("organism", r.Organism), zap.Error(r.Err))
			}
		}
	}
	return pl, all, nil
}

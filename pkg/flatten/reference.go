package flatten

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/yumyai/phylomat/internal/util"
	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/aligner"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/locus"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/seqio"
)

// ReferenceBuilder produces the per-locus reference set that guides the
// flattening alignments. Once written, a reference file is never recomputed.
type ReferenceBuilder struct {
	artifacts *db.ArtifactDir
	aligner   aligner.Service
}

func NewReferenceBuilder(artifacts *db.ArtifactDir, svc aligner.Service) *ReferenceBuilder {
	return &ReferenceBuilder{artifacts: artifacts, aligner: svc}
}

// BuildOrLoad returns the reference set of the trimmer's locus, building it
// from raw when no reference file exists yet.
func (b *ReferenceBuilder) BuildOrLoad(ctx context.Context, trimmer *locus.Trimmer, raw []model.Record) ([]model.Sequence, error) {
	name := trimmer.Locus().Name
	path := b.artifacts.ReferencePath(name)
	if util.FileExists(path) {
		refs, err := seqio.ReadFastaFile(path)
		if err != nil {
			return nil, fmt.Errorf("load reference set %s: %w", path, err)
		}
		return refs, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var trimmed []model.Sequence
	for i := range raw {
		region := trimmer.Trim(&raw[i])
		if region.Empty() {
			continue
		}
		trimmed = append(trimmed, model.Sequence{ID: raw[i].Label(), Seq: region.Seq})
	}
	if len(trimmed) == 0 {
		return nil, nil
	}

	cutoff := lengthCutoff(trimmed)
	var kept []model.Sequence
	for _, s := range trimmed {
		if float64(len(s.Seq)) >= cutoff {
			kept = append(kept, s)
		}
	}

	refs, err := b.aligner.Dereplicate(ctx, kept, aligner.DefaultDerep)
	if err != nil {
		return nil, fmt.Errorf("dereplicate %s references: %w", name, err)
	}

	data, err := seqio.FormatFasta(refs)
	if err != nil {
		return nil, err
	}
	if err := util.WriteFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("write reference set %s: %w", path, err)
	}

	logger.Info("reference set built",
		zap.String("locus", name),
		zap.Int("trimmed", len(trimmed)),
		zap.Int("kept", len(kept)),
		zap.Int("references", len(refs)),
		zap.Float64("length_cutoff", cutoff))
	return refs, nil
}

// lengthCutoff is min(median, mean) - 0.5 * population standard deviation.
func lengthCutoff(seqs []model.Sequence) float64 {
	lengths := make([]float64, len(seqs))
	for i, s := range seqs {
		lengths[i] = float64(len(s.Seq))
	}
	mean, std := stat.PopMeanStdDev(lengths, nil)
	return math.Min(median(lengths), mean) - 0.5*std
}

func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Package supermatrix aligns the flat records of every locus across taxa and
// concatenates the per-locus alignments into the input files of a
// tree-building run.
package supermatrix

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/internal/util"
	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/aligner"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/plan"
	"github.com/yumyai/phylomat/pkg/seqio"
)

var (
	ErrNoAlignments = errors.New("no locus alignments to concatenate")
	errAlignment    = errors.New("cross-taxon alignment failed")
)

// Output file names inside the align directory.
const (
	ConcatenatedFile    = "concatenated.phy"
	PresenceFile        = "locus-presence.csv"
	PartitionsFile      = "locus-partitions.csv"
	RaxmlPartitionsFile = "locus-partitions-raxml.txt"
	RaxmlCommandsFile   = "raxml-commands.txt"
)

type Builder struct {
	store   *db.Store
	aligner aligner.Service
	labeler *Labeler
	dir     string
	loci    []string
	options []string

	seed func() int
}

func NewBuilder(store *db.Store, svc aligner.Service, cfg config.Config) *Builder {
	loci := make([]string, 0, len(cfg.Loci))
	for _, l := range cfg.Loci {
		loci = append(loci, l.Name)
	}
	return &Builder{
		store:   store,
		aligner: svc,
		labeler: NewLabeler(cfg.Align.TaxonName, cfg.OutgroupTaxa),
		dir:     cfg.AlignDir(),
		loci:    loci,
		options: cfg.Align.AlignOptions,
		seed:    func() int { return rand.IntN(1000000000) },
	}
}

func (b *Builder) AlignmentPath(locus string) string {
	return filepath.Join(b.dir, util.SafeName(locus)+".phy")
}

// Run executes the align and concatenate stages enabled in p.
func (b *Builder) Run(ctx context.Context, p plan.Plan) error {
	if p.Enabled(plan.StageAlign) {
		if err := b.AlignAll(ctx); err != nil {
			return err
		}
	}
	if p.Enabled(plan.StageConcatenate) {
		if _, err := b.Concatenate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AlignAll aligns every configured locus. A locus whose alignment fails is
// logged and skipped.
func (b *Builder) AlignAll(ctx context.Context) error {
	if err := util.PrepareDir(b.dir); err != nil {
		return err
	}
	for _, name := range b.loci {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := b.AlignLocus(ctx, name)
		if errors.Is(err, errAlignment) {
			logger.Error("skipping locus", zap.String("locus", name), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// AlignLocus aligns the active flat records of locus across taxa and writes
// the result to AlignmentPath(locus). Without flat records any previous
// alignment file is removed and nil is returned.
func (b *Builder) AlignLocus(ctx context.Context, locus string) (model.Aligned, error) {
	path := b.AlignmentPath(locus)
	flats, err := b.store.RecordsWithAnnotation(ctx, model.AnnotationLocusFlat, locus, true, false)
	if err != nil {
		return nil, fmt.Errorf("load flat records of %s: %w", locus, err)
	}
	if len(flats) == 0 {
		logger.Warn("no flat records to align", zap.String("locus", locus))
		return nil, util.RemoveIfExists(path)
	}

	organisms := map[int64]model.Organism{}
	seen := map[string]int{}
	records := make([]model.Sequence, 0, len(flats))
	for _, f := range flats {
		org, ok := organisms[f.OrganismID]
		if !ok {
			if org, err = b.store.GetOrganism(ctx, f.OrganismID); err != nil {
				return nil, fmt.Errorf("organism of %s: %w", f.Label(), err)
			}
			organisms[f.OrganismID] = org
		}
		label := b.labeler.Label(org)
		seen[label]++
		if n := seen[label]; n > 1 {
			logger.Warn("duplicate taxon label", zap.String("label", label), zap.String("locus", locus))
			label += "_" + strconv.Itoa(n)
		}
		records = append(records, model.Sequence{ID: label, Seq: f.Sequence})
	}

	aln, _, err := b.aligner.Align(ctx, aligner.Request{Records: records, Options: b.options})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errAlignment, locus, err)
	}

	data, err := seqio.FormatPhylip(aln)
	if err != nil {
		return nil, err
	}
	if err := util.WriteFileAtomic(path, data); err != nil {
		return nil, err
	}
	logger.Info("locus aligned",
		zap.String("locus", locus),
		zap.Int("taxa", len(aln)),
		zap.Int("columns", aln.Width()),
		zap.String("file", path))
	return aln, nil
}

type Partition struct {
	Locus string
	// 1-based, inclusive.
	Start int
	End   int
}

// Matrix is a set of locus alignments concatenated column-wise.
type Matrix struct {
	Loci       []string
	Taxa       []string
	Rows       model.Aligned
	Partitions []Partition
	// Presence[taxon][i] reports whether taxon has a row in Loci[i].
	Presence map[string][]bool
}

// Join concatenates alns in order. Taxa appear in order of first occurrence;
// a taxon missing from a locus is padded with gaps over that locus's width.
func Join(loci []string, alns []model.Aligned) (Matrix, error) {
	if len(loci) != len(alns) {
		return Matrix{}, fmt.Errorf("%d loci for %d alignments", len(loci), len(alns))
	}
	m := Matrix{Loci: loci, Presence: map[string][]bool{}}
	for i, aln := range alns {
		if err := aln.Validate(); err != nil {
			return Matrix{}, fmt.Errorf("locus %s: %w", loci[i], err)
		}
		for _, row := range aln {
			if _, ok := m.Presence[row.ID]; !ok {
				m.Presence[row.ID] = make([]bool, len(loci))
				m.Taxa = append(m.Taxa, row.ID)
			}
			m.Presence[row.ID][i] = true
		}
	}

	builders := make([]strings.Builder, len(m.Taxa))
	offset := 0
	for i, aln := range alns {
		w := aln.Width()
		rows := aln.ByID()
		for j, taxon := range m.Taxa {
			if row, ok := rows[taxon]; ok {
				builders[j].WriteString(row.Seq)
			} else {
				builders[j].WriteString(strings.Repeat(string(model.Gap), w))
			}
		}
		m.Partitions = append(m.Partitions, Partition{Locus: loci[i], Start: offset + 1, End: offset + w})
		offset += w
	}
	for j, taxon := range m.Taxa {
		m.Rows = append(m.Rows, model.Sequence{ID: taxon, Seq: builders[j].String()})
	}
	return m, nil
}

// Concatenate reads the locus alignments in configuration order, joins them
// and writes the supermatrix, the presence table, the partition files and a
// RAxML command script. Loci without an alignment file are left out.
func (b *Builder) Concatenate(ctx context.Context) (Matrix, error) {
	var (
		loci []string
		alns []model.Aligned
	)
	for _, name := range b.loci {
		if err := ctx.Err(); err != nil {
			return Matrix{}, err
		}
		path := b.AlignmentPath(name)
		if !util.FileExists(path) {
			logger.Warn("locus has no alignment, leaving it out", zap.String("locus", name), zap.String("file", path))
			continue
		}
		aln, err := seqio.ReadPhylipFile(path)
		if err != nil {
			return Matrix{}, fmt.Errorf("load alignment of %s: %w", name, err)
		}
		loci = append(loci, name)
		alns = append(alns, aln)
	}
	if len(alns) == 0 {
		return Matrix{}, ErrNoAlignments
	}

	m, err := Join(loci, alns)
	if err != nil {
		return Matrix{}, err
	}
	if err := b.write(m); err != nil {
		return Matrix{}, err
	}
	logger.Info("alignments concatenated",
		zap.Int("loci", len(m.Loci)),
		zap.Int("taxa", len(m.Taxa)),
		zap.Int("columns", m.Rows.Width()))
	return m, nil
}

func (b *Builder) write(m Matrix) error {
	concatenated := filepath.Join(b.dir, ConcatenatedFile)
	data, err := seqio.FormatPhylip(m.Rows)
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(concatenated, data); err != nil {
		return err
	}

	if data, err = presenceCSV(m); err != nil {
		return err
	}
	if err := util.WriteFileAtomic(filepath.Join(b.dir, PresenceFile), data); err != nil {
		return err
	}

	if data, err = partitionsCSV(m); err != nil {
		return err
	}
	if err := util.WriteFileAtomic(filepath.Join(b.dir, PartitionsFile), data); err != nil {
		return err
	}

	raxmlPartitions := filepath.Join(b.dir, RaxmlPartitionsFile)
	var buf bytes.Buffer
	for _, p := range m.Partitions {
		fmt.Fprintf(&buf, "DNA, %s = %d-%d\n", p.Locus, p.Start, p.End)
	}
	if err := util.WriteFileAtomic(raxmlPartitions, buf.Bytes()); err != nil {
		return err
	}

	seed := strconv.Itoa(b.seed())
	workDir := filepath.Join(b.dir, "RAxML_"+seed)
	if err := util.PrepareDir(workDir); err != nil {
		return err
	}
	var outgroups []string
	for _, taxon := range m.Taxa {
		if IsOutgroupLabel(taxon) {
			outgroups = append(outgroups, taxon)
		}
	}
	buf.Reset()
	fmt.Fprintf(&buf, "raxml \\\n-s %s \\\n-q %s \\\n-o \"%s\" \\\n-w %s \\\n", concatenated, raxmlPartitions, strings.Join(outgroups, ","), workDir)
	buf.WriteString("-m GTRCAT \\\n-j \\\n-T 4 \\\n-N 1 \\\n")
	fmt.Fprintf(&buf, "-p %s \\\n-n %s\n", seed, seed)
	return util.WriteFileAtomic(filepath.Join(b.dir, RaxmlCommandsFile), buf.Bytes())
}

func presenceCSV(m Matrix) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"taxon", "count"}, m.Loci...)); err != nil {
		return nil, err
	}
	for _, taxon := range m.Taxa {
		record := []string{taxon, ""}
		count := 0
		for _, present := range m.Presence[taxon] {
			if present {
				count++
				record = append(record, "1")
			} else {
				record = append(record, "0")
			}
		}
		record[1] = strconv.Itoa(count)
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func partitionsCSV(m Matrix) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"locus", "start", "end"}); err != nil {
		return nil, err
	}
	for _, p := range m.Partitions {
		if err := w.Write([]string{p.Locus, strconv.Itoa(p.Start), strconv.Itoa(p.End)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

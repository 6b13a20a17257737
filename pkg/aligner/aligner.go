// Package aligner wraps the external multiple alignment (MAFFT) and
// clustering (VSEARCH) programs and computes consensus and identity scores.
package aligner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/seqio"
)

// Request describes one alignment job.
type Request struct {
	// Records are unaligned sequences.
	Records []model.Sequence
	// Existing rows are kept and Records are added to them.
	Existing model.Aligned
	// References guide the alignment and are removed from the result.
	References []model.Sequence
	// Options override the adapter's program options when set.
	Options  []string
	IDBottom float64
	IDTop    float64
}

type DerepParams struct {
	Identity      float64
	SeedCoverage  float64
	QueryCoverage float64
}

// DefaultDerep are the reference set parameters.
var DefaultDerep = DerepParams{Identity: 0.90, SeedCoverage: 0.30, QueryCoverage: 0.80}

type Service interface {
	Align(ctx context.Context, req Request) (model.Aligned, float64, error)
	Consensus(aln model.Aligned, threshold float64, resolveAmbiguities bool) string
	Dereplicate(ctx context.Context, seqs []model.Sequence, p DerepParams) ([]model.Sequence, error)
}

type Options struct {
	Mafft   string
	Vsearch string
	// MafftOptions are passed before the input files, e.g. --auto.
	MafftOptions []string
	Timeout      time.Duration
	TempDir      string
}

// External runs MAFFT and VSEARCH executables.
type External struct {
	opts Options
}

func NewExternal(opts Options) *External {
	if opts.Mafft == "" {
		opts.Mafft = "mafft"
	}
	if opts.Vsearch == "" {
		opts.Vsearch = "vsearch"
	}
	return &External{opts: opts}
}

func (e *External) Consensus(aln model.Aligned, threshold float64, resolveAmbiguities bool) string {
	return Consensus(aln, threshold, resolveAmbiguities)
}

// Align aligns the request records. Without existing rows the records are
// first aligned alone; when that scores below IDTop and references exist,
// they are realigned together with the references and the better result
// wins.
func (e *External) Align(ctx context.Context, req Request) (model.Aligned, float64, error) {
	opts := req.Options
	if opts == nil {
		opts = e.opts.MafftOptions
	}

	if len(req.Existing) > 0 {
		if len(req.Records) == 0 {
			return req.Existing.Upper(), Identity(req.Existing), nil
		}
		aln, err := e.mafftAdd(ctx, opts, req.Existing, req.Records)
		if err != nil {
			return nil, 0, err
		}
		return aln, Identity(aln), nil
	}

	if len(req.Records) == 0 {
		return nil, 0, errors.New("nothing to align")
	}
	if len(req.Records) == 1 {
		aln := model.Aligned{{ID: req.Records[0].ID, Seq: strings.ToUpper(req.Records[0].Seq)}}
		return aln, 1, nil
	}

	aln, err := e.mafft(ctx, opts, req.Records)
	if err != nil {
		return nil, 0, err
	}
	score := Identity(aln)
	if score >= req.IDTop || len(req.References) == 0 {
		return aln, score, nil
	}

	withRefs := append(append([]model.Sequence{}, req.Records...), req.References...)
	guided, err := e.mafft(ctx, opts, withRefs)
	if err != nil {
		return nil, 0, err
	}
	guided = guided[:len(req.Records)].DropEmptyColumns()
	guidedScore := Identity(guided)

	logger.Debug("reference guided alignment",
		zap.Float64("plain", score), zap.Float64("guided", guidedScore), zap.Int("references", len(req.References)))

	if guidedScore > score {
		return guided, guidedScore, nil
	}
	return aln, score, nil
}

// Dereplicate clusters seqs with vsearch --cluster_fast and returns the
// centroids in input order.
func (e *External) Dereplicate(ctx context.Context, seqs []model.Sequence, p DerepParams) ([]model.Sequence, error) {
	if len(seqs) < 2 {
		return seqs, nil
	}
	dir, cleanup, err := e.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "in.fasta")
	out := filepath.Join(dir, "centroids.fasta")
	if err := writeIndexed(in, seqs); err != nil {
		return nil, err
	}

	args := []string{
		"--cluster_fast", in,
		"--id", strconv.FormatFloat(p.Identity, 'f', -1, 64),
		"--query_cov", strconv.FormatFloat(p.QueryCoverage, 'f', -1, 64),
		"--target_cov", strconv.FormatFloat(p.SeedCoverage, 'f', -1, 64),
		"--centroids", out,
		"--quiet",
	}
	if _, err := e.run(ctx, e.opts.Vsearch, args); err != nil {
		return nil, err
	}

	centroids, err := seqio.ReadFastaFile(out)
	if err != nil {
		return nil, fmt.Errorf("read %s centroids: %w", e.opts.Vsearch, err)
	}
	keep := make([]bool, len(seqs))
	for _, c := range centroids {
		i, err := indexOf(c.ID, len(seqs))
		if err != nil {
			return nil, err
		}
		keep[i] = true
	}
	var result []model.Sequence
	for i, s := range seqs {
		if keep[i] {
			result = append(result, s)
		}
	}
	return result, nil
}

func (e *External) mafft(ctx context.Context, opts []string, seqs []model.Sequence) (model.Aligned, error) {
	dir, cleanup, err := e.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "in.fasta")
	if err := writeIndexed(in, seqs); err != nil {
		return nil, err
	}
	args := append(append([]string{}, opts...), in)
	out, err := e.run(ctx, e.opts.Mafft, args)
	if err != nil {
		return nil, err
	}
	return restoreIDs(out, seqs)
}

// mafftAdd keeps existing aligned and inserts added with --add.
func (e *External) mafftAdd(ctx context.Context, opts []string, existing model.Aligned, added []model.Sequence) (model.Aligned, error) {
	dir, cleanup, err := e.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	all := append(append([]model.Sequence{}, existing...), added...)
	existingPath := filepath.Join(dir, "existing.fasta")
	addPath := filepath.Join(dir, "add.fasta")
	if err := writeIndexedRange(existingPath, all, 0, len(existing), true); err != nil {
		return nil, err
	}
	if err := writeIndexedRange(addPath, all, len(existing), len(all), false); err != nil {
		return nil, err
	}

	args := append(append([]string{}, opts...), "--add", addPath, existingPath)
	out, err := e.run(ctx, e.opts.Mafft, args)
	if err != nil {
		return nil, err
	}
	return restoreIDs(out, all)
}

// run executes name with args and returns stdout.
func (e *External) run(ctx context.Context, name string, args []string) ([]byte, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("failed to execute %s: %w - %s", name, err, strings.TrimSpace(stderr.String()))
	}
	logger.Debug("external program finished", zap.String("program", name), zap.Duration("took", time.Since(start)))
	return out.Bytes(), nil
}

func (e *External) workDir() (string, func(), error) {
	base := e.opts.TempDir
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", nil, err
		}
	}
	dir, err := os.MkdirTemp(base, "align-*")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// Sequences are handed to the programs under positional ids ("s0", "s1", ...)
// so accession formatting never reaches their parsers.
func writeIndexed(path string, seqs []model.Sequence) error {
	return writeIndexedRange(path, seqs, 0, len(seqs), false)
}

func writeIndexedRange(path string, seqs []model.Sequence, from, to int, keepGaps bool) error {
	renamed := make([]model.Sequence, 0, to-from)
	for i := from; i < to; i++ {
		seq := seqs[i].Seq
		if !keepGaps {
			seq = seqs[i].Degapped()
		}
		renamed = append(renamed, model.Sequence{ID: "s" + strconv.Itoa(i), Seq: seq})
	}
	data, err := seqio.FormatFasta(renamed)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func indexOf(id string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimPrefix(id, "s"))
	if err != nil || !strings.HasPrefix(id, "s") || i < 0 || i >= n {
		return 0, fmt.Errorf("unexpected sequence id %q in program output", id)
	}
	return i, nil
}

func restoreIDs(fasta []byte, seqs []model.Sequence) (model.Aligned, error) {
	rows, err := seqio.ReadFasta(bytes.NewReader(fasta))
	if err != nil {
		return nil, fmt.Errorf("parse alignment: %w", err)
	}
	if len(rows) != len(seqs) {
		return nil, fmt.Errorf("alignment has %d rows, expected %d", len(rows), len(seqs))
	}
	out := make(model.Aligned, len(seqs))
	seen := make([]bool, len(seqs))
	for _, r := range rows {
		i, err := indexOf(r.ID, len(seqs))
		if err != nil {
			return nil, err
		}
		if seen[i] {
			return nil, fmt.Errorf("duplicate sequence id %q in alignment", r.ID)
		}
		seen[i] = true
		out[i] = model.Sequence{ID: seqs[i].ID, Seq: strings.ToUpper(r.Seq)}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

package db

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yumyai/phylomat/internal/util"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/seqio"
)

type ArtifactState int

const (
	ArtifactNone ArtifactState = iota
	ArtifactSequence
	ArtifactAlignment
)

func (s ArtifactState) String() string {
	switch s {
	case ArtifactSequence:
		return "sequence"
	case ArtifactAlignment:
		return "alignment"
	default:
		return "none"
	}
}

// Artifact is the result of one probe of a flat record's files.
type Artifact struct {
	State ArtifactState
	Path  string
	Rows  model.Aligned
}

// IDs lists the identifiers inside the artifact file.
func (a Artifact) IDs() []string { return a.Rows.IDs() }

// ArtifactDir is the folder hosting the flattening artifacts:
//
//	<dir>/<locus>__reference.fasta
//	<dir>/<locus>/<locus>__<Organism_name>.fasta
//	<dir>/<locus>/<locus>__<Organism_name>.phy
type ArtifactDir struct {
	Dir string
}

func NewArtifactDir(dir string) (*ArtifactDir, error) {
	if err := util.PrepareDir(dir); err != nil {
		return nil, fmt.Errorf("artifact dir %s: %w", dir, err)
	}
	return &ArtifactDir{Dir: dir}, nil
}

func (a *ArtifactDir) ReferencePath(locus string) string {
	return filepath.Join(a.Dir, util.SafeName(locus)+"__reference.fasta")
}

func (a *ArtifactDir) base(locus, organism string) string {
	l := util.SafeName(locus)
	return filepath.Join(a.Dir, l, l+"__"+util.SafeName(organism))
}

func (a *ArtifactDir) SequencePath(locus, organism string) string {
	return a.base(locus, organism) + ".fasta"
}

func (a *ArtifactDir) AlignmentPath(locus, organism string) string {
	return a.base(locus, organism) + ".phy"
}

// Invalidate removes both artifact files of one pair, so the next probe
// reports no prior artifact.
func (a *ArtifactDir) Invalidate(locus, organism string) error {
	for _, path := range []string{a.SequencePath(locus, organism), a.AlignmentPath(locus, organism)} {
		if err := util.RemoveIfExists(path); err != nil {
			return fmt.Errorf("invalidate artifact %s: %w", path, err)
		}
	}
	return nil
}

// Probe inspects the artifact files of one pair. An alignment file takes
// precedence over a sequence file.
func (a *ArtifactDir) Probe(locus, organism string) (Artifact, error) {
	phy := a.AlignmentPath(locus, organism)
	if util.FileExists(phy) {
		rows, err := seqio.ReadPhylipFile(phy)
		if err != nil {
			return Artifact{}, fmt.Errorf("read artifact %s: %w", phy, err)
		}
		return Artifact{State: ArtifactAlignment, Path: phy, Rows: rows}, nil
	}

	fasta := a.SequencePath(locus, organism)
	if util.FileExists(fasta) {
		seqs, err := seqio.ReadFastaFile(fasta)
		if err != nil {
			return Artifact{}, fmt.Errorf("read artifact %s: %w", fasta, err)
		}
		return Artifact{State: ArtifactSequence, Path: fasta, Rows: model.Aligned(seqs)}, nil
	}
	return Artifact{State: ArtifactNone}, nil
}

// Pending collects artifact writes and removals of one pair. Nothing touches
// the final paths until Commit, which runs after the store transaction.
type Pending struct {
	staged   map[string]string // final path -> temp path
	order    []string
	removals []string
}

func (a *ArtifactDir) NewPending() *Pending {
	return &Pending{staged: map[string]string{}}
}

// Write stages data for path in a temp file next to it.
func (p *Pending) Write(path string, data []byte) error {
	if err := util.PrepareDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pending-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if old, ok := p.staged[path]; ok {
		_ = os.Remove(old)
	} else {
		p.order = append(p.order, path)
	}
	p.staged[path] = tmp.Name()
	return nil
}

func (p *Pending) WriteFasta(path string, seqs []model.Sequence) error {
	data, err := seqio.FormatFasta(seqs)
	if err != nil {
		return err
	}
	return p.Write(path, data)
}

func (p *Pending) WritePhylip(path string, aln model.Aligned) error {
	data, err := seqio.FormatPhylip(aln)
	if err != nil {
		return err
	}
	return p.Write(path, data)
}

// Remove schedules path for deletion on Commit.
func (p *Pending) Remove(path string) {
	p.removals = append(p.removals, path)
}

// Commit renames staged files into place, then applies removals.
func (p *Pending) Commit() error {
	var errs []error
	for _, path := range p.order {
		if err := os.Rename(p.staged[path], path); err != nil {
			errs = append(errs, err)
		}
	}
	for _, path := range p.removals {
		if _, staged := p.staged[path]; staged {
			continue
		}
		if err := util.RemoveIfExists(path); err != nil {
			errs = append(errs, err)
		}
	}
	p.staged = map[string]string{}
	p.order = nil
	p.removals = nil
	return errors.Join(errs...)
}

// Discard drops staged files and forgets removals.
func (p *Pending) Discard() {
	for _, tmp := range p.staged {
		_ = os.Remove(tmp)
	}
	p.staged = map[string]string{}
	p.order = nil
	p.removals = nil
}

// CleanStale removes temp files left behind by an interrupted run.
func (a *ArtifactDir) CleanStale() error {
	return filepath.WalkDir(a.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".pending-") {
			return util.RemoveIfExists(path)
		}
		return nil
	})
}

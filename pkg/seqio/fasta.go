// Package seqio reads and writes the artifact formats: FASTA for sequences and
// relaxed PHYLIP for alignments.
package seqio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/yumyai/phylomat/pkg/model"
)

const fastaWidth = 60

// ReadFasta parses every record in r. Identifiers stop at the first space.
func ReadFasta(r io.Reader) ([]model.Sequence, error) {
	template := linear.NewSeq("", nil, alphabet.DNAredundant)
	sc := seqio.NewScanner(fasta.NewReader(r, template))

	var out []model.Sequence
	for sc.Next() {
		s, ok := sc.Seq().(*linear.Seq)
		if !ok {
			return nil, fmt.Errorf("unexpected sequence type %T", sc.Seq())
		}
		out = append(out, model.Sequence{ID: s.Name(), Seq: lettersToString(s.Seq)})
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("read fasta: %w", err)
	}
	return out, nil
}

func ReadFastaFile(path string) ([]model.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFasta(f)
}

// WriteFasta writes seqs wrapped at 60 columns.
func WriteFasta(w io.Writer, seqs []model.Sequence) error {
	fw := fasta.NewWriter(w, fastaWidth)
	for _, s := range seqs {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("fasta record without identifier")
		}
		ls := linear.NewSeq(s.ID, alphabet.BytesToLetters([]byte(s.Seq)), alphabet.DNAredundant)
		if _, err := fw.Write(ls); err != nil {
			return fmt.Errorf("write fasta %s: %w", s.ID, err)
		}
	}
	return nil
}

// FormatFasta renders seqs to bytes, ready for an atomic file write.
func FormatFasta(seqs []model.Sequence) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFasta(&buf, seqs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lettersToString(ls alphabet.Letters) string {
	b := make([]byte, len(ls))
	for i, l := range ls {
		b[i] = byte(l)
	}
	return string(b)
}

// Package export writes the active records of loci as FASTA.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/seqio"
)

type Kind string

const (
	KindRaw  Kind = "raw"
	KindFlat Kind = "flat"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindRaw:
		return KindRaw, nil
	case KindFlat:
		return KindFlat, nil
	default:
		return "", fmt.Errorf("unknown record kind %q (raw or flat)", s)
	}
}

// Annotation is the annotation type tying records of this kind to a locus.
func (k Kind) Annotation() string {
	if k == KindFlat {
		return model.AnnotationLocusFlat
	}
	return model.AnnotationLocus
}

// Sequences returns the active records of kind at locus, each identified by
// its label followed by the organism name.
func Sequences(ctx context.Context, store *db.Store, locus string, kind Kind) ([]model.Sequence, error) {
	recs, err := store.RecordsWithAnnotation(ctx, kind.Annotation(), locus, true, false)
	if err != nil {
		return nil, err
	}
	names := map[int64]string{}
	seqs := make([]model.Sequence, 0, len(recs))
	for _, r := range recs {
		if r.Sequence == "" || string(r.Kind) != string(kind) {
			continue
		}
		name, ok := names[r.OrganismID]
		if !ok && r.OrganismID != 0 {
			o, err := store.GetOrganism(ctx, r.OrganismID)
			if err != nil {
				return nil, fmt.Errorf("organism of %s: %w", r.Label(), err)
			}
			name = o.FlatName()
			names[r.OrganismID] = name
		}
		id := r.Label()
		if name != "" {
			id += " " + name
		}
		seqs = append(seqs, model.Sequence{ID: id, Seq: r.Sequence})
	}
	return seqs, nil
}

// Write writes the sequences of every locus to w and returns how many were
// written.
func Write(ctx context.Context, w io.Writer, store *db.Store, loci []string, kind Kind) (int, error) {
	n := 0
	for _, locus := range loci {
		seqs, err := Sequences(ctx, store, locus, kind)
		if err != nil {
			return n, err
		}
		if err := seqio.WriteFasta(w, seqs); err != nil {
			return n, err
		}
		n += len(seqs)
	}
	return n, nil
}

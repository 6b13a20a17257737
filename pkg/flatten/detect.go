package flatten

import (
	"sort"
	"strings"

	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/model"
)

type Kind string

const (
	NoPriorArtifact Kind = "no_prior_artifact"
	StaleAdditions  Kind = "stale_additions"
	StaleDeletions  Kind = "stale_deletions"
	ContentMismatch Kind = "content_mismatch"
	Current         Kind = "current"
)

// Change is the classification of one organism/locus pair.
type Change struct {
	Kind    Kind
	Added   []int64
	Deleted []int64
	// Redo forces a full retrim and realignment.
	Redo bool
	// Err explains a content mismatch.
	Err error
}

// DetectInput is everything the detector looks at for one pair.
type DetectInput struct {
	// Active are the ids of active raw records with a locus region.
	Active []int64
	Flat   *model.Record
	// Ancestry are the parent ids of Flat.
	Ancestry []int64
	Artifact db.Artifact
	// StoredRows are the alignment rows of Flat, when it has an alignment.
	StoredRows []db.AlignedRow
	// Accessions maps artifact identifiers to raw record ids.
	Accessions map[string]int64
}

// Detect classifies a pair. It never touches the store or the filesystem.
func Detect(in DetectInput) Change {
	if in.Flat == nil {
		return Change{Kind: NoPriorArtifact, Added: sorted(in.Active)}
	}

	active := toSet(in.Active)
	ancestry := toSet(in.Ancestry)
	hasArtifact := in.Artifact.State != db.ArtifactNone

	deleted := map[int64]bool{}
	for id := range ancestry {
		if !active[id] {
			deleted[id] = true
		}
	}

	unknownIDs := false
	if hasArtifact {
		fileIDs := map[int64]bool{}
		for _, acc := range in.Artifact.IDs() {
			id, ok := in.Accessions[acc]
			if !ok {
				unknownIDs = true
				continue
			}
			fileIDs[id] = true
		}
		for id := range fileIDs {
			if !ancestry[id] {
				deleted[id] = true
			}
		}
		for id := range ancestry {
			if !fileIDs[id] {
				deleted[id] = true
			}
		}
	}

	var added []int64
	for id := range active {
		if !ancestry[id] && !deleted[id] {
			added = append(added, id)
		}
	}

	switch {
	case len(deleted) > 0:
		return Change{Kind: StaleDeletions, Added: sorted(added), Deleted: sortedKeys(deleted), Redo: true}
	case len(added) > 0:
		return Change{Kind: StaleAdditions, Added: sorted(added)}
	case !hasArtifact:
		return Change{Kind: ContentMismatch, Redo: true, Err: ErrInconsistentAncestry}
	case unknownIDs || !contentMatches(in):
		return Change{Kind: ContentMismatch, Redo: true, Err: ErrInconsistentAncestry}
	}
	return Change{Kind: Current}
}

func contentMatches(in DetectInput) bool {
	if in.Artifact.State == db.ArtifactSequence {
		if len(in.StoredRows) > 0 || len(in.Artifact.Rows) != 1 {
			return false
		}
		return strings.EqualFold(in.Artifact.Rows[0].Seq, in.Flat.Sequence)
	}

	if len(in.StoredRows) != len(in.Artifact.Rows) {
		return false
	}
	fileRows := in.Artifact.Rows.ByID()
	for _, stored := range in.StoredRows {
		row, ok := fileRows[stored.Accession]
		if !ok || strings.ToUpper(row.Seq) != strings.ToUpper(stored.Row) {
			return false
		}
	}
	return true
}

func toSet(ids []int64) map[int64]bool {
	s := make(map[int64]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func sorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return sorted(out)
}

package flatten

import (
	"errors"
	"reflect"
	"testing"

	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/model"
)

func TestDetect(t *testing.T) {
	flat := &model.Record{ID: 100, Kind: model.RecordFlat, Sequence: "ACGT"}
	accessions := map[string]int64{"A.1": 1, "B.1": 2, "C.1": 3}

	single := db.Artifact{State: db.ArtifactSequence, Rows: model.Aligned{{ID: "A.1", Seq: "acgt"}}}
	aligned := db.Artifact{State: db.ArtifactAlignment, Rows: model.Aligned{{ID: "A.1", Seq: "AC-GT"}, {ID: "B.1", Seq: "ACGGT"}}}
	stored := []db.AlignedRow{{RecordID: 1, Accession: "A.1", Row: "AC-GT"}, {RecordID: 2, Accession: "B.1", Row: "ACGGT"}}

	tests := []struct {
		name    string
		in      DetectInput
		kind    Kind
		added   []int64
		deleted []int64
		redo    bool
	}{
		{
			name:  "NoFlatRecord",
			in:    DetectInput{Active: []int64{2, 1}},
			kind:  NoPriorArtifact,
			added: []int64{1, 2},
		},
		{
			name: "CurrentSingle",
			in:   DetectInput{Active: []int64{1}, Flat: flat, Ancestry: []int64{1}, Artifact: single, Accessions: accessions},
			kind: Current,
		},
		{
			name: "CurrentAligned",
			in:   DetectInput{Active: []int64{1, 2}, Flat: flat, Ancestry: []int64{1, 2}, Artifact: aligned, StoredRows: stored, Accessions: accessions},
			kind: Current,
		},
		{
			name:    "InactiveParent",
			in:      DetectInput{Active: []int64{1}, Flat: flat, Ancestry: []int64{1, 2}, Artifact: aligned, StoredRows: stored, Accessions: accessions},
			kind:    StaleDeletions,
			deleted: []int64{2},
			redo:    true,
		},
		{
			name:    "FileHasIDOutsideAncestry",
			in:      DetectInput{Active: []int64{1, 2}, Flat: flat, Ancestry: []int64{1}, Artifact: aligned, StoredRows: stored, Accessions: accessions},
			kind:    StaleDeletions,
			deleted: []int64{2},
			redo:    true,
		},
		{
			name:    "AncestryMissingFromFile",
			in:      DetectInput{Active: []int64{1, 2}, Flat: flat, Ancestry: []int64{1, 2}, Artifact: single, Accessions: accessions},
			kind:    StaleDeletions,
			deleted: []int64{2},
			redo:    true,
		},
		{
			name:  "Addition",
			in:    DetectInput{Active: []int64{1, 2, 3}, Flat: flat, Ancestry: []int64{1, 2}, Artifact: aligned, StoredRows: stored, Accessions: accessions},
			kind:  StaleAdditions,
			added: []int64{3},
		},
		{
			name:    "AdditionAndDeletion",
			in:      DetectInput{Active: []int64{1, 3}, Flat: flat, Ancestry: []int64{1, 2}, Artifact: aligned, StoredRows: stored, Accessions: accessions},
			kind:    StaleDeletions,
			added:   []int64{3},
			deleted: []int64{2},
			redo:    true,
		},
		{
			name: "ArtifactLost",
			in:   DetectInput{Active: []int64{1}, Flat: flat, Ancestry: []int64{1}, Accessions: accessions},
			kind: ContentMismatch,
			redo: true,
		},
		{
			name: "EditedSequence",
			in: DetectInput{Active: []int64{1}, Flat: flat, Ancestry: []int64{1}, Accessions: accessions,
				Artifact: db.Artifact{State: db.ArtifactSequence, Rows: model.Aligned{{ID: "A.1", Seq: "ACGA"}}}},
			kind: ContentMismatch,
			redo: true,
		},
		{
			name: "EditedAlignmentRow",
			in: DetectInput{Active: []int64{1, 2}, Flat: flat, Ancestry: []int64{1, 2}, StoredRows: stored, Accessions: accessions,
				Artifact: db.Artifact{State: db.ArtifactAlignment, Rows: model.Aligned{{ID: "A.1", Seq: "ACG-T"}, {ID: "B.1", Seq: "ACGGT"}}}},
			kind: ContentMismatch,
			redo: true,
		},
		{
			name: "UnknownIdentifierInFile",
			in: DetectInput{Active: []int64{1}, Flat: flat, Ancestry: []int64{1}, Accessions: accessions,
				Artifact: db.Artifact{State: db.ArtifactSequence, Rows: model.Aligned{{ID: "A.1", Seq: "ACGT"}, {ID: "renamed", Seq: "ACGT"}}}},
			kind: ContentMismatch,
			redo: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.in)
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %s, want %s", got.Kind, tt.kind)
			}
			if !reflect.DeepEqual(got.Added, tt.added) {
				t.Errorf("Added = %v, want %v", got.Added, tt.added)
			}
			if !reflect.DeepEqual(got.Deleted, tt.deleted) {
				t.Errorf("Deleted = %v, want %v", got.Deleted, tt.deleted)
			}
			if got.Redo != tt.redo {
				t.Errorf("Redo = %v, want %v", got.Redo, tt.redo)
			}
			if got.Kind == ContentMismatch && !errors.Is(got.Err, ErrInconsistentAncestry) {
				t.Errorf("content mismatch should carry ErrInconsistentAncestry, got %v", got.Err)
			}
		})
	}
}

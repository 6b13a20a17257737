package params

import (
	"testing"

	"github.com/yumyai/phylomat/pkg/model"
)

func TestParseRecordField(t *testing.T) {
	for _, name := range []string{"id", "accession", "organism", "length"} {
		if got := ParseRecordField(name).String(); got != name {
			t.Errorf("ParseRecordField(%q).String() = %q", name, got)
		}
	}
	if got := ParseRecordField("bogus"); got != RecordFieldID {
		t.Errorf("unknown field parsed as %v", got)
	}
}

func TestSort(t *testing.T) {
	recs := func() []model.Record {
		return []model.Record{
			{ID: 1, Accession: "B", Sequence: "AAAA"},
			{ID: 2, Accession: "C", Sequence: "AA"},
			{ID: 3, Accession: "A", Sequence: "AAA"},
		}
	}
	tests := []struct {
		name  string
		field RecordField
		desc  bool
		want  []int64
	}{
		{"ID", RecordFieldID, false, []int64{1, 2, 3}},
		{"Accession", RecordFieldAccession, false, []int64{3, 1, 2}},
		{"LengthDesc", RecordFieldLength, true, []int64{1, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recs()
			tt.field.Sort(got, tt.desc)
			for i, r := range got {
				if r.ID != tt.want[i] {
					t.Fatalf("order = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

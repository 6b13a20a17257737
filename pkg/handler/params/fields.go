package params

import (
	"sort"

	"github.com/yumyai/phylomat/pkg/model"
)

type RecordField int

const (
	RecordFieldID RecordField = iota
	RecordFieldAccession
	RecordFieldOrganism
	RecordFieldLength
)

func (s RecordField) String() string {
	switch s {
	case RecordFieldAccession:
		return "accession"
	case RecordFieldOrganism:
		return "organism"
	case RecordFieldLength:
		return "length"
	default:
		return "id"
	}
}

func ParseRecordField(field string) RecordField {
	switch field {
	case "accession":
		return RecordFieldAccession
	case "organism":
		return RecordFieldOrganism
	case "length":
		return RecordFieldLength
	default:
		return RecordFieldID // default to insertion order
	}
}

// Sort orders recs by field. Ties keep their store order.
func (s RecordField) Sort(recs []model.Record, desc bool) {
	less := func(a, b model.Record) bool {
		switch s {
		case RecordFieldAccession:
			return a.Label() < b.Label()
		case RecordFieldOrganism:
			return a.Annotations[model.AnnotationOrganism] < b.Annotations[model.AnnotationOrganism]
		case RecordFieldLength:
			return len(a.Sequence) < len(b.Sequence)
		default:
			return a.ID < b.ID
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if desc {
			return less(recs[j], recs[i])
		}
		return less(recs[i], recs[j])
	})
}

package supermatrix

import (
	"strconv"
	"strings"

	"github.com/yumyai/phylomat/pkg/model"
)

const (
	labelSep      = "||"
	outgroupLabel = "OUTGROUP"
)

// Labeler builds the taxon labels of supermatrix rows.
type Labeler struct {
	terms     []string
	outTaxIDs map[int64]bool
	outNames  map[string]bool
}

// NewLabeler takes the taxon name terms ("scientific", "common", a lineage
// rank or a literal) and the outgroup taxa, given as taxonomy ids or names.
func NewLabeler(terms, outgroup []string) *Labeler {
	if len(terms) == 0 {
		terms = []string{"scientific"}
	}
	l := &Labeler{terms: terms, outTaxIDs: map[int64]bool{}, outNames: map[string]bool{}}
	for _, o := range outgroup {
		o = strings.TrimSpace(o)
		if id, err := strconv.ParseInt(o, 10, 64); err == nil {
			l.outTaxIDs[id] = true
			continue
		}
		if o != "" {
			l.outNames[strings.ToLower(o)] = true
		}
	}
	return l
}

func (l *Labeler) Label(o model.Organism) string {
	parts := make([]string, 0, len(l.terms))
	for _, term := range l.terms {
		parts = append(parts, l.term(o, term))
	}
	label := strings.Join(parts, labelSep)
	if l.IsOutgroup(o) {
		label += labelSep + outgroupLabel
	}
	return label
}

func (l *Labeler) term(o model.Organism, term string) string {
	switch term {
	case "scientific":
		return clean(o.FlatName())
	case "common":
		if o.CommonName == "" {
			return clean(o.FlatName())
		}
		return clean(strings.ReplaceAll(o.CommonName, ", ", "|"))
	}
	for _, n := range o.Lineage {
		if n.Rank == term {
			return clean(n.Name)
		}
	}
	return clean(term)
}

// IsOutgroup reports whether any taxonomy id of o, or of its lineage, is an
// outgroup taxon. Outgroups given by name match lineage names and the
// organism name.
func (l *Labeler) IsOutgroup(o model.Organism) bool {
	for _, id := range o.TaxIDs {
		if l.outTaxIDs[id] {
			return true
		}
	}
	if l.outNames[strings.ToLower(o.FlatName())] || l.outNames[strings.ToLower(o.Genus)] {
		return true
	}
	for _, n := range o.Lineage {
		if l.outTaxIDs[n.TaxID] || l.outNames[strings.ToLower(n.Name)] {
			return true
		}
	}
	return false
}

// IsOutgroupLabel reports whether a row label carries the outgroup marker.
func IsOutgroupLabel(label string) bool {
	parts := strings.Split(label, labelSep)
	return parts[len(parts)-1] == outgroupLabel
}

func clean(s string) string {
	return strings.NewReplacer(" ", "_", "'", "").Replace(strings.TrimSpace(s))
}

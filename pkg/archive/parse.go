package archive

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yumyai/phylomat/pkg/model"
)

// ParseINSDSet reads an INSDSeq XML document (efetch rettype=gbc).
func ParseINSDSet(r io.Reader) ([]Entry, error) {
	var set insdSet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode INSDSeq: %w", err)
	}
	entries := make([]Entry, 0, len(set.Seqs))
	for _, s := range set.Seqs {
		entries = append(entries, s.entry())
	}
	return entries, nil
}

func (s insdSeq) entry() Entry {
	acc := s.AccessionVersion
	if acc == "" {
		acc = s.PrimaryAccession
	}
	var gi int64
	for _, id := range s.OtherSeqIDs {
		if v, ok := strings.CutPrefix(id, "gi|"); ok {
			gi, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	alphabet := model.AlphabetDNA
	if strings.EqualFold(s.Moltype, "AA") {
		alphabet = model.AlphabetProtein
	}

	e := Entry{
		Organism: s.Organism,
		Lineage:  s.Taxonomy,
		Record: model.Record{
			Accession:   acc,
			GI:          gi,
			Description: s.Definition,
			Kind:        model.RecordRaw,
			Active:      true,
			Sequence:    strings.ToUpper(s.Sequence),
			Alphabet:    alphabet,
		},
	}
	for _, f := range s.Features {
		feature := f.feature()
		e.Record.Features = append(e.Record.Features, feature)
		if f.Key != "source" {
			continue
		}
		for _, x := range feature.Qualifiers["db_xref"] {
			if v, ok := strings.CutPrefix(x, "taxon:"); ok {
				e.TaxID, _ = strconv.ParseInt(v, 10, 64)
			}
		}
	}
	return e
}

// feature converts 1-based inclusive intervals to a 0-based half-open span.
// Joined locations are collapsed to their outer bounds.
func (f insdFeature) feature() model.Feature {
	out := model.Feature{Type: f.Key, Strand: 1, Qualifiers: map[string][]string{}}
	lo, hi := 0, 0
	for i, iv := range f.Intervals {
		from, to := iv.From, iv.To
		if from == 0 && to == 0 {
			from, to = iv.Point, iv.Point
		}
		if from > to || iv.IsComp.Value == "true" {
			out.Strand = -1
		}
		a, b := min(from, to), max(from, to)
		if i == 0 || a < lo {
			lo = a
		}
		if i == 0 || b > hi {
			hi = b
		}
	}
	if len(f.Intervals) > 0 && lo > 0 {
		out.Start, out.End = lo-1, hi
	}
	for _, q := range f.Quals {
		out.Qualifiers[q.Name] = append(out.Qualifiers[q.Name], q.Value)
	}
	return out
}

// ParseTaxaSet reads a taxonomy efetch XML document.
func ParseTaxaSet(r io.Reader) ([]Taxon, error) {
	var set taxaSet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode TaxaSet: %w", err)
	}
	taxa := make([]Taxon, 0, len(set.Taxa))
	for _, t := range set.Taxa {
		taxon := Taxon{
			TaxID:          t.TaxID,
			ScientificName: t.ScientificName,
			CommonName:     t.CommonName,
			Rank:           t.Rank,
		}
		for _, l := range t.Lineage {
			taxon.Lineage = append(taxon.Lineage, model.LineageNode{TaxID: l.TaxID, Name: l.ScientificName, Rank: l.Rank})
		}
		taxa = append(taxa, taxon)
	}
	return taxa, nil
}

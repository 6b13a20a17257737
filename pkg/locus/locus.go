// Package locus cuts the locus region out of a full archive record using the
// feature-based strategies of a locus definition.
package locus

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yumyai/phylomat/pkg/model"
)

// Region is the trimmed part of a record.
type Region struct {
	Start    int // 0-based inclusive, before extra length
	End      int // 0-based exclusive
	Seq      string
	Strategy string
}

func (r Region) Empty() bool { return r.Seq == "" }

type Trimmer struct {
	locus    model.Locus
	patterns []*regexp.Regexp
}

// NewTrimmer compiles the regex strategies of l.
func NewTrimmer(l model.Locus) (*Trimmer, error) {
	t := &Trimmer{locus: l, patterns: make([]*regexp.Regexp, len(l.Strategies))}
	for i, s := range l.Strategies {
		if !s.Regex {
			continue
		}
		re, err := regexp.Compile("(?i)" + s.QualifierValue)
		if err != nil {
			return nil, fmt.Errorf("locus %s strategy %s: %w", l.Name, s.Name, err)
		}
		t.patterns[i] = re
	}
	return t, nil
}

func (t *Trimmer) Locus() model.Locus { return t.locus }

// Trim returns the locus region of rec. An empty region means no strategy
// matched or the match was shorter than the strategy minimum.
func (t *Trimmer) Trim(rec *model.Record) Region {
	if len(t.locus.Strategies) == 0 {
		return Region{Start: 0, End: len(rec.Sequence), Seq: rec.Sequence}
	}

	start, end := -1, -1
	var (
		used   string
		minLen int
		extra  int
		strand = 1
	)

	for i, s := range t.locus.Strategies {
		f, ok := t.match(i, s, rec.Features)
		if !ok {
			continue
		}
		switch {
		case s.LocusRelativePosition == 0:
			start, end = f.Start, f.End
			strand = f.Strand
			used, minLen, extra = s.Name, s.MinLength, s.ExtraLength
		case s.LocusRelativePosition < 0 && start < 0:
			start = f.End
			if used == "" {
				used, minLen, extra = s.Name, s.MinLength, s.ExtraLength
			}
		case s.LocusRelativePosition > 0 && end < 0:
			end = f.Start
			if used == "" {
				used, minLen, extra = s.Name, s.MinLength, s.ExtraLength
			}
		}
		if s.LocusRelativePosition == 0 {
			break
		}
	}

	if start < 0 || end < 0 || end <= start {
		return Region{}
	}
	if end-start < minLen {
		return Region{}
	}

	lo := max(0, start-extra)
	hi := min(len(rec.Sequence), end+extra)
	if lo >= hi {
		return Region{}
	}
	seq := rec.Sequence[lo:hi]
	if strand < 0 {
		seq = ReverseComplement(seq)
	}
	return Region{Start: start, End: end, Seq: seq, Strategy: used}
}

func (t *Trimmer) match(i int, s model.Strategy, features []model.Feature) (model.Feature, bool) {
	for _, f := range features {
		if !strings.EqualFold(f.Type, s.FeatureType) {
			continue
		}
		if s.QualifierLabel == "" {
			return f, true
		}
		for _, v := range f.Qualifiers[s.QualifierLabel] {
			if t.valueMatches(i, s, v) {
				return f, true
			}
		}
	}
	return model.Feature{}, false
}

func (t *Trimmer) valueMatches(i int, s model.Strategy, v string) bool {
	switch {
	case s.Regex:
		return t.patterns[i].MatchString(v)
	case s.StrictValueMatch:
		return strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s.QualifierValue))
	default:
		return strings.Contains(strings.ToLower(v), strings.ToLower(s.QualifierValue))
	}
}

var complement = map[byte]byte{
	'A': 'T', 'T': 'A', 'G': 'C', 'C': 'G', 'U': 'A',
	'R': 'Y', 'Y': 'R', 'K': 'M', 'M': 'K', 'S': 'S', 'W': 'W',
	'B': 'V', 'V': 'B', 'D': 'H', 'H': 'D', 'N': 'N', '-': '-',
	'a': 't', 't': 'a', 'g': 'c', 'c': 'g', 'u': 'a',
	'r': 'y', 'y': 'r', 'k': 'm', 'm': 'k', 's': 's', 'w': 'w',
	'b': 'v', 'v': 'b', 'd': 'h', 'h': 'd', 'n': 'n',
}

// ReverseComplement handles IUPAC nucleotide codes; unknown bytes become N.
func ReverseComplement(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c, ok := complement[s[len(s)-1-i]]
		if !ok {
			c = 'N'
		}
		out[i] = c
	}
	return string(out)
}

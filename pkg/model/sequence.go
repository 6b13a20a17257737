// Sequence and alignment values passed between the artifact files, the
// alignment service and the store.

package model

import (
	"fmt"
	"strings"
)

const Gap = '-'

type Sequence struct {
	ID  string `json:"id"`
	Seq string `json:"seq"`
}

// Degapped returns the residues of s without alignment gaps.
func (s Sequence) Degapped() string {
	return strings.Map(func(r rune) rune {
		if r == Gap || r == '.' {
			return -1
		}
		return r
	}, s.Seq)
}

// Aligned is an ordered set of equal-length rows.
type Aligned []Sequence

func (a Aligned) Width() int {
	if len(a) == 0 {
		return 0
	}
	return len(a[0].Seq)
}

// Validate reports rows whose length differs from the first row.
func (a Aligned) Validate() error {
	w := a.Width()
	for _, s := range a {
		if len(s.Seq) != w {
			return fmt.Errorf("alignment row %s has length %d, expected %d", s.ID, len(s.Seq), w)
		}
	}
	return nil
}

func (a Aligned) ByID() map[string]Sequence {
	out := make(map[string]Sequence, len(a))
	for _, s := range a {
		out[s.ID] = s
	}
	return out
}

func (a Aligned) IDs() []string {
	ids := make([]string, 0, len(a))
	for _, s := range a {
		ids = append(ids, s.ID)
	}
	return ids
}

// DropEmptyColumns removes columns made only of gaps.
func (a Aligned) DropEmptyColumns() Aligned {
	w := a.Width()
	keep := make([]bool, w)
	for _, s := range a {
		for i := 0; i < w; i++ {
			if s.Seq[i] != Gap && s.Seq[i] != '.' {
				keep[i] = true
			}
		}
	}
	out := make(Aligned, 0, len(a))
	for _, s := range a {
		var b strings.Builder
		b.Grow(w)
		for i := 0; i < w; i++ {
			if keep[i] {
				b.WriteByte(s.Seq[i])
			}
		}
		out = append(out, Sequence{ID: s.ID, Seq: b.String()})
	}
	return out
}

// Upper returns a copy with upper-cased rows.
func (a Aligned) Upper() Aligned {
	out := make(Aligned, len(a))
	for i, s := range a {
		out[i] = Sequence{ID: s.ID, Seq: strings.ToUpper(s.Seq)}
	}
	return out
}

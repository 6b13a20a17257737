package aligner

import (
	"sort"
	"strings"

	"github.com/yumyai/phylomat/pkg/model"
)

// iupac maps a sorted set of bases to its ambiguity code.
var iupac = map[string]byte{
	"A": 'A', "C": 'C', "G": 'G', "T": 'T',
	"AG": 'R', "CT": 'Y', "GT": 'K', "AC": 'M', "CG": 'S', "AT": 'W',
	"CGT": 'B', "AGT": 'D', "ACT": 'H', "ACG": 'V',
	"ACGT": 'N',
}

var expand = map[byte]string{
	'A': "A", 'C': "C", 'G': "G", 'T': "T", 'U': "T",
	'R': "AG", 'Y': "CT", 'K': "GT", 'M': "AC", 'S': "CG", 'W': "AT",
	'B': "CGT", 'D': "AGT", 'H': "ACT", 'V': "ACG", 'N': "ACGT",
}

// Consensus summarizes aln column by column. A residue takes part in a column
// when its frequency (gaps counted) reaches threshold. Columns where no
// residue qualifies, or where gaps outnumber every residue, are left out.
// Several qualifying residues become an IUPAC code, or the most frequent one
// when resolveAmbiguities is set.
func Consensus(aln model.Aligned, threshold float64, resolveAmbiguities bool) string {
	if len(aln) == 0 {
		return ""
	}
	if len(aln) == 1 {
		return strings.ToUpper(aln[0].Degapped())
	}

	rows := aln.Upper()
	width := rows.Width()
	n := float64(len(rows))

	var b strings.Builder
	b.Grow(width)
	for col := 0; col < width; col++ {
		counts := map[byte]float64{}
		gaps := 0.0
		for _, r := range rows {
			if col >= len(r.Seq) {
				gaps++
				continue
			}
			c := r.Seq[col]
			if c == model.Gap || c == '.' {
				gaps++
				continue
			}
			bases, ok := expand[c]
			if !ok {
				bases = "ACGT"
			}
			// An ambiguous residue spreads its weight over its bases.
			w := 1.0 / float64(len(bases))
			for i := 0; i < len(bases); i++ {
				counts[bases[i]] += w
			}
		}

		best := 0.0
		var qualifying []byte
		for base, cnt := range counts {
			if cnt > best {
				best = cnt
			}
			if cnt/n >= threshold {
				qualifying = append(qualifying, base)
			}
		}
		if len(qualifying) == 0 || gaps > best {
			continue
		}
		sort.Slice(qualifying, func(i, j int) bool { return qualifying[i] < qualifying[j] })

		if len(qualifying) == 1 {
			b.WriteByte(qualifying[0])
			continue
		}
		if resolveAmbiguities {
			pick := qualifying[0]
			for _, base := range qualifying[1:] {
				if counts[base] > counts[pick] {
					pick = base
				}
			}
			b.WriteByte(pick)
			continue
		}
		b.WriteByte(iupac[string(qualifying)])
	}
	return b.String()
}

// Identity is the mean fraction of each row's residues that agree with the
// column majority. A single row scores 1.
func Identity(aln model.Aligned) float64 {
	if len(aln) < 2 {
		return 1
	}
	rows := aln.Upper()
	width := rows.Width()

	majority := make([]byte, width)
	for col := 0; col < width; col++ {
		counts := map[byte]int{}
		for _, r := range rows {
			if col < len(r.Seq) && r.Seq[col] != model.Gap && r.Seq[col] != '.' {
				counts[r.Seq[col]]++
			}
		}
		best, pick := 0, byte(model.Gap)
		for c, n := range counts {
			if n > best || (n == best && c < pick) {
				best, pick = n, c
			}
		}
		majority[col] = pick
	}

	total := 0.0
	for _, r := range rows {
		same, compared := 0, 0
		for col := 0; col < width && col < len(r.Seq); col++ {
			c := r.Seq[col]
			if c == model.Gap || c == '.' {
				continue
			}
			compared++
			if c == majority[col] {
				same++
			}
		}
		if compared > 0 {
			total += float64(same) / float64(compared)
		}
	}
	return total / float64(len(rows))
}

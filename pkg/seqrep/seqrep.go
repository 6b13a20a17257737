// Package seqrep encodes an aligned row as an edit script over its canonical
// (ungapped) sequence, so alignments can be stored without copying residues.
//
// Script grammar, operations joined by ';':
//
//	g<pos>:<len>   insert len gaps before canonical position pos
//	s<pos>:<char>  canonical residue at pos is shown as char
//	r:<row>        row stored verbatim (residues no longer match canonical)
package seqrep

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yumyai/phylomat/pkg/model"
)

// Produce returns the script turning canonical into aligned.
func Produce(canonical, aligned string) string {
	degapped := model.Sequence{Seq: aligned}.Degapped()
	if len(degapped) != len(canonical) {
		return "r:" + aligned
	}

	var ops []string
	pos := 0
	run := 0
	for i := 0; i < len(aligned); i++ {
		c := aligned[i]
		if c == model.Gap || c == '.' {
			run++
			continue
		}
		if run > 0 {
			ops = append(ops, fmt.Sprintf("g%d:%d", pos, run))
			run = 0
		}
		if c != canonical[pos] {
			ops = append(ops, fmt.Sprintf("s%d:%c", pos, c))
		}
		pos++
	}
	if run > 0 {
		ops = append(ops, fmt.Sprintf("g%d:%d", pos, run))
	}
	return strings.Join(ops, ";")
}

// Apply rebuilds the aligned row from canonical and a script made by Produce.
func Apply(canonical, script string) (string, error) {
	if strings.HasPrefix(script, "r:") {
		return script[2:], nil
	}
	if script == "" {
		return canonical, nil
	}

	gaps := make(map[int]int)
	subs := make(map[int]byte)
	for _, op := range strings.Split(script, ";") {
		if len(op) < 2 {
			return "", fmt.Errorf("seqrep: malformed op %q", op)
		}
		kind := op[0]
		posStr, arg, ok := strings.Cut(op[1:], ":")
		if !ok {
			return "", fmt.Errorf("seqrep: malformed op %q", op)
		}
		pos, err := strconv.Atoi(posStr)
		if err != nil || pos < 0 || pos > len(canonical) {
			return "", fmt.Errorf("seqrep: bad position in %q", op)
		}
		switch kind {
		case 'g':
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return "", fmt.Errorf("seqrep: bad gap length in %q", op)
			}
			gaps[pos] += n
		case 's':
			if len(arg) != 1 || pos == len(canonical) {
				return "", fmt.Errorf("seqrep: bad substitution %q", op)
			}
			subs[pos] = arg[0]
		default:
			return "", fmt.Errorf("seqrep: unknown op %q", op)
		}
	}

	var b strings.Builder
	for i := 0; i <= len(canonical); i++ {
		if n := gaps[i]; n > 0 {
			b.WriteString(strings.Repeat(string(model.Gap), n))
		}
		if i == len(canonical) {
			break
		}
		if c, ok := subs[i]; ok {
			b.WriteByte(c)
		} else {
			b.WriteByte(canonical[i])
		}
	}
	return b.String(), nil
}

package seqio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yumyai/phylomat/pkg/model"
)

// ReadPhylip parses a relaxed PHYLIP alignment. Identifiers are separated from
// the residues by whitespace and may be longer than ten characters. Both
// sequential and interleaved layouts are accepted.
func ReadPhylip(r io.Reader) (model.Aligned, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	var (
		ntax, nchar int
		header      bool
		rows        model.Aligned
		builders    []*strings.Builder
		next        int
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !header {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, fmt.Errorf("phylip header %q: want ntax nchar", line)
			}
			var err error
			if ntax, err = strconv.Atoi(fields[0]); err != nil {
				return nil, fmt.Errorf("phylip header ntax: %w", err)
			}
			if nchar, err = strconv.Atoi(fields[1]); err != nil {
				return nil, fmt.Errorf("phylip header nchar: %w", err)
			}
			header = true
			continue
		}

		if len(rows) < ntax {
			fields := strings.Fields(line)
			id := fields[0]
			b := &strings.Builder{}
			b.WriteString(strings.Join(fields[1:], ""))
			rows = append(rows, model.Sequence{ID: id})
			builders = append(builders, b)
			continue
		}

		// Interleaved continuation block.
		builders[next%ntax].WriteString(strings.ReplaceAll(line, " ", ""))
		next++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read phylip: %w", err)
	}
	if !header {
		return nil, fmt.Errorf("read phylip: empty input")
	}
	if len(rows) != ntax {
		return nil, fmt.Errorf("phylip declares %d taxa, found %d", ntax, len(rows))
	}

	for i := range rows {
		rows[i].Seq = builders[i].String()
		if len(rows[i].Seq) != nchar {
			return nil, fmt.Errorf("phylip row %s has %d characters, header says %d", rows[i].ID, len(rows[i].Seq), nchar)
		}
	}
	return rows, nil
}

func ReadPhylipFile(path string) (model.Aligned, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPhylip(f)
}

// WritePhylip writes aln in sequential relaxed PHYLIP, identifiers padded to a
// common width.
func WritePhylip(w io.Writer, aln model.Aligned) error {
	if err := aln.Validate(); err != nil {
		return err
	}
	width := 0
	for _, s := range aln {
		if strings.ContainsAny(s.ID, " \t") {
			return fmt.Errorf("phylip identifier %q contains whitespace", s.ID)
		}
		if len(s.ID) > width {
			width = len(s.ID)
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, " %d %d\n", len(aln), aln.Width())
	for _, s := range aln {
		fmt.Fprintf(bw, "%-*s  %s\n", width, s.ID, s.Seq)
	}
	return bw.Flush()
}

func FormatPhylip(aln model.Aligned) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePhylip(&buf, aln); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

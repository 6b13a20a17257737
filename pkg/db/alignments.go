package db

import (
	"context"
	"fmt"

	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/seqrep"
)

// AddAlignment inserts the alignment entity. Its rows are added afterwards
// as sequence representations carrying the returned id.
func (q *Queries) AddAlignment(ctx context.Context, aln *model.Alignment) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO alignments (name, description, record_id) VALUES (?, ?, ?)`,
		aln.Name, aln.Description, nullInt64(aln.RecordID))
	if err != nil {
		return 0, fmt.Errorf("insert alignment %s: %w", aln.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	aln.ID = id
	return id, nil
}

func (q *Queries) AddSequenceRepresentation(ctx context.Context, rep *model.SequenceRepresentation) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO sequence_representations (sequence_id, record_id, alignment_id, edits)
		VALUES (?, ?, ?, ?)`,
		rep.SequenceID, nullInt64(rep.RecordID), nullInt64(rep.AlignmentID), rep.Edits)
	if err != nil {
		return 0, fmt.Errorf("insert sequence representation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rep.ID = id
	return id, nil
}

// AlignmentForRecord returns the alignment owned by recordID, rows in
// insertion order.
func (q *Queries) AlignmentForRecord(ctx context.Context, recordID int64) (model.Alignment, error) {
	var aln model.Alignment
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, name, description FROM alignments WHERE record_id = ? ORDER BY id DESC LIMIT 1`, recordID)
	if err != nil {
		return aln, err
	}
	found := false
	for rows.Next() {
		if err := rows.Scan(&aln.ID, &aln.Name, &aln.Description); err != nil {
			_ = rows.Close()
			return aln, err
		}
		found = true
	}
	if err := rows.Close(); err != nil {
		return aln, err
	}
	if !found {
		return aln, ErrNotFound
	}
	aln.RecordID = recordID
	aln.SeqRepIDs, err = q.ids(ctx,
		`SELECT id FROM sequence_representations WHERE alignment_id = ? ORDER BY id`, aln.ID)
	if err != nil {
		return aln, err
	}
	return aln, nil
}

// AlignedRow is one stored alignment row rebuilt from its representation.
type AlignedRow struct {
	RecordID  int64
	Accession string
	Row       string
}

// AlignmentRows reconstructs the rows of alignmentID keyed by the raw record
// each row represents.
func (q *Queries) AlignmentRows(ctx context.Context, alignmentID int64) ([]AlignedRow, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT COALESCE(sr.record_id, 0), COALESCE(r.accession, r.internal_reference, ''), s.seq, sr.edits
		FROM sequence_representations sr
		JOIN sequences s ON s.id = sr.sequence_id
		LEFT JOIN records r ON r.id = sr.record_id
		WHERE sr.alignment_id = ?
		ORDER BY sr.id`, alignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlignedRow
	for rows.Next() {
		var (
			row       AlignedRow
			canonical string
			edits     string
		)
		if err := rows.Scan(&row.RecordID, &row.Accession, &canonical, &edits); err != nil {
			return nil, err
		}
		row.Row, err = seqrep.Apply(canonical, edits)
		if err != nil {
			return nil, fmt.Errorf("alignment %d row %s: %w", alignmentID, row.Accession, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ClearDerived removes everything a regeneration replaces wholesale: owned
// alignments (their representations cascade), remaining representations,
// owned sequences and ancestry edges of recordID.
func (q *Queries) ClearDerived(ctx context.Context, recordID int64) error {
	stmts := []string{
		`DELETE FROM alignments WHERE record_id = ?`,
		`DELETE FROM sequence_representations WHERE sequence_id IN (SELECT id FROM sequences WHERE record_id = ?)`,
		`DELETE FROM sequences WHERE record_id = ?`,
		`DELETE FROM record_ancestry WHERE child_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := q.q.ExecContext(ctx, stmt, recordID); err != nil {
			return fmt.Errorf("clear derived rows of record %d: %w", recordID, err)
		}
	}
	return nil
}

// DeleteAlignmentsForRecord drops the alignment entity of recordID and its
// representations.
func (q *Queries) DeleteAlignmentsForRecord(ctx context.Context, recordID int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM alignments WHERE record_id = ?`, recordID)
	return err
}

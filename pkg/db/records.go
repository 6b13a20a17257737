package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yumyai/phylomat/pkg/model"
)

const (
	SequencePrimary = "primary"
	SequenceTrimmed = "trimmed"
)

// AddRecord inserts rec with its primary sequence, annotations and features.
// rec.ID and rec.SequenceID are set on success.
func (q *Queries) AddRecord(ctx context.Context, rec *model.Record) (int64, error) {
	if rec.InternalReference == "" {
		if rec.Accession == "" {
			return 0, fmt.Errorf("record needs an accession or an internal reference")
		}
		rec.InternalReference = rec.Accession
	}
	if rec.Kind == "" {
		rec.Kind = model.RecordRaw
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO records (accession, gi, internal_reference, description, organism_id, kind, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullString(rec.Accession), nullInt64(rec.GI), rec.InternalReference, rec.Description,
		nullInt64(rec.OrganismID), string(rec.Kind), boolToInt(rec.Active))
	if err != nil {
		return 0, fmt.Errorf("insert record %s: %w", rec.Label(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rec.ID = id

	if rec.Sequence != "" {
		seqID, err := q.AddSequence(ctx, id, SequencePrimary, rec.Sequence, rec.Alphabet)
		if err != nil {
			return 0, err
		}
		rec.SequenceID = seqID
	}
	for typ, value := range rec.Annotations {
		if err := q.AddRecordAnnotation(ctx, id, typ, value); err != nil {
			return 0, err
		}
	}
	for i, f := range rec.Features {
		quals, err := json.Marshal(f.Qualifiers)
		if err != nil {
			return 0, err
		}
		if _, err := q.q.ExecContext(ctx, `
			INSERT INTO record_features (record_id, position, type, start_pos, end_pos, strand, qualifiers)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, id, i, f.Type, f.Start, f.End, f.Strand, string(quals)); err != nil {
			return 0, fmt.Errorf("insert feature of %s: %w", rec.Label(), err)
		}
	}
	return id, nil
}

// AddSequence stores a sequence owned by recordID.
func (q *Queries) AddSequence(ctx context.Context, recordID int64, role, seq string, alphabet model.Alphabet) (int64, error) {
	if alphabet == "" {
		alphabet = model.AlphabetDNA
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO sequences (record_id, role, seq, alphabet) VALUES (?, ?, ?, ?)`,
		recordID, role, seq, string(alphabet))
	if err != nil {
		return 0, fmt.Errorf("insert sequence of record %d: %w", recordID, err)
	}
	return res.LastInsertId()
}

// DeleteSequences removes every sequence owned by recordID, primary included.
func (q *Queries) DeleteSequences(ctx context.Context, recordID int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM sequences WHERE record_id = ?`, recordID)
	return err
}

func (q *Queries) AddRecordAnnotation(ctx context.Context, recordID int64, typ, value string) error {
	if _, err := q.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO record_annotations (record_id, type, value) VALUES (?, ?, ?)`,
		recordID, typ, value); err != nil {
		return fmt.Errorf("annotate record %d with %s=%s: %w", recordID, typ, value, err)
	}
	return nil
}

func (q *Queries) SetActive(ctx context.Context, recordID int64) error {
	return q.setActive(ctx, recordID, true)
}

func (q *Queries) SetInactive(ctx context.Context, recordID int64) error {
	return q.setActive(ctx, recordID, false)
}

func (q *Queries) setActive(ctx context.Context, recordID int64, active bool) error {
	res, err := q.q.ExecContext(ctx, `UPDATE records SET active = ? WHERE id = ?`, boolToInt(active), recordID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecord removes a record; sequences, annotations, features, ancestry
// and owned alignments cascade.
func (q *Queries) DeleteRecord(ctx context.Context, recordID int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, recordID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecordsOfKind removes every record of kind and returns how many went.
func (q *Queries) DeleteRecordsOfKind(ctx context.Context, kind model.RecordKind) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM records WHERE kind = ?`, string(kind))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const recordColumns = `r.id, COALESCE(r.accession, ''), COALESCE(r.gi, 0), r.internal_reference, r.description,
	COALESCE(r.organism_id, 0), r.kind, r.active, COALESCE(s.id, 0), COALESCE(s.seq, ''), COALESCE(s.alphabet, '')`

const recordFrom = `FROM records r
	LEFT JOIN sequences s ON s.record_id = r.id AND s.role = 'primary'`

func (q *Queries) GetRecord(ctx context.Context, id int64) (model.Record, error) {
	return q.oneRecord(ctx, `SELECT `+recordColumns+` `+recordFrom+` WHERE r.id = ?`, id)
}

func (q *Queries) RecordByAccession(ctx context.Context, accession string) (model.Record, error) {
	return q.oneRecord(ctx, `SELECT `+recordColumns+` `+recordFrom+` WHERE r.accession = ?`, accession)
}

func (q *Queries) RecordByInternalReference(ctx context.Context, ref string) (model.Record, error) {
	return q.oneRecord(ctx, `SELECT `+recordColumns+` `+recordFrom+` WHERE r.internal_reference = ?`, ref)
}

// RecordsWithAnnotation returns records annotated typ=value. The active and
// inactive flags select which activity states are included.
func (q *Queries) RecordsWithAnnotation(ctx context.Context, typ, value string, active, inactive bool) ([]model.Record, error) {
	var states []string
	if active {
		states = append(states, "1")
	}
	if inactive {
		states = append(states, "0")
	}
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT ` + recordColumns + ` ` + recordFrom + `
		JOIN record_annotations a ON a.record_id = r.id
		WHERE a.type = ? AND a.value = ? AND r.active IN (` + strings.Join(states, ",") + `)
		ORDER BY r.id`
	return q.manyRecords(ctx, query, typ, value)
}

func (q *Queries) oneRecord(ctx context.Context, query string, args ...any) (model.Record, error) {
	recs, err := q.manyRecords(ctx, query, args...)
	if err != nil {
		return model.Record{}, err
	}
	if len(recs) == 0 {
		return model.Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (q *Queries) manyRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []model.Record
	for rows.Next() {
		var (
			r        model.Record
			kind     string
			alphabet string
			active   int
		)
		if err := rows.Scan(&r.ID, &r.Accession, &r.GI, &r.InternalReference, &r.Description,
			&r.OrganismID, &kind, &active, &r.SequenceID, &r.Sequence, &alphabet); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.Kind = model.RecordKind(kind)
		r.Alphabet = model.Alphabet(alphabet)
		r.Active = active != 0
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := q.loadRecordDetails(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (q *Queries) loadRecordDetails(ctx context.Context, r *model.Record) error {
	rows, err := q.q.QueryContext(ctx, `SELECT type, value FROM record_annotations WHERE record_id = ?`, r.ID)
	if err != nil {
		return err
	}
	r.Annotations = map[string]string{}
	for rows.Next() {
		var typ, value string
		if err := rows.Scan(&typ, &value); err != nil {
			_ = rows.Close()
			return err
		}
		r.Annotations[typ] = value
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = q.q.QueryContext(ctx, `
		SELECT type, start_pos, end_pos, strand, qualifiers
		FROM record_features WHERE record_id = ? ORDER BY position`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	r.Features = nil
	for rows.Next() {
		var (
			f     model.Feature
			quals string
		)
		if err := rows.Scan(&f.Type, &f.Start, &f.End, &f.Strand, &quals); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(quals), &f.Qualifiers); err != nil {
			return fmt.Errorf("record %d feature qualifiers: %w", r.ID, err)
		}
		r.Features = append(r.Features, f)
	}
	return rows.Err()
}

// AddAncestry records that child was derived from parent.
func (q *Queries) AddAncestry(ctx context.Context, childID, parentID int64) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO record_ancestry (child_id, parent_id) VALUES (?, ?)`, childID, parentID)
	return err
}

func (q *Queries) ParentRecordIDs(ctx context.Context, childID int64) ([]int64, error) {
	return q.ids(ctx, `SELECT parent_id FROM record_ancestry WHERE child_id = ? ORDER BY parent_id`, childID)
}

func (q *Queries) ChildRecordIDs(ctx context.Context, parentID int64) ([]int64, error) {
	return q.ids(ctx, `SELECT child_id FROM record_ancestry WHERE parent_id = ? ORDER BY child_id`, parentID)
}

func (q *Queries) DeleteAncestry(ctx context.Context, childID int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM record_ancestry WHERE child_id = ?`, childID)
	return err
}

// DeleteAncestryByParent drops every edge whose parent is parentID.
func (q *Queries) DeleteAncestryByParent(ctx context.Context, parentID int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM record_ancestry WHERE parent_id = ?`, parentID)
	return err
}

// KnownGIs returns the archive GIs already stored or blacklisted.
func (q *Queries) KnownGIs(ctx context.Context) (map[int64]bool, error) {
	gis, err := q.ids(ctx, `
		SELECT gi FROM records WHERE gi IS NOT NULL
		UNION SELECT gi FROM blacklist WHERE gi IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(gis))
	for _, gi := range gis {
		known[gi] = true
	}
	return known, nil
}

func (q *Queries) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LocusSummary counts records of one locus for status views.
type LocusSummary struct {
	Locus       string
	ActiveRaw   int
	InactiveRaw int
	Organisms   int
	FlatRecords int
}

func (q *Queries) SummarizeLocus(ctx context.Context, locus string) (LocusSummary, error) {
	s := LocusSummary{Locus: locus}
	err := q.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN r.active = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN r.active = 0 THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN r.active = 1 THEN r.organism_id END)
		FROM records r JOIN record_annotations a ON a.record_id = r.id
		WHERE a.type = ? AND a.value = ? AND r.kind = 'raw'`,
		model.AnnotationLocus, locus).Scan(&s.ActiveRaw, &s.InactiveRaw, &s.Organisms)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	err = q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records r JOIN record_annotations a ON a.record_id = r.id
		WHERE a.type = ? AND a.value = ? AND r.kind = 'flat' AND r.active = 1`,
		model.AnnotationLocusFlat, locus).Scan(&s.FlatRecords)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	return s, nil
}

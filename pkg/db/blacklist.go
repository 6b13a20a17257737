package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yumyai/phylomat/pkg/model"
)

// AddToBlacklist records e; an existing entry for the same record gets the
// new note.
func (q *Queries) AddToBlacklist(ctx context.Context, e model.BlacklistEntry) error {
	if e.Accession == "" && e.InternalReference == "" {
		return fmt.Errorf("blacklist entry needs an accession or an internal reference")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO blacklist (accession, gi, internal_reference, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (accession, internal_reference) DO UPDATE SET notes = excluded.notes`,
		e.Accession, nullInt64(e.GI), e.InternalReference, e.Notes, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("blacklist %s: %w", e.Accession, err)
	}
	return nil
}

// RemoveFromBlacklist deletes the entries of accession.
func (q *Queries) RemoveFromBlacklist(ctx context.Context, accession string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM blacklist WHERE accession = ?`, accession)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) IsBlacklisted(ctx context.Context, accession string) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx, `SELECT 1 FROM blacklist WHERE accession = ? LIMIT 1`, accession).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) Blacklist(ctx context.Context) ([]model.BlacklistEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT accession, COALESCE(gi, 0), internal_reference, notes, created_at
		FROM blacklist ORDER BY created_at, accession`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BlacklistEntry
	for rows.Next() {
		var (
			e       model.BlacklistEntry
			created int64
		)
		if err := rows.Scan(&e.Accession, &e.GI, &e.InternalReference, &e.Notes, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Whitelist activates the record of accession and clears its blacklist
// entries. A record that was never blacklisted is only activated.
func (q *Queries) Whitelist(ctx context.Context, accession string) (model.Record, error) {
	rec, err := q.RecordByAccession(ctx, accession)
	if err != nil {
		return model.Record{}, err
	}
	if err := q.SetActive(ctx, rec.ID); err != nil {
		return model.Record{}, err
	}
	if err := q.RemoveFromBlacklist(ctx, accession); err != nil && !errors.Is(err, ErrNotFound) {
		return model.Record{}, err
	}
	rec.Active = true
	return rec, nil
}

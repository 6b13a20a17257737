package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yumyai/phylomat/internal/util"
	"github.com/yumyai/phylomat/pkg/model"
)

// ErrDuplicateOrganism is returned when an organism's name would share
// artifact files with a stored organism.
var ErrDuplicateOrganism = errors.New("db: organism name already stored")

// AddOrganism validates and inserts o with its taxonomy ids and lineage.
// Names are unique: a homonym of a stored organism is rejected with
// ErrDuplicateOrganism.
func (q *Queries) AddOrganism(ctx context.Context, o *model.Organism) (int64, error) {
	if err := o.Validate(); err != nil {
		return 0, err
	}
	switch existing, err := q.OrganismByName(ctx, *o); {
	case err == nil:
		return 0, fmt.Errorf("%w: %s (organism %d)", ErrDuplicateOrganism, o.FlatName(), existing.ID)
	case !errors.Is(err, ErrNotFound):
		return 0, err
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO organisms (genus, species, subspecies, variety, hybrid, other, authority, common_name, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Genus, o.Species, o.Subspecies, o.Variety, o.Hybrid, o.Other, o.Authority, o.CommonName, boolToInt(o.Active))
	if err != nil {
		return 0, fmt.Errorf("insert organism %s: %w", o.FlatName(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, taxid := range o.TaxIDs {
		if _, err := q.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO organism_taxids (organism_id, taxid) VALUES (?, ?)`, id, taxid); err != nil {
			return 0, fmt.Errorf("insert taxid %d: %w", taxid, err)
		}
	}
	for i, node := range o.Lineage {
		if _, err := q.q.ExecContext(ctx,
			`INSERT INTO organism_lineage (organism_id, position, taxid, name, rank) VALUES (?, ?, ?, ?, ?)`,
			id, i, node.TaxID, node.Name, node.Rank); err != nil {
			return 0, fmt.Errorf("insert lineage of %s: %w", o.FlatName(), err)
		}
	}
	o.ID = id
	return id, nil
}

// AddOrganismTaxID attaches another taxonomy id to a stored organism.
func (q *Queries) AddOrganismTaxID(ctx context.Context, organismID, taxid int64) error {
	if _, err := q.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO organism_taxids (organism_id, taxid) VALUES (?, ?)`, organismID, taxid); err != nil {
		return fmt.Errorf("insert taxid %d: %w", taxid, err)
	}
	return nil
}

func (q *Queries) GetOrganism(ctx context.Context, id int64) (model.Organism, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, genus, species, subspecies, variety, hybrid, other, authority, common_name, active
		FROM organisms WHERE id = ?`, id)
	o, err := scanOrganism(row)
	if err != nil {
		return model.Organism{}, err
	}
	if err := q.loadOrganismDetails(ctx, &o); err != nil {
		return model.Organism{}, err
	}
	return o, nil
}

// OrganismByTaxID returns the organism owning taxid.
func (q *Queries) OrganismByTaxID(ctx context.Context, taxid int64) (model.Organism, error) {
	var id int64
	err := q.q.QueryRowContext(ctx, `SELECT organism_id FROM organism_taxids WHERE taxid = ?`, taxid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Organism{}, ErrNotFound
	}
	if err != nil {
		return model.Organism{}, err
	}
	return q.GetOrganism(ctx, id)
}

// OrganismByName returns the stored organism whose name maps to the same
// file name as o.
func (q *Queries) OrganismByName(ctx context.Context, o model.Organism) (model.Organism, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, genus, species, subspecies, variety, hybrid, other, authority, common_name, active
		FROM organisms WHERE genus = ? ORDER BY id`, o.Genus)
	if err != nil {
		return model.Organism{}, err
	}
	defer rows.Close()
	want := util.SafeName(o.FlatName())
	for rows.Next() {
		c, err := scanOrganism(rows)
		if err != nil {
			return model.Organism{}, err
		}
		if c.ID != o.ID && util.SafeName(c.FlatName()) == want {
			if err := rows.Close(); err != nil {
				return model.Organism{}, err
			}
			if err := q.loadOrganismDetails(ctx, &c); err != nil {
				return model.Organism{}, err
			}
			return c, nil
		}
	}
	if err := rows.Err(); err != nil {
		return model.Organism{}, err
	}
	return model.Organism{}, ErrNotFound
}

func (q *Queries) ListOrganisms(ctx context.Context) ([]model.Organism, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, genus, species, subspecies, variety, hybrid, other, authority, common_name, active
		FROM organisms ORDER BY genus, species, id`)
	if err != nil {
		return nil, err
	}
	var out []model.Organism
	for rows.Next() {
		o, err := scanOrganism(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := q.loadOrganismDetails(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganism(row rowScanner) (model.Organism, error) {
	var (
		o      model.Organism
		active int
	)
	err := row.Scan(&o.ID, &o.Genus, &o.Species, &o.Subspecies, &o.Variety, &o.Hybrid, &o.Other, &o.Authority, &o.CommonName, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Organism{}, ErrNotFound
	}
	if err != nil {
		return model.Organism{}, err
	}
	o.Active = active != 0
	return o, nil
}

func (q *Queries) loadOrganismDetails(ctx context.Context, o *model.Organism) error {
	rows, err := q.q.QueryContext(ctx, `SELECT taxid FROM organism_taxids WHERE organism_id = ? ORDER BY rowid`, o.ID)
	if err != nil {
		return err
	}
	o.TaxIDs = nil
	for rows.Next() {
		var taxid int64
		if err := rows.Scan(&taxid); err != nil {
			_ = rows.Close()
			return err
		}
		o.TaxIDs = append(o.TaxIDs, taxid)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = q.q.QueryContext(ctx,
		`SELECT taxid, name, rank FROM organism_lineage WHERE organism_id = ? ORDER BY position`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	o.Lineage = nil
	for rows.Next() {
		var n model.LineageNode
		if err := rows.Scan(&n.TaxID, &n.Name, &n.Rank); err != nil {
			return err
		}
		o.Lineage = append(o.Lineage, n)
	}
	return rows.Err()
}

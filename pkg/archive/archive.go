// Package archive talks to the public sequence archive. Retries live here;
// callers see either a result or a TransientFetchError.
package archive

import (
	"context"
	"fmt"

	"github.com/yumyai/phylomat/pkg/model"
)

// Entry is one fetched archive record with the source organism it names.
type Entry struct {
	Record   model.Record
	Organism string
	TaxID    int64
	// Lineage is the archive's semicolon separated taxonomy string.
	Lineage string
}

// Taxon is a taxonomy database entry.
type Taxon struct {
	TaxID          int64
	ScientificName string
	CommonName     string
	Rank           string
	Lineage        []model.LineageNode
}

type Client interface {
	// Search returns the archive ids matching term in db.
	Search(ctx context.Context, term, db string) ([]string, error)
	// Fetch returns the records with the given ids.
	Fetch(ctx context.Context, ids []string, db string) ([]Entry, error)
	// Taxa returns the taxonomy entries of taxids. Unknown ids are left out.
	Taxa(ctx context.Context, taxids []int64) ([]Taxon, error)
}

// TransientFetchError reports an archive call that kept failing after every
// retry.
type TransientFetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("archive %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

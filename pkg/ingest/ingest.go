// Package ingest searches the archive for the records of each locus and adds
// the new ones to the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/archive"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/metrics"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/taxonomy"
)

const defaultDatabase = "nuccore"

type Stats struct {
	Locus       string
	Found       int
	Known       int
	Blacklisted int
	TooLong     int
	Unresolved  int
	Added       int
}

type Ingester struct {
	store    *db.Store
	client   archive.Client
	resolver *taxonomy.Resolver
	metrics  *metrics.Recorder
	maxLen   int

	organisms map[string]int64 // by taxid or flat name
}

func New(store *db.Store, client archive.Client, resolver *taxonomy.Resolver, maxLen int, rec *metrics.Recorder) *Ingester {
	return &Ingester{
		store:     store,
		client:    client,
		resolver:  resolver,
		metrics:   rec,
		maxLen:    maxLen,
		organisms: map[string]int64{},
	}
}

// Query builds the archive search term of l restricted to taxids, without
// the excluded taxa and, when maxLen > 0, without longer records.
func Query(l model.Locus, taxids, excluded []int64, maxLen int) string {
	var b strings.Builder
	if q := strings.TrimSpace(l.Query); q != "" {
		b.WriteString("(" + q + ")")
	}
	and := func(s string) {
		if b.Len() > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(s)
	}
	if len(taxids) > 0 {
		and("(" + organismTerms(taxids) + ")")
	}
	if len(excluded) > 0 {
		b.WriteString(" NOT (" + organismTerms(excluded) + ")")
	}
	if maxLen > 0 {
		and(fmt.Sprintf("1:%d[Sequence Length]", maxLen))
	}
	return b.String()
}

func organismTerms(taxids []int64) string {
	terms := make([]string, len(taxids))
	for i, id := range taxids {
		terms[i] = "txid" + strconv.FormatInt(id, 10) + "[Organism]"
	}
	return strings.Join(terms, " OR ")
}

// SearchAll runs SearchLocus for each locus. Archive failures of one locus
// are logged and the next locus is searched.
func (in *Ingester) SearchAll(ctx context.Context, loci []model.Locus, taxids, excluded []int64) ([]Stats, error) {
	var all []Stats
	for _, l := range loci {
		stats, err := in.SearchLocus(ctx, l, taxids, excluded)
		var tfe *archive.TransientFetchError
		if errors.As(err, &tfe) {
			logger.Error("search failed", zap.String("locus", l.Name), zap.Error(err))
			continue
		}
		if err != nil {
			return all, err
		}
		all = append(all, stats)
	}
	return all, nil
}

// SearchLocus fetches the records of l that are neither stored nor
// blacklisted and stores them annotated with the locus name.
func (in *Ingester) SearchLocus(ctx context.Context, l model.Locus, taxids, excluded []int64) (Stats, error) {
	stats := Stats{Locus: l.Name}
	database := l.Database
	if database == "" {
		database = defaultDatabase
	}

	query := Query(l, taxids, excluded, in.maxLen)
	logger.Info("searching archive", zap.String("locus", l.Name), zap.String("db", database), zap.String("query", query))
	ids, err := in.client.Search(ctx, query, database)
	if err != nil {
		return stats, err
	}
	stats.Found = len(ids)

	known, err := in.store.KnownGIs(ctx)
	if err != nil {
		return stats, err
	}
	var fresh []string
	for _, id := range ids {
		if gi, err := strconv.ParseInt(id, 10, 64); err == nil && known[gi] {
			stats.Known++
			continue
		}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		logger.Info("no new records", zap.String("locus", l.Name), zap.Int("found", stats.Found))
		return stats, nil
	}

	entries, err := in.client.Fetch(ctx, fresh, database)
	if err != nil {
		return stats, err
	}
	taxids = taxids[:0:0]
	for _, e := range entries {
		if e.TaxID > 0 {
			taxids = append(taxids, e.TaxID)
		}
	}
	if err := in.resolver.Prefetch(ctx, taxids); err != nil {
		logger.Warn("taxonomy prefetch failed", zap.Error(err))
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		added, err := in.add(ctx, l, e, &stats)
		if err != nil {
			return stats, err
		}
		if added {
			stats.Added++
		}
	}
	in.metrics.Fetched(l.Name, stats.Added)
	logger.Info("search finished",
		zap.String("locus", l.Name),
		zap.Int("found", stats.Found),
		zap.Int("known", stats.Known),
		zap.Int("blacklisted", stats.Blacklisted),
		zap.Int("added", stats.Added))
	return stats, nil
}

func (in *Ingester) add(ctx context.Context, l model.Locus, e archive.Entry, stats *Stats) (bool, error) {
	rec := e.Record
	if rec.Accession == "" {
		logger.Warn("archive record without accession", zap.Int64("gi", rec.GI))
		return false, nil
	}
	if in.maxLen > 0 && len(rec.Sequence) > in.maxLen {
		stats.TooLong++
		return false, nil
	}
	blacklisted, err := in.store.IsBlacklisted(ctx, rec.Accession)
	if err != nil {
		return false, err
	}
	if blacklisted {
		stats.Blacklisted++
		return false, nil
	}
	if _, err := in.store.RecordByAccession(ctx, rec.Accession); err == nil {
		stats.Known++
		return false, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return false, err
	}

	org, orgID, err := in.organism(ctx, e)
	if err != nil {
		var tfe *archive.TransientFetchError
		if errors.As(err, &tfe) {
			return false, err
		}
		logger.Warn("organism unresolved, record skipped", zap.String("accession", rec.Accession), zap.Error(err))
		stats.Unresolved++
		return false, nil
	}

	err = in.store.WithTx(ctx, func(tx *db.Tx) error {
		switch {
		case orgID == 0:
			if _, err := tx.AddOrganism(ctx, &org); err != nil {
				return err
			}
			orgID = org.ID
		case e.TaxID > 0 && !slices.Contains(org.TaxIDs, e.TaxID):
			if err := tx.AddOrganismTaxID(ctx, orgID, e.TaxID); err != nil {
				return err
			}
			org.TaxIDs = append(org.TaxIDs, e.TaxID)
		}
		rec.OrganismID = orgID
		rec.Annotations = annotations(l, org)
		_, err := tx.AddRecord(ctx, &rec)
		return err
	})
	if err != nil {
		return false, err
	}
	in.remember(org, orgID)
	logger.Debug("record added", zap.String("accession", rec.Accession), zap.String("organism", org.FlatName()))
	return true, nil
}

// organism returns the stored organism of e, or a resolved one with id 0 when
// it is new.
func (in *Ingester) organism(ctx context.Context, e archive.Entry) (model.Organism, int64, error) {
	if e.TaxID > 0 {
		if id, ok := in.organisms[taxKey(e.TaxID)]; ok {
			o, err := in.store.GetOrganism(ctx, id)
			return o, id, err
		}
		o, err := in.store.OrganismByTaxID(ctx, e.TaxID)
		if err == nil {
			return o, o.ID, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return o, 0, err
		}
	}
	o, err := in.resolver.Resolve(ctx, e)
	if err != nil {
		return o, 0, err
	}
	if id, ok := in.organisms[o.FlatName()]; ok {
		stored, err := in.store.GetOrganism(ctx, id)
		return stored, id, err
	}
	// Another taxid may already carry this name.
	stored, err := in.store.OrganismByName(ctx, o)
	switch {
	case err == nil:
		return stored, stored.ID, nil
	case !errors.Is(err, db.ErrNotFound):
		return o, 0, err
	}
	return o, 0, nil
}

func (in *Ingester) remember(o model.Organism, id int64) {
	in.organisms[o.FlatName()] = id
	for _, t := range o.TaxIDs {
		in.organisms[taxKey(t)] = id
	}
}

func taxKey(id int64) string { return "taxid:" + strconv.FormatInt(id, 10) }

func annotations(l model.Locus, o model.Organism) map[string]string {
	names := make([]string, 0, len(o.Lineage))
	for _, n := range o.Lineage {
		names = append(names, n.Name)
	}
	a := map[string]string{
		model.AnnotationLocus:    l.Name,
		model.AnnotationOrganism: o.FlatName(),
		model.AnnotationLineage:  strings.Join(names, ","),
	}
	if o.CommonName != "" {
		a[model.AnnotationCommonName] = o.CommonName
	}
	return a
}

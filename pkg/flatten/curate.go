package flatten

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/metrics"
	"github.com/yumyai/phylomat/pkg/model"
)

// Blacklist inactivates the record of accession, keeps it out of future
// searches and detaches it from any flat record. The next flatten sees the
// pair as stale.
func Blacklist(ctx context.Context, store *db.Store, accession string, rec *metrics.Recorder) (model.Record, error) {
	r, err := store.RecordByAccession(ctx, accession)
	if err != nil {
		return model.Record{}, fmt.Errorf("record %s: %w", accession, err)
	}
	err = store.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.SetInactive(ctx, r.ID); err != nil {
			return err
		}
		if err := tx.AddToBlacklist(ctx, model.BlacklistEntry{
			Accession:         r.Accession,
			GI:                r.GI,
			InternalReference: r.InternalReference,
			Notes:             model.NoteUserDeleted,
		}); err != nil {
			return err
		}
		return tx.DeleteAncestryByParent(ctx, r.ID)
	})
	if err != nil {
		return model.Record{}, err
	}
	rec.Blacklisted(model.NoteUserDeleted)
	logger.Info("record blacklisted", zap.String("accession", accession))
	r.Active = false
	return r, nil
}

// Whitelist reactivates the record of accession. The artifact files of its
// pair still list the record under the old ancestry, so they are dropped and
// the next flatten rebuilds the pair from the active records.
func Whitelist(ctx context.Context, store *db.Store, artifacts *db.ArtifactDir, accession string) (model.Record, error) {
	var r model.Record
	err := store.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		r, err = tx.Whitelist(ctx, accession)
		return err
	})
	if err != nil {
		return model.Record{}, fmt.Errorf("record %s: %w", accession, err)
	}
	logger.Info("record whitelisted", zap.String("accession", accession))

	l := r.Annotations[model.AnnotationLocus]
	if l == "" || r.OrganismID == 0 {
		return r, nil
	}
	org, err := store.GetOrganism(ctx, r.OrganismID)
	if err != nil {
		return r, fmt.Errorf("organism of %s: %w", accession, err)
	}
	if err := artifacts.Invalidate(l, org.FlatName()); err != nil {
		return r, err
	}
	logger.Debug("artifact invalidated", zap.String("organism", org.FlatName()), zap.String("locus", l))
	return r, nil
}

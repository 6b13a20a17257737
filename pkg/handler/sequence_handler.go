package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/export"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/seqio"
)

// FASTA of one record, looked up by accession or internal reference.
func (pctx *ProjectContext) GetRecordSequenceHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	rec, err := pctx.Store.RecordByAccession(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		rec, err = pctx.Store.RecordByInternalReference(r.Context(), id)
	}
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("Failed to load record", zap.String("id", id), zap.Error(err))
		http.Error(w, "Failed to retrieve data", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := seqio.WriteFasta(w, []model.Sequence{{ID: rec.Label(), Seq: rec.Sequence}}); err != nil {
		logger.Warn("Failed to write sequence", zap.String("id", id), zap.Error(err))
	}
}

// FASTA of the active records of a locus.
func (pctx *ProjectContext) GetLocusSequenceHandler(w http.ResponseWriter, r *http.Request) {
	locus := r.URL.Query().Get("locus")
	if _, ok := pctx.Config.Locus(locus); !ok {
		http.Error(w, "unknown locus", http.StatusNotFound)
		return
	}
	kind, err := export.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	seqs, err := export.Sequences(r.Context(), pctx.Store, locus, kind)
	if err != nil {
		logger.Error("Failed to export locus", zap.String("locus", locus), zap.Error(err))
		http.Error(w, "Failed to retrieve data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := seqio.WriteFasta(w, seqs); err != nil {
		logger.Warn("Failed to write sequences", zap.String("locus", locus), zap.Error(err))
	}
}

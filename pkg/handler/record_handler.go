package handler

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/export"
	"github.com/yumyai/phylomat/pkg/handler/params"
	"github.com/yumyai/phylomat/pkg/model"
)

const (
	defaultPageSize   = 100
	defaultPageNumber = 1
	defaultOrderDir   = "asc"
)

type RecordView struct {
	ID          int64             `json:"id"`
	Label       string            `json:"label"`
	Kind        model.RecordKind  `json:"kind"`
	Active      bool              `json:"active"`
	OrganismID  int64             `json:"organism_id"`
	Length      int               `json:"length"`
	Annotations map[string]string `json:"annotations"`
}

// Response struct to hold the payload and page number
type RecordsPayload struct {
	Records   []RecordView `json:"records"`
	Total     int          `json:"total"`
	TotalPage int          `json:"pageNumber"`
}

type RecordsResponse struct {
	Success bool           `json:"success"`
	Payload RecordsPayload `json:"payload"`
	Error   string         `json:"error,omitempty"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Payload any    `json:"payload"`
	Error   string `json:"error,omitempty"`
}

func parsePositiveIntFallback(v string, fallback int) int {
	num, err := strconv.Atoi(v)
	if err != nil || num <= 0 {
		return fallback
	}
	return num
}

func normalizeOrderDir(raw string) string {
	switch strings.ToLower(raw) {
	case "desc":
		return "desc"
	default:
		return defaultOrderDir
	}
}

// Per-locus record counts.
func (pctx *ProjectContext) LociAPI(w http.ResponseWriter, r *http.Request) {
	summaries, err := pctx.summaries(r)
	if err != nil {
		logger.Error("Failed to summarize loci", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, APIResponse{Error: "failed to retrieve data"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Payload: summaries})
}

// Records of one locus, paginated.
func (pctx *ProjectContext) RecordsAPI(w http.ResponseWriter, r *http.Request) {
	locus := r.PathValue("locus")
	if _, ok := pctx.Config.Locus(locus); !ok {
		writeJSON(w, http.StatusNotFound, RecordsResponse{Error: "unknown locus " + locus})
		return
	}

	query := r.URL.Query()
	kind, err := export.ParseKind(query.Get("kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RecordsResponse{Error: err.Error()})
		return
	}
	includeInactive, _ := strconv.ParseBool(query.Get("inactive"))
	currentPage := parsePositiveIntFallback(query.Get("page"), defaultPageNumber)
	pageSize := parsePositiveIntFallback(query.Get("page_size"), defaultPageSize)
	orderBy := params.ParseRecordField(query.Get("order_by"))
	orderDir := normalizeOrderDir(query.Get("order_dir"))

	logger.Debug("Listing records",
		zap.String("locus", locus),
		zap.String("kind", string(kind)),
		zap.Int("page", currentPage),
		zap.Int("page_size", pageSize),
		zap.String("order_by", orderBy.String()),
		zap.String("order_dir", orderDir),
	)

	recs, err := pctx.Store.RecordsWithAnnotation(r.Context(), kind.Annotation(), locus, true, includeInactive)
	if err != nil {
		logger.Error("Failed to list records", zap.String("locus", locus), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, RecordsResponse{Error: "failed to retrieve data"})
		return
	}
	orderBy.Sort(recs, orderDir == "desc")

	total := len(recs)
	start := min((currentPage-1)*pageSize, total)
	end := min(start+pageSize, total)

	views := make([]RecordView, 0, end-start)
	for _, rec := range recs[start:end] {
		views = append(views, RecordView{
			ID:          rec.ID,
			Label:       rec.Label(),
			Kind:        rec.Kind,
			Active:      rec.Active,
			OrganismID:  rec.OrganismID,
			Length:      len(rec.Sequence),
			Annotations: rec.Annotations,
		})
	}
	writeJSON(w, http.StatusOK, RecordsResponse{
		Success: true,
		Payload: RecordsPayload{
			Records:   views,
			Total:     total,
			TotalPage: (total + pageSize - 1) / pageSize, // Rounding up
		},
	})
}

func (pctx *ProjectContext) OrganismsAPI(w http.ResponseWriter, r *http.Request) {
	orgs, err := pctx.Store.ListOrganisms(r.Context())
	if err != nil {
		logger.Error("Failed to list organisms", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, APIResponse{Error: "failed to retrieve data"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Payload: orgs})
}

// Handler for miscellaneous endpoints such as health check

package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/render"
)

type HealthResponse struct {
	Health    string    `json:"health"`
	Timestamp time.Time `json:"timestamp"`
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {

	response := HealthResponse{
		Health:    "ok",
		Timestamp: time.Now(),
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// Main page.
func (pctx *ProjectContext) StatusPage(w http.ResponseWriter, r *http.Request) {
	summaries, err := pctx.summaries(r)
	if err != nil {
		logger.Error("Failed to summarize loci", zap.String("url", r.URL.Path), zap.Error(err))
		http.Error(w, "Failed to retrieve data", http.StatusInternalServerError)
		return
	}

	var outputs []string
	if entries, err := os.ReadDir(pctx.Config.AlignDir()); err == nil {
		for _, e := range entries {
			if e.Type().IsRegular() {
				outputs = append(outputs, e.Name())
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := render.StatusPageData{Project: pctx.Config.ProjectDir, Loci: summaries, Outputs: outputs}
	if err := render.RenderStatusPage(w, data); err != nil {
		logger.Error(err.Error())
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

func (pctx *ProjectContext) summaries(r *http.Request) ([]db.LocusSummary, error) {
	out := make([]db.LocusSummary, 0, len(pctx.Config.Loci))
	for _, l := range pctx.Config.Loci {
		s, err := pctx.Store.SummarizeLocus(r.Context(), l.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/middle"
)

// NewServer is the router behind request ids, request logging and request
// counting.
func NewServer(pctx *ProjectContext) http.Handler {
	log := logger.L()
	return middle.Chain(NewRouter(pctx),
		middle.RequestIDMiddleware(log),
		middle.LoggingMiddleware(log),
		middle.ObserveMiddleware(pctx.Metrics.Request),
	)
}

// NewRouter registers the read-only project routes.
func NewRouter(pctx *ProjectContext) *http.ServeMux {
	mux := http.NewServeMux()

	// Error route
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	mux.HandleFunc("GET /{$}", pctx.StatusPage)

	// API routes
	mux.HandleFunc("GET /api/v1/health", HealthCheck)
	mux.HandleFunc("GET /api/v1/loci", pctx.LociAPI)
	mux.HandleFunc("GET /api/v1/loci/{locus}/records", pctx.RecordsAPI)
	mux.HandleFunc("GET /api/v1/organisms", pctx.OrganismsAPI)

	// Get sequences
	mux.HandleFunc("GET /sequence/by-record", pctx.GetRecordSequenceHandler)
	mux.HandleFunc("GET /sequence/by-locus", pctx.GetLocusSequenceHandler)

	// Supermatrix outputs
	fs := http.FileServer(http.Dir(pctx.Config.AlignDir()))
	mux.Handle("GET /output/", http.StripPrefix("/output/", fs))

	if reg := pctx.Metrics.Registry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return mux
}

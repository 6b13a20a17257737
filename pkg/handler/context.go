package handler

// DI for all handlers.

import (
	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/metrics"
)

type ProjectContext struct {
	Store   *db.Store
	Config  config.Config
	Metrics *metrics.Recorder
}

package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	drehttp "github.com/odyssey-erp/odyssey-dre/internal/dre/http"
	fiscalhttp "github.com/odyssey-erp/odyssey-dre/internal/fiscal/http"
	"github.com/odyssey-erp/odyssey-dre/internal/observability"
	"github.com/odyssey-erp/odyssey-dre/internal/shared"
	"github.com/odyssey-erp/odyssey-dre/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	Sessions      *shared.SessionStore
	FiscalHandler *fiscalhttp.Handler
	DREHandler    *drehttp.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/dre", func(r chi.Router) {
		r.Use(shared.RequireSession(params.Sessions, params.Logger))
		if params.FiscalHandler != nil {
			params.FiscalHandler.MountRoutes(r)
		}
		if params.DREHandler != nil {
			params.DREHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}

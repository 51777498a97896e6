package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sghousing/resale-tracker/internal/api/middleware"
	"github.com/sghousing/resale-tracker/internal/jobs"
)

// NewRouter wires every endpoint and wraps the mux in the middleware chain.
func NewRouter(reader DatasetReader, publisher jobs.Publisher, store jobs.JobStore, log zerolog.Logger) http.Handler {
	dataset := NewDatasetHandler(reader, log)
	refresh := NewRefreshHandler(publisher, log)
	jobsHandler := NewJobsHandler(store, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/transactions", dataset.ListTransactions)
	mux.HandleFunc("GET /api/summary", dataset.Summary)
	mux.HandleFunc("GET /api/options", dataset.Options)
	mux.HandleFunc("GET /api/last-updated", dataset.LastUpdated)
	mux.HandleFunc("POST /api/refresh", refresh.Refresh)
	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)
	mux.HandleFunc("GET /health", Health)

	return middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(log)(
				middleware.CORS(mux),
			),
		),
	)
}

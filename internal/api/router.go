// Package api assembles the HTTP routes and middleware of the import service.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/expense-tracker/internal/api/handlers"
	"github.com/dvloznov/expense-tracker/internal/api/middleware"
	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/rs/zerolog"
)

// Deps are the services behind the routes. Publisher and Jobs may be nil
// when background imports are disabled.
type Deps struct {
	Importer  *pipeline.Importer
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	JWTSecret string
	Log       zerolog.Logger
}

// NewRouter returns the full handler chain:
// Recovery, Logger, RequestID, CORS, Auth, then the routes.
func NewRouter(d Deps) http.Handler {
	importHandler := handlers.NewImportHandler(d.Importer, d.Publisher)
	dataHandler := handlers.NewDataHandler(d.Importer)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/import", importHandler.Import)
	mux.HandleFunc("GET /api/transactions/count", dataHandler.CountTransactions)
	mux.HandleFunc("GET /api/settings", dataHandler.GetSettings)
	mux.HandleFunc("DELETE /api/data", dataHandler.ResetData)

	if d.Jobs != nil {
		jobsHandler := handlers.NewJobsHandler(d.Jobs)
		mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(d.Log)(
		middleware.Logger(d.Log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(d.JWTSecret)(mux),
				),
			),
		),
	)
}

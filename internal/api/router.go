package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/careloop/notedigest/internal/api/middleware"
	"github.com/careloop/notedigest/internal/api/shared"
)

// Pinger reports backing-store liveness for the health endpoint.
type Pinger func(ctx context.Context) error

// NewRouter assembles the service's HTTP routes. ping may be nil, in
// which case the health endpoint only reports process liveness.
func NewRouter(notes *NoteHandler, jobs *JobHandler, stats *StatsHandler, ping Pinger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "database unreachable", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/notes/process", notes.ProcessNote)
		r.Post("/notes/process/batch", notes.ProcessBatch)
		r.Get("/jobs", jobs.ListJobs)
		r.Get("/jobs/{id}", jobs.GetJob)
		r.Get("/stats", stats.GetStats)
	})

	return r
}

package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/drip-campaign-backend/internal/handler"
)

// NewRouter mounts the step and job routes under a chi router with request
// ids and panic recovery.
func NewRouter(steps *StepController, jobs *JobController) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handler.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Step routes
	r.Route("/campaigns/{id}/steps", func(r chi.Router) {
		r.Get("/", steps.ListSteps)
		r.Post("/", steps.CreateSteps)
		r.Put("/order", steps.ReorderSteps)
		r.Patch("/{stepID}", steps.UpdateStep)
		r.Delete("/{stepID}", steps.DeleteStep)
	})

	// Job routes
	r.Post("/queues/{queue}/jobs", jobs.Enqueue)

	return r
}

// internal/controller/job_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/drip-campaign-backend/internal/handler"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/service"
)

type JobController struct {
	Jobs service.JobQueueInterface
	Log  *logger.Logger
}

func NewJobController(jobs service.JobQueueInterface, baseLog *logger.Logger) *JobController {
	return &JobController{Jobs: jobs, Log: baseLog.With("controller", "JobController")}
}

type enqueueRequest struct {
	Payload        json.RawMessage `json:"payload"`
	RunAt          *time.Time      `json:"run_at"`
	IdempotencyKey string          `json:"idempotency_key"`
	MaxAttempts    int             `json:"max_attempts"`
}

// Enqueue accepts a job for the queue in the URL. A repeated idempotency
// key is accepted again without creating a second job.
func (c *JobController) Enqueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := handler.RequireUser(w, r); !ok {
		return
	}
	queueName := chi.URLParam(r, "queue")

	var body enqueueRequest
	if err := handler.Decode(limitBody(w, r), &body); err != nil {
		handler.BadRequest(w, "invalid body: "+err.Error())
		return
	}
	if body.MaxAttempts < 0 {
		handler.BadRequest(w, "max_attempts must not be negative")
		return
	}

	var payload any
	if len(body.Payload) > 0 {
		payload = body.Payload
	}
	opts := model.EnqueueOptions{
		RunAt:          body.RunAt,
		IdempotencyKey: body.IdempotencyKey,
		MaxAttempts:    body.MaxAttempts,
	}
	if err := c.Jobs.Enqueue(r.Context(), queueName, payload, opts); err != nil {
		handler.Error(w, c.Log, err)
		return
	}

	handler.JSON(w, http.StatusAccepted, map[string]interface{}{
		"queue":           queueName,
		"idempotency_key": body.IdempotencyKey,
		"status":          "accepted",
	})
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/drip-campaign-backend/internal/dbctx"
	appErrors "github.com/unclebandit/drip-campaign-backend/internal/errors"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/queue"
	"github.com/unclebandit/drip-campaign-backend/internal/repository"
)

type JobQueueInterface interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts model.EnqueueOptions) error
	FetchNext(ctx context.Context, queueName string) (*model.Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, backoffSeconds int, cause error) error
}

// JobQueue is a durable at-least-once work queue on top of the jobs table.
// It keeps no state between calls; exclusivity comes from row locks, so any
// number of processes may share one database.
type JobQueue struct {
	Tx       Transactor
	Jobs     repository.JobRepositoryInterface
	Notifier queue.Notifier
	log      *logger.Logger
}

func NewJobQueue(tx Transactor, jobs repository.JobRepositoryInterface, notifier queue.Notifier, baseLog *logger.Logger) *JobQueue {
	if notifier == nil {
		notifier = queue.NopNotifier{}
	}
	return &JobQueue{
		Tx:       tx,
		Jobs:     jobs,
		Notifier: notifier,
		log:      baseLog.With("service", "JobQueue"),
	}
}

// Enqueue stores a pending job. With an idempotency key, repeated calls
// create the job at most once, whatever state the first one is in.
func (q *JobQueue) Enqueue(ctx context.Context, queueName string, payload any, opts model.EnqueueOptions) error {
	if queueName == "" {
		return appErrors.NewValidation("queue", "must not be empty")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}

	job := &model.Job{
		ID:          uuid.New(),
		Queue:       queueName,
		Payload:     raw,
		MaxAttempts: opts.MaxAttempts,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = model.DefaultMaxAttempts
	}
	if opts.RunAt != nil {
		job.RunAt = opts.RunAt.UTC()
	}
	if opts.IdempotencyKey != "" {
		key := opts.IdempotencyKey
		job.IdempotencyKey = &key
	}

	inserted, err := q.Jobs.Insert(dbctx.Context{Ctx: ctx}, job)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	if !inserted {
		return nil
	}

	q.log.Debug("Job enqueued", "queue", queueName, "job_id", job.ID, "run_at", job.RunAt)
	if err := q.Notifier.Notify(queueName); err != nil {
		q.log.Warn("Wake-up notify failed", "queue", queueName, "error", err)
	}
	return nil
}

// FetchNext claims the oldest eligible pending job of the queue, or returns
// nil when there is none.
func (q *JobQueue) FetchNext(ctx context.Context, queueName string) (*model.Job, error) {
	var job *model.Job
	err := q.Tx.WithTx(ctx, func(dbc dbctx.Context) error {
		var err error
		job, err = q.Jobs.ClaimNextEligible(dbc, queueName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch next %s: %w", queueName, err)
	}
	return job, nil
}

// Complete marks the job completed. Completing twice is harmless.
func (q *JobQueue) Complete(ctx context.Context, id uuid.UUID) error {
	if err := q.Jobs.Complete(dbctx.Context{Ctx: ctx}, id); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// Fail puts the job back to pending with one more attempt counted and
// run_at pushed backoffSeconds into the future. It does not look at
// max_attempts; giving up is the caller's decision.
func (q *JobQueue) Fail(ctx context.Context, id uuid.UUID, backoffSeconds int, cause error) error {
	if backoffSeconds < 0 {
		return appErrors.NewValidation("backoff_seconds", "must not be negative")
	}
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	backoff := time.Duration(backoffSeconds) * time.Second
	if err := q.Jobs.Reschedule(dbctx.Context{Ctx: ctx}, id, backoff, lastError); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

// Get returns the job or nil when it does not exist.
func (q *JobQueue) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return q.Jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, appErrors.NewValidation("payload", "invalid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, appErrors.NewValidation("payload", "invalid JSON")
		}
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, appErrors.NewValidation("payload", err.Error())
		}
		return b, nil
	}
}

var _ JobQueueInterface = (*JobQueue)(nil)

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/queue"
)

// Handler processes one claimed job. Returning an error schedules a retry.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) error
}

type HandlerFunc func(ctx context.Context, job *model.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *model.Job) error { return f(ctx, job) }

type WorkerOptions struct {
	// Concurrency is the number of polling loops per registered queue.
	Concurrency  int
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// Notifier delivers wake-ups so loops poll before the next tick.
	Notifier queue.Notifier
}

const settleTimeout = 10 * time.Second

// Worker polls the job queue and dispatches claimed jobs to the handler
// registered for their queue.
type Worker struct {
	jobs     JobQueueInterface
	log      *logger.Logger
	opts     WorkerOptions
	handlers map[string]Handler
	wake     map[string]chan struct{}
}

// Constructor
func NewWorker(jobs JobQueueInterface, baseLog *logger.Logger, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Hour
	}
	if opts.Notifier == nil {
		opts.Notifier = queue.NopNotifier{}
	}
	return &Worker{
		jobs:     jobs,
		log:      baseLog.With("component", "JobWorker"),
		opts:     opts,
		handlers: map[string]Handler{},
		wake:     map[string]chan struct{}{},
	}
}

// Register binds a handler to a queue. Call before Run.
func (w *Worker) Register(queueName string, h Handler) {
	w.handlers[queueName] = h
	w.wake[queueName] = make(chan struct{}, w.opts.Concurrency)
}

// Run polls until ctx is cancelled. Jobs already claimed are finished and
// settled before it returns.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return errors.New("worker has no registered queues")
	}

	if err := w.opts.Notifier.Subscribe(ctx, w.onWake); err != nil {
		w.log.Warn("Wake-up subscription failed, relying on polling", "error", err)
	}

	w.log.Info("Starting job worker pool",
		"queues", len(w.handlers),
		"concurrency", w.opts.Concurrency,
		"poll_interval", w.opts.PollInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	for queueName, h := range w.handlers {
		for i := 0; i < w.opts.Concurrency; i++ {
			queueName, h, loopID := queueName, h, i+1
			g.Go(func() error {
				w.runLoop(gctx, queueName, h, loopID)
				return nil
			})
		}
	}
	return g.Wait()
}

func (w *Worker) onWake(queueName string) {
	ch, ok := w.wake[queueName]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (w *Worker) runLoop(ctx context.Context, queueName string, h Handler, loopID int) {
	log := w.log.With("queue", queueName, "worker_id", loopID)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything eligible before waiting again.
		for ctx.Err() == nil {
			processed, err := w.processOne(ctx, queueName, h, log)
			if err != nil {
				log.Warn("FetchNext failed", "error", err)
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			log.Info("Worker loop stopped")
			return
		case <-ticker.C:
		case <-w.wake[queueName]:
		}
	}
}

// processOne claims and handles at most one job. It reports whether a job
// was claimed.
func (w *Worker) processOne(ctx context.Context, queueName string, h Handler, log *logger.Logger) (bool, error) {
	job, err := w.jobs.FetchNext(ctx, queueName)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	runErr := w.runHandler(ctx, h, job, log)

	// Settle even when shutdown cancelled ctx mid-job.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	w.settle(settleCtx, job, runErr, log)
	return true, nil
}

func (w *Worker) runHandler(ctx context.Context, h Handler, job *model.Job, log *logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "job_id", job.ID, "panic", r)
			err = &panicError{Val: r}
		}
	}()
	return h.Handle(ctx, job)
}

func (w *Worker) settle(ctx context.Context, job *model.Job, runErr error, log *logger.Logger) {
	if runErr == nil {
		if err := w.jobs.Complete(ctx, job.ID); err != nil {
			log.Error("Complete failed", "job_id", job.ID, "error", err)
			return
		}
		log.Debug("Job completed", "job_id", job.ID)
		return
	}

	if job.FinalAttempt() {
		log.Error("Job permanently failed, giving up",
			"job_id", job.ID,
			"attempts", job.Attempts+1,
			"max_attempts", job.MaxAttempts,
			"error", runErr,
		)
		if err := w.jobs.Complete(ctx, job.ID); err != nil {
			log.Error("Complete failed", "job_id", job.ID, "error", err)
		}
		return
	}

	backoff := w.backoffFor(job.Attempts)
	log.Warn("Job failed, retrying",
		"job_id", job.ID,
		"attempt", job.Attempts+1,
		"max_attempts", job.MaxAttempts,
		"backoff", backoff,
		"error", runErr,
	)
	if err := w.jobs.Fail(ctx, job.ID, int(backoff/time.Second), runErr); err != nil {
		log.Error("Fail failed", "job_id", job.ID, "error", err)
	}
}

// backoffFor returns BackoffBase * 2^attempts capped at BackoffMax.
func (w *Worker) backoffFor(attempts int) time.Duration {
	d := w.opts.BackoffBase
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= w.opts.BackoffMax {
			return w.opts.BackoffMax
		}
	}
	if d > w.opts.BackoffMax {
		return w.opts.BackoffMax
	}
	return d
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

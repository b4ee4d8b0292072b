package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclebandit/drip-campaign-backend/internal/dbctx"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

type JobRepositoryInterface interface {
	// Insert adds a pending job. It returns false, nil when a job with the
	// same idempotency key already exists, whatever that job's status.
	Insert(dbc dbctx.Context, job *model.Job) (bool, error)
	// ClaimNextEligible moves the oldest pending job of queue whose run_at
	// has passed (by the database clock) to running and returns it. Rows
	// locked by concurrent claimers are skipped, so two callers never get
	// the same job. Returns nil, nil when nothing is eligible.
	ClaimNextEligible(dbc dbctx.Context, queue string) (*model.Job, error)
	Complete(dbc dbctx.Context, id uuid.UUID) error
	// Reschedule returns the job to pending, bumps attempts and pushes
	// run_at to now+backoff.
	Reschedule(dbc dbctx.Context, id uuid.UUID, backoff time.Duration, lastError *string) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*model.Job, error)
	GetByIdempotencyKey(dbc dbctx.Context, key string) (*model.Job, error)
}

type JobRepository struct {
	DB  *sql.DB
	log *logger.Logger
}

func NewJobRepository(db *sql.DB, baseLog *logger.Logger) *JobRepository {
	return &JobRepository{DB: db, log: baseLog.With("repo", "JobRepository")}
}

const jobColumns = `id, queue, payload, status, run_at, attempts, max_attempts,
        idempotency_key, last_error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var j model.Job
	var payload []byte
	err := row.Scan(
		&j.ID, &j.Queue, &payload, &j.Status, &j.RunAt, &j.Attempts, &j.MaxAttempts,
		&j.IdempotencyKey, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	return &j, nil
}

func (r *JobRepository) Insert(dbc dbctx.Context, job *model.Job) (bool, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	var key any
	if job.IdempotencyKey != nil && *job.IdempotencyKey != "" {
		key = *job.IdempotencyKey
	}
	// A nil run_at falls back to the database clock.
	var runAt any
	if !job.RunAt.IsZero() {
		runAt = job.RunAt.UTC()
	}

	query := `
        INSERT INTO jobs (id, queue, payload, status, run_at, attempts, max_attempts, idempotency_key)
        VALUES ($1, $2, $3, 'pending', COALESCE($4::timestamptz, NOW()), 0, $5, $6)
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING status, run_at, attempts, created_at, updated_at
    `
	// lib/pq sends []byte as bytea, so the JSON goes over as text.
	err := dbc.Querier(r.DB).QueryRowContext(dbc.Context(), query,
		job.ID, job.Queue, string(job.Payload), runAt, job.MaxAttempts, key,
	).Scan(&job.Status, &job.RunAt, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debug("Job already enqueued", "queue", job.Queue, "idempotency_key", key)
			return false, nil
		}
		// Primary key collisions never happen with random ids, so a unique
		// violation here is a dedup race that ON CONFLICT did not absorb.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation && key != nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *JobRepository) ClaimNextEligible(dbc dbctx.Context, queue string) (*model.Job, error) {
	query := `
        UPDATE jobs
        SET status = 'running', updated_at = NOW()
        WHERE id = (
            SELECT id FROM jobs
            WHERE queue = $1
              AND status = 'pending'
              AND run_at <= NOW()
            ORDER BY run_at ASC
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + jobColumns
	j, err := scanJob(dbc.Querier(r.DB).QueryRowContext(dbc.Context(), query, queue))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func (r *JobRepository) Complete(dbc dbctx.Context, id uuid.UUID) error {
	_, err := dbc.Querier(r.DB).ExecContext(dbc.Context(),
		`UPDATE jobs SET status = 'completed', updated_at = NOW() WHERE id = $1 AND status <> 'completed'`,
		id,
	)
	return err
}

func (r *JobRepository) Reschedule(dbc dbctx.Context, id uuid.UUID, backoff time.Duration, lastError *string) error {
	query := `
        UPDATE jobs
        SET status = 'pending',
            attempts = attempts + 1,
            run_at = NOW() + make_interval(secs => $2),
            last_error = COALESCE($3, last_error),
            updated_at = NOW()
        WHERE id = $1
    `
	_, err := dbc.Querier(r.DB).ExecContext(dbc.Context(), query, id, backoff.Seconds(), lastError)
	return err
}

func (r *JobRepository) GetByID(dbc dbctx.Context, id uuid.UUID) (*model.Job, error) {
	j, err := scanJob(dbc.Querier(r.DB).QueryRowContext(dbc.Context(),
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func (r *JobRepository) GetByIdempotencyKey(dbc dbctx.Context, key string) (*model.Job, error) {
	j, err := scanJob(dbc.Querier(r.DB).QueryRowContext(dbc.Context(),
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

var _ JobRepositoryInterface = (*JobRepository)(nil)

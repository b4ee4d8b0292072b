package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
)

const DefaultMaxAttempts = 5

// Job is a unit of deferred work on a named queue. Payload is opaque JSON
// interpreted by the queue's consumer.
type Job struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Queue          string          `db:"queue" json:"queue"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Status         JobStatus       `db:"status" json:"status"`
	RunAt          time.Time       `db:"run_at" json:"run_at"`
	Attempts       int             `db:"attempts" json:"attempts"`
	MaxAttempts    int             `db:"max_attempts" json:"max_attempts"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	LastError      *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// FinalAttempt reports whether a failure of the current dispatch would use
// up the job's last attempt.
func (j *Job) FinalAttempt() bool {
	return j.Attempts+1 >= j.MaxAttempts
}

// EnqueueOptions tune a single enqueue. The zero value means: run now,
// no dedup key, DefaultMaxAttempts.
type EnqueueOptions struct {
	RunAt          *time.Time
	IdempotencyKey string
	MaxAttempts    int
}

var idempotencyNamespace = uuid.MustParse("5f0c3b8e-6a43-4f43-9a55-0cb1d3f0a7e2")

// IdempotencyKey derives a stable key for a logical job from its queue and
// identifying parts, e.g. IdempotencyKey("campaign-send", "42", "3", "1001").
func IdempotencyKey(queue string, parts ...string) string {
	name := queue + "\x00" + strings.Join(parts, "\x00")
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

package model

import (
	"encoding/json"
	"time"
)

// JobType names a kind of background job.
type JobType string

const (
	// JobProcessContact drives one contact through the processing lifecycle.
	JobProcessContact JobType = "process_contact"
	// JobWebhookEvent processes one admitted webhook event.
	JobWebhookEvent JobType = "webhook_event"
)

// JobStatus is the queue state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of queued background work. RunAt in the future delays
// execution, which is how rate-limited work gets rescheduled.
type Job struct {
	ID        string          `json:"id" db:"id"`
	Type      JobType         `json:"type" db:"job_type"`
	Args      json.RawMessage `json:"args" db:"args"`
	Status    JobStatus       `json:"status" db:"status"`
	Attempts  int             `json:"attempts" db:"attempts"`
	RunAt     time.Time       `json:"run_at" db:"run_at"`
	LastError string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// ProcessContactArgs are the arguments for a JobProcessContact job.
type ProcessContactArgs struct {
	ContactID string           `json:"contact_id"`
	Kinds     []EnrichmentKind `json:"kinds,omitempty"`
	// BulkMode suppresses the per-contact duplicate pass during bulk imports;
	// dedupe runs as an explicit follow-up step instead.
	BulkMode bool `json:"bulk_mode,omitempty"`
}

// WebhookEventArgs are the arguments for a JobWebhookEvent job.
type WebhookEventArgs struct {
	EventID string `json:"event_id"`
}

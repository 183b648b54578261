// Package store defines the persistence interface for the enrichment core
// and its PostgreSQL and SQLite implementations.
package store

import (
	"context"
	"time"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// ContactFilter specifies criteria for listing contacts.
type ContactFilter struct {
	Status model.ContactStatus `json:"status,omitempty"`
	Kind   model.ContactKind   `json:"kind,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store is the persistence interface for contacts, webhook events, and the
// job queue. The breaker keeps its own StateStore; everything else the core
// persists goes through here.
type Store interface {
	// Contacts
	CreateContact(ctx context.Context, c *model.ContactRecord) error
	GetContact(ctx context.Context, id string) (*model.ContactRecord, error)
	UpdateContact(ctx context.Context, c *model.ContactRecord) error
	ListContacts(ctx context.Context, filter ContactFilter) ([]model.ContactRecord, error)

	// Lifecycle transitions. BeginProcessing is the lock-protected
	// check-then-set: it returns true only for the single caller that wins
	// the pending|failed -> processing transition.
	BeginProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// Duplicate candidate lookups. All exclude the contact itself and any
	// record already marked as a duplicate.
	FindByExactPhone(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error)
	FindByPhoneSuffix(ctx context.Context, suffix, excludeID string) ([]model.ContactRecord, error)
	FindByExactEmail(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error)
	FindByNameCity(ctx context.Context, fingerprint, city, excludeID string) ([]model.ContactRecord, error)
	FindByName(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error)

	// MergeContacts atomically persists the merged primary record and marks
	// the duplicate. Either both writes commit or neither does.
	MergeContacts(ctx context.Context, primary *model.ContactRecord, duplicateID string, confidence int) error

	// Webhook events. CreateWebhookEvent returns false (and no error) when
	// the idempotency key already exists.
	CreateWebhookEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, id string) (*model.WebhookEvent, error)
	SetWebhookStatus(ctx context.Context, id string, status model.WebhookStatus) error

	// Job queue
	EnqueueJob(ctx context.Context, job *model.Job) error
	DequeueJob(ctx context.Context, now time.Time) (*model.Job, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, runAt time.Time, lastError string) error
	FailJob(ctx context.Context, id string, lastError string) error

	// Failed-job recovery. RequeueJob resets a terminally failed job back to
	// queued with a fresh attempt budget.
	ListFailedJobs(ctx context.Context, limit int) ([]model.Job, error)
	RequeueJob(ctx context.Context, id string, runAt time.Time) error

	// Health counters for monitoring.
	CountContactsByStatus(ctx context.Context) (map[model.ContactStatus]int, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

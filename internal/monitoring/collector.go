// Package monitoring gathers point-in-time health snapshots and raises
// webhook alerts when failure thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enrichment/internal/breaker"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// Snapshot holds a point-in-time view of system health.
type Snapshot struct {
	// Contact lifecycle counts.
	ContactsPending    int `json:"contacts_pending"`
	ContactsProcessing int `json:"contacts_processing"`
	ContactsCompleted  int `json:"contacts_completed"`
	ContactsFailed     int `json:"contacts_failed"`
	// FailureRate is failed over finished (completed + failed). Zero when
	// nothing has finished yet.
	FailureRate float64 `json:"failure_rate"`

	// Job queue counts.
	JobsQueued    int `json:"jobs_queued"`
	JobsRunning   int `json:"jobs_running"`
	JobsCompleted int `json:"jobs_completed"`
	JobsFailed    int `json:"jobs_failed"`

	// OpenCircuits lists services whose circuit is not closed.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// HealthStore is the subset of store methods the collector reads.
type HealthStore interface {
	CountContactsByStatus(ctx context.Context) (map[model.ContactStatus]int, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

// CircuitReader reads per-service breaker state.
type CircuitReader interface {
	State(ctx context.Context, service string) (breaker.State, error)
}

// Collector gathers metrics from the store and the breaker manager.
type Collector struct {
	store    HealthStore
	breakers CircuitReader
	services []string
}

// NewCollector creates a collector over the given store and breakers.
// services names the circuits to inspect; breakers may be nil.
func NewCollector(st HealthStore, breakers CircuitReader, services []string) *Collector {
	return &Collector{store: st, breakers: breakers, services: services}
}

// Collect gathers a snapshot of current system health.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	contacts, err := c.store.CountContactsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count contacts")
	}
	snap.ContactsPending = contacts[model.StatusPending]
	snap.ContactsProcessing = contacts[model.StatusProcessing]
	snap.ContactsCompleted = contacts[model.StatusCompleted]
	snap.ContactsFailed = contacts[model.StatusFailed]
	if finished := snap.ContactsCompleted + snap.ContactsFailed; finished > 0 {
		snap.FailureRate = float64(snap.ContactsFailed) / float64(finished)
	}

	jobs, err := c.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count jobs")
	}
	snap.JobsQueued = jobs[model.JobQueued]
	snap.JobsRunning = jobs[model.JobRunning]
	snap.JobsCompleted = jobs[model.JobCompleted]
	snap.JobsFailed = jobs[model.JobFailed]

	if c.breakers != nil {
		for _, svc := range c.services {
			st, err := c.breakers.State(ctx, svc)
			if err != nil {
				return nil, eris.Wrapf(err, "monitoring: breaker state %s", svc)
			}
			if st.Circuit != breaker.CircuitClosed {
				snap.OpenCircuits = append(snap.OpenCircuits, svc)
			}
		}
	}

	return snap, nil
}

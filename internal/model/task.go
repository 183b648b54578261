package model

import (
	"encoding/json"
	"time"
)

// EnrichmentKind identifies one independent enrichment capability. Kinds are
// resolved against the provider registry at startup; an unknown kind is a
// programmer error, not a runtime failure.
type EnrichmentKind string

const (
	EnrichPhone      EnrichmentKind = "phone"
	EnrichBusiness   EnrichmentKind = "business"
	EnrichEmail      EnrichmentKind = "email"
	EnrichAddress    EnrichmentKind = "address"
	EnrichCoverage   EnrichmentKind = "coverage"
	EnrichCompliance EnrichmentKind = "compliance"
)

// AllEnrichmentKinds lists every kind the coordinator can fan out.
var AllEnrichmentKinds = []EnrichmentKind{
	EnrichPhone,
	EnrichBusiness,
	EnrichEmail,
	EnrichAddress,
	EnrichCoverage,
	EnrichCompliance,
}

// ValidEnrichmentKind reports whether k is a known kind.
func ValidEnrichmentKind(k EnrichmentKind) bool {
	for _, known := range AllEnrichmentKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TaskStatus is the terminal (or initial) state of one fan-out task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskSuccess  TaskStatus = "success"
	TaskFailed   TaskStatus = "failed"
	TaskTimedOut TaskStatus = "timed_out"
	// TaskSkipped means the provider is not configured; a skip is neither a
	// success nor a failure and has no circuit impact.
	TaskSkipped TaskStatus = "skipped"
)

// TaskResult is the structured outcome of one enrichment task. Errors are
// captured as data, never raised past the coordinator boundary.
type TaskResult struct {
	Kind     EnrichmentKind  `json:"kind"`
	Status   TaskStatus      `json:"status"`
	Fields   json.RawMessage `json:"fields,omitempty"`
	Err      *ProviderError  `json:"-"`
	ErrorMsg string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// OK reports whether the task produced usable data.
func (r TaskResult) OK() bool {
	return r.Status == TaskSuccess
}

// Package model defines the core domain types for the contact enrichment service.
package model

import (
	"encoding/json"
	"time"
)

// ContactStatus is the processing lifecycle state of a contact record.
type ContactStatus string

const (
	// StatusPending means the contact has been created but not yet picked up.
	StatusPending ContactStatus = "pending"
	// StatusProcessing means a worker holds the contact and is enriching it.
	StatusProcessing ContactStatus = "processing"
	// StatusCompleted means enrichment finished successfully.
	StatusCompleted ContactStatus = "completed"
	// StatusFailed means enrichment failed with a classified reason.
	StatusFailed ContactStatus = "failed"
)

// ContactKind distinguishes person contacts from business contacts.
type ContactKind string

const (
	KindPerson   ContactKind = "person"
	KindBusiness ContactKind = "business"
)

// ContactRecord is the golden record for an enriched contact.
type ContactRecord struct {
	ID   string      `json:"id" db:"id"`
	Kind ContactKind `json:"kind" db:"kind"`

	// Identity
	FirstName    string `json:"first_name,omitempty" db:"first_name"`
	LastName     string `json:"last_name,omitempty" db:"last_name"`
	BusinessName string `json:"business_name,omitempty" db:"business_name"`

	// Contact points
	Phone         string `json:"phone,omitempty" db:"phone"`
	Email         string `json:"email,omitempty" db:"email"`
	EmailVerified bool   `json:"email_verified" db:"email_verified"`

	// Address
	Street  string   `json:"street,omitempty" db:"street"`
	City    string   `json:"city,omitempty" db:"city"`
	State   string   `json:"state,omitempty" db:"state"`
	ZipCode string   `json:"zip_code,omitempty" db:"zip_code"`
	Lat     *float64 `json:"lat,omitempty" db:"lat"`
	Lng     *float64 `json:"lng,omitempty" db:"lng"`

	// Enrichment payloads (provider-populated, opaque to the core)
	PhoneIntel   json.RawMessage `json:"phone_intel,omitempty" db:"phone_intel"`
	BusinessData json.RawMessage `json:"business_data,omitempty" db:"business_data"`
	Coverage     json.RawMessage `json:"coverage,omitempty" db:"coverage"`
	Compliance   json.RawMessage `json:"compliance,omitempty" db:"compliance"`

	// BusinessEnriched marks business_data as provider-sourced rather than
	// operator-entered, which gives it priority during merges.
	BusinessEnriched bool `json:"business_enriched" db:"business_enriched"`

	// Lifecycle
	Status       ContactStatus `json:"status" db:"status"`
	StatusReason string        `json:"status_reason,omitempty" db:"status_reason"`
	Attempts     int           `json:"attempts" db:"attempts"`

	// Fingerprints for duplicate detection
	PhoneFingerprint string `json:"phone_fingerprint,omitempty" db:"phone_fingerprint"`
	NameFingerprint  string `json:"name_fingerprint,omitempty" db:"name_fingerprint"`
	EmailFingerprint string `json:"email_fingerprint,omitempty" db:"email_fingerprint"`

	// Duplicate disposition
	IsDuplicate   bool    `json:"is_duplicate" db:"is_duplicate"`
	DuplicateOfID string  `json:"duplicate_of_id,omitempty" db:"duplicate_of_id"`
	Confidence    int     `json:"confidence" db:"confidence"`
	QualityScore  float64 `json:"quality_score" db:"quality_score"`

	MergeHistory []MergeRecord `json:"merge_history,omitempty" db:"merge_history"`

	// External linkage
	SalesforceID string `json:"salesforce_id,omitempty" db:"salesforce_id"`

	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the business name for business contacts, otherwise
// the person's full name.
func (c *ContactRecord) DisplayName() string {
	if c.Kind == KindBusiness && c.BusinessName != "" {
		return c.BusinessName
	}
	name := c.FirstName
	if c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += c.LastName
	}
	return name
}

// Processable reports whether the record is eligible to enter processing.
// Only pending and failed records may transition to processing.
func (c *ContactRecord) Processable() bool {
	return c.Status == StatusPending || c.Status == StatusFailed
}

// MergeRecord is one entry in a contact's merge history. The snapshot holds
// the full duplicate record as it existed at merge time.
type MergeRecord struct {
	MergedAt    time.Time       `json:"merged_at"`
	DuplicateID string          `json:"duplicate_id"`
	Confidence  int             `json:"confidence"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
}

// DuplicateCandidate is a scored potential duplicate pair. Transient: acted
// on immediately (auto-merge) or surfaced for manual review, never persisted
// as its own row.
type DuplicateCandidate struct {
	ContactID   string `json:"contact_id"`
	CandidateID string `json:"candidate_id"`
	Confidence  int    `json:"confidence"`
	Reason      string `json:"reason"`
}

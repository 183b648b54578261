package model

import (
	"encoding/json"
	"time"
)

// WebhookStatus is the processing state of an inbound webhook event.
type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
)

// WebhookEvent is one unique inbound callback. The idempotency key is unique
// at the storage layer; a replayed POST with the same key never creates a
// second row.
type WebhookEvent struct {
	ID             string          `json:"id" db:"id"`
	Source         string          `json:"source" db:"source"`
	ExternalID     string          `json:"external_id,omitempty" db:"external_id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Status         WebhookStatus   `json:"status" db:"status"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	ReceivedAt     time.Time       `json:"received_at" db:"received_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

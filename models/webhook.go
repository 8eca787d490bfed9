package models

import (
	"encoding/json"
	"time"
)

const (
	ProviderStripe = "stripe"
	ProviderPolar  = "polar"
)

// WebhookEvent is a verified inbound notification. Providers assign the ID;
// it is stable across redelivery attempts.
type WebhookEvent struct {
	Provider string
	ID       string
	Type     string
	// Payload is the full request body, parsed, kept for the audit ledger.
	Payload JSON
	// Object is the provider object the event describes (Stripe's data.object,
	// Polar's data). Handlers decode it into their own types.
	Object json.RawMessage
}

// ProcessedEvent is the durable idempotency ledger row. Inserted once on
// first receipt, never updated. The unique index on (provider, event_id) is
// the concurrency-control primitive for duplicate deliveries.
type ProcessedEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Provider  string    `json:"provider" gorm:"not null;uniqueIndex:idx_processed_provider_event"`
	EventID   string    `json:"event_id" gorm:"not null;uniqueIndex:idx_processed_provider_event"`
	EventType string    `json:"event_type" gorm:"not null"`
	Payload   JSON      `json:"payload" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// AckResult describes how a webhook delivery was concluded.
type AckResult struct {
	EventType string `json:"event_type"`
	Replay    bool   `json:"replay,omitempty"`
	// Skipped carries a data-quality reason when the reconciliation write was
	// skipped (e.g. missing org linkage). The delivery is still acknowledged.
	Skipped string `json:"skipped,omitempty"`
}

// Package dlq holds deliveries that exhausted their retry budget or
// failed on a non-retryable classification, and supports replaying them.
package dlq

import (
	"encoding/json"
	"time"

	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
)

// Entry represents a permanently failed delivery in the dead letter queue.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// AttemptLogID references the failed attempt log.
	AttemptLogID id.ID `json:"attempt_log_id"`

	// RuleID references the delivery rule.
	RuleID id.ID `json:"rule_id"`

	// TenantID identifies the tenant that owns the originating event.
	TenantID string `json:"tenant_id"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// SourceID is the originating event's source-local ID.
	SourceID int64 `json:"source_id,omitempty"`

	// URL is the rule's target URL at the time of failure.
	URL string `json:"url"`

	// Payload is the outbound body that failed to deliver.
	Payload json.RawMessage `json:"payload"`

	// Category is the final failure classification.
	Category delivery.Category `json:"category"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset   int
	Limit    int
	TenantID string
	RuleID   *id.ID
	Category *delivery.Category
	From     *time.Time
	To       *time.Time

	// Unreplayed restricts the listing to entries not yet replayed.
	Unreplayed bool
}

// Package event defines the raw event envelope and the checkpointed
// source poller that feeds the delivery pipeline.
package event

import (
	"encoding/json"
	"time"
)

// Event is a change event read from a tenant event source.
// It is immutable once read; the pipeline never mutates it.
type Event struct {
	// SourceID is the monotonically increasing source-local identifier.
	// Assigned by the source on append; the checkpoint cursor is expressed
	// in terms of this ID.
	SourceID int64 `json:"source_id"`

	// TenantID identifies the tenant that owns the event.
	TenantID string `json:"tenant_id"`

	// Type is the dot-separated event type name (e.g. "invoice.created").
	Type string `json:"type"`

	// Payload is the raw event payload.
	Payload json.RawMessage `json:"payload"`

	// OccurredAt is when the event arrived at the source.
	OccurredAt time.Time `json:"occurred_at"`
}

// ListOpts configures filtering for source event listing.
type ListOpts struct {
	Offset   int
	Limit    int
	TenantID string
	Type     string
}

// Package schedule defers deliveries to a future time, either one-shot
// (delayed mode, script-requested) or recurring on a cron expression.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
)

// Status is the lifecycle state of a scheduled delivery.
type Status string

// Schedule states. PENDING entries are claimed atomically on firing, so
// scheduler replicas never double-fire one occurrence.
const (
	StatusPending   Status = "pending"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
)

// ScheduledDelivery is one deferred delivery. Recurring schedules reuse
// the same row: each fire advances ScheduledFor and Occurrence until the
// occurrence budget runs out.
type ScheduledDelivery struct {
	entity.Entity

	// ID is the unique TypeID for this schedule.
	ID id.ID `json:"id"`

	// RuleID references the delivery rule to fire against.
	RuleID id.ID `json:"rule_id"`

	// TenantID identifies the owning tenant.
	TenantID string `json:"tenant_id"`

	// EventType is the originating event type, carried onto fired logs.
	EventType string `json:"event_type"`

	// SourceID is the originating source event row, 0 for schedules
	// not created by event fan-out. Non-zero values make creation
	// idempotent per (rule, tenant, source).
	SourceID int64 `json:"source_id,omitempty"`

	// Payload is the body captured at schedule time.
	Payload json.RawMessage `json:"payload"`

	// Transformed marks the payload as a final outbound body. Script
	// created schedules set it so the fired delivery does not run the
	// rule's transform a second time.
	Transformed bool `json:"transformed,omitempty"`

	// ScheduledFor is when the next (or only) fire is due.
	ScheduledFor time.Time `json:"scheduled_for"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// Spec is the cron expression for recurring schedules. Empty for
	// one-shot.
	Spec string `json:"spec,omitempty"`

	// Occurrence counts completed fires.
	Occurrence int `json:"occurrence"`

	// MaxOccurrences bounds recurring fires. 0 means unbounded.
	MaxOccurrences int `json:"max_occurrences,omitempty"`
}

// Recurring reports whether the schedule re-arms after firing.
func (s *ScheduledDelivery) Recurring() bool {
	return s.Spec != ""
}

// ListOpts configures filtering and pagination for schedule listing.
type ListOpts struct {
	Offset   int
	Limit    int
	TenantID string
	RuleID   *id.ID
	Status   *Status
}

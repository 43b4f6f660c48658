// Package delivery performs outbound webhook delivery: request building,
// authentication, signing, outcome classification, and the retry state
// machine persisted in attempt logs.
package delivery

import (
	"encoding/json"
	"time"

	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
)

// Status is the state of an attempt log in the retry state machine.
type Status string

// Attempt log states.
//
//	PENDING -> IN_PROGRESS -> {SUCCESS | SKIPPED | RETRYING | ABANDONED | FAILED}
//	RETRYING -> IN_PROGRESS -> ...
const (
	// StatusPending awaits the first attempt.
	StatusPending Status = "pending"

	// StatusInProgress marks an exclusive claim by one worker. No other
	// worker may attempt the log while the claim holds.
	StatusInProgress Status = "in_progress"

	// StatusRetrying awaits a scheduled re-attempt at NextAttemptAt.
	StatusRetrying Status = "retrying"

	// StatusSuccess is terminal: the target acknowledged the delivery.
	StatusSuccess Status = "success"

	// StatusAbandoned is terminal: the attempt budget is exhausted.
	StatusAbandoned Status = "abandoned"

	// StatusFailed is terminal: a non-retryable classification.
	StatusFailed Status = "failed"

	// StatusSkipped is terminal: a transform script declined the delivery.
	// Not a failure.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status admits no further attempts.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusAbandoned, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Category is the error taxonomy assigned per delivery attempt.
type Category string

// Outcome categories.
const (
	CategoryNone        Category = ""
	CategoryNetwork     Category = "NETWORK"
	CategoryTimeout     Category = "TIMEOUT"
	CategoryAuth        Category = "AUTH"
	CategoryRateLimit   Category = "RATE_LIMIT"
	CategoryValidation  Category = "VALIDATION"
	CategoryServerError Category = "SERVER_ERROR"
	CategoryClientError Category = "CLIENT_ERROR"
	CategoryTransform   Category = "TRANSFORM_ERROR"
)

// AttemptLog is the single persisted document for one (event, rule)
// pairing. Retries update it in place; they never spawn new rows.
type AttemptLog struct {
	entity.Entity

	// ID is the unique TypeID for this log.
	ID id.ID `json:"id"`

	// RuleID references the delivery rule.
	RuleID id.ID `json:"rule_id"`

	// TenantID identifies the tenant that owns the originating event.
	TenantID string `json:"tenant_id"`

	// EventType is the originating event type.
	EventType string `json:"event_type"`

	// SourceID is the originating event's source-local ID. Zero for
	// schedule-originated deliveries.
	SourceID int64 `json:"source_id,omitempty"`

	// ScheduleID references the originating schedule, if any.
	ScheduleID id.ID `json:"schedule_id,omitempty"`

	// MessageID is the stable outbound message identity. It does not
	// change across retries, so receivers can deduplicate.
	MessageID id.ID `json:"message_id"`

	// Payload is the raw event payload as polled, before transformation.
	Payload json.RawMessage `json:"payload"`

	// TransformedPayload is the outbound body. Set on the first attempt
	// and reused on retries, so the sandbox runs at most once per log.
	TransformedPayload json.RawMessage `json:"transformed_payload,omitempty"`

	// RequestHeaders are the headers of the last attempt, with sensitive
	// values redacted. Diagnostic only.
	RequestHeaders map[string]string `json:"request_headers,omitempty"`

	// Status is the current state machine position.
	Status Status `json:"status"`

	// AttemptCount is the number of network attempts made. Never exceeds
	// MaxAttempts.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the rule's attempt budget at enqueue time.
	MaxAttempts int `json:"max_attempts"`

	// Category is the classification of the most recent outcome.
	Category Category `json:"category,omitempty"`

	// LastStatusCode is the HTTP status of the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastError is the human-readable error of the most recent attempt.
	LastError string `json:"last_error,omitempty"`

	// LastResponse is the response body of the most recent attempt,
	// capped for storage.
	LastResponse string `json:"last_response,omitempty"`

	// LastLatencyMs is the latency of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// NextAttemptAt is when the next attempt becomes due.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// CompletedAt is set when the log reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOpts configures filtering and pagination for attempt log listing.
type ListOpts struct {
	Offset   int
	Limit    int
	Status   *Status
	Category *Category
	TenantID string
}

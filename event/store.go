package event

import (
	"context"
	"time"
)

// Checkpoint records the last fully processed source event ID for one
// worker identity. It is the only cursor state the poller keeps; there is
// no in-memory equivalent, so worker replicas can resume each other's work.
type Checkpoint struct {
	WorkerID        string    `json:"worker_id"`
	LastProcessedID int64     `json:"last_processed_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Source is the tenant event source the poller reads from.
type Source interface {
	// AppendEvent persists an event and assigns the next source-local ID.
	// Used by the inbound proxy and by programmatic ingestion.
	AppendEvent(ctx context.Context, evt *Event) error

	// PollEvents returns up to limit events with SourceID > sinceID,
	// ordered ascending by SourceID. A short or empty result is not an error.
	PollEvents(ctx context.Context, sinceID int64, limit int) ([]*Event, error)
}

// CheckpointStore persists per-worker poll cursors.
type CheckpointStore interface {
	// Checkpoint returns the last processed source ID for a worker.
	// A worker that has never checkpointed starts at 0.
	Checkpoint(ctx context.Context, workerID string) (int64, error)

	// SaveCheckpoint advances the worker's cursor. Implementations must
	// keep the cursor monotonic: a save with a lower ID than the stored
	// value is a no-op.
	SaveCheckpoint(ctx context.Context, workerID string, lastID int64) error
}

// DedupStore records which (tenant, source event) pairs have already been
// dispatched, so a checkpoint replay after a crash does not fan the same
// event out twice.
type DedupStore interface {
	// MarkProcessed atomically claims the (tenant, sourceID) pair with the
	// given TTL. Returns true if this call created the marker, false if a
	// concurrent or earlier worker already dispatched the event.
	MarkProcessed(ctx context.Context, tenantID string, sourceID int64, ttl time.Duration) (bool, error)

	// UnmarkProcessed releases a marker. Called when dispatch fails after
	// the claim so the event is not lost on the replay.
	UnmarkProcessed(ctx context.Context, tenantID string, sourceID int64) error
}

package delivery

import (
	"context"

	"github.com/hookpipe/hookpipe/id"
)

// Store defines the persistence contract for attempt logs.
//
// All mutations are single-document atomic operations, so worker replicas
// stay safe without a distributed lock manager.
type Store interface {
	// EnqueueAttempts creates pending logs (event fan-out). Implementations
	// enforce at most one log per (rule, tenant, source event): duplicates
	// for the same pairing are ignored, not duplicated.
	EnqueueAttempts(ctx context.Context, logs []*AttemptLog) error

	// DequeueDue atomically claims up to limit logs whose status is
	// PENDING or RETRYING and whose NextAttemptAt has passed, moving each
	// to IN_PROGRESS. A log claimed by one worker is invisible to others
	// until the attempt finishes.
	DequeueDue(ctx context.Context, limit int) ([]*AttemptLog, error)

	// UpdateAttempt persists the outcome of an attempt and releases the
	// claim.
	UpdateAttempt(ctx context.Context, d *AttemptLog) error

	// GetAttempt returns a log by ID.
	GetAttempt(ctx context.Context, logID id.ID) (*AttemptLog, error)

	// ListAttempts returns logs matching the options.
	ListAttempts(ctx context.Context, opts ListOpts) ([]*AttemptLog, error)

	// ListAttemptsByRule returns delivery history for a rule.
	ListAttemptsByRule(ctx context.Context, ruleID id.ID, opts ListOpts) ([]*AttemptLog, error)

	// CountAttempts returns the number of logs in the given status.
	CountAttempts(ctx context.Context, status Status) (int64, error)
}

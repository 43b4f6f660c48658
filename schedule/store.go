package schedule

import (
	"context"
	"time"

	"github.com/hookpipe/hookpipe/id"
)

// Store defines the persistence contract for scheduled deliveries.
type Store interface {
	// CreateSchedule persists a new scheduled delivery. When SourceID is
	// non-zero a duplicate (rule, tenant, source) pairing is a no-op.
	CreateSchedule(ctx context.Context, s *ScheduledDelivery) error

	// GetSchedule returns a schedule by ID.
	GetSchedule(ctx context.Context, schID id.ID) (*ScheduledDelivery, error)

	// ListSchedules returns schedules matching the options.
	ListSchedules(ctx context.Context, opts ListOpts) ([]*ScheduledDelivery, error)

	// ClaimDueSchedules atomically moves up to limit PENDING schedules
	// whose ScheduledFor has passed into FIRED and returns them. A
	// schedule claimed by one scheduler is invisible to others.
	ClaimDueSchedules(ctx context.Context, now time.Time, limit int) ([]*ScheduledDelivery, error)

	// UpdateSchedule persists schedule mutations (re-arming a recurring
	// schedule back to PENDING with its next fire time).
	UpdateSchedule(ctx context.Context, s *ScheduledDelivery) error

	// CancelSchedule marks a PENDING schedule cancelled. Cancelling a
	// fired or already cancelled schedule is a no-op.
	CancelSchedule(ctx context.Context, schID id.ID) error
}

package hookpipe

import (
	"errors"

	"github.com/hookpipe/hookpipe/rule"
)

// Sentinel errors returned by gateway operations.
var (
	// ErrNoStore is returned when a Gateway is created without a store.
	ErrNoStore = errors.New("hookpipe: store is required")

	// ErrRuleNotFound is returned when a delivery rule cannot be found.
	// Alias of rule.ErrNotFound so sub-packages can test for it without
	// importing this package.
	ErrRuleNotFound = rule.ErrNotFound

	// ErrAttemptNotFound is returned when an attempt log cannot be found.
	ErrAttemptNotFound = errors.New("hookpipe: attempt log not found")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("hookpipe: dlq entry not found")

	// ErrScheduleNotFound is returned when a scheduled delivery cannot be found.
	ErrScheduleNotFound = errors.New("hookpipe: schedule not found")

	// ErrLookupTableNotFound is returned when a lookup table cannot be found.
	ErrLookupTableNotFound = errors.New("hookpipe: lookup table not found")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("hookpipe: store is closed")

	// ErrMigrationFailed is returned when a schema migration fails.
	ErrMigrationFailed = errors.New("hookpipe: migration failed")
)

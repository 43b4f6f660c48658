// Package store defines the composite Store interface for all gateway
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them all, so backends implement one flat surface while
// subsystems depend only on their own slice of it.
package store

import (
	"context"

	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	"github.com/hookpipe/hookpipe/transform"
)

// Store is the aggregate persistence interface.
type Store interface {
	rule.Store
	event.Source
	event.CheckpointStore
	event.DedupStore
	delivery.Store
	dlq.Store
	schedule.Store
	transform.LookupStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

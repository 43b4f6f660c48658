// Package mongo provides a MongoDB Store implementation. Worker claims
// use FindOneAndUpdate so a document moves to its claimed state in one
// atomic step.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	hookstore "github.com/hookpipe/hookpipe/store"
)

// Collection name constants.
const (
	colRules       = "hookpipe_rules"
	colEvents      = "hookpipe_events"
	colCheckpoints = "hookpipe_checkpoints"
	colDedup       = "hookpipe_dedup"
	colAttempts    = "hookpipe_attempts"
	colDLQ         = "hookpipe_dlq"
	colSchedules   = "hookpipe_schedules"
	colLookups     = "hookpipe_lookup_tables"
	colCounters    = "hookpipe_counters"
)

// Compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
}

// New creates a MongoDB store on the given database.
func New(client *mongod.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Database returns the underlying database for direct access.
func (s *Store) Database() *mongod.Database { return s.db }

func (s *Store) col(name string) *mongod.Collection {
	return s.db.Collection(name)
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for name, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.col(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("hookpipe/mongo: migrate %s indexes: %w", name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colRules: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "event_type", Value: 1}, {Key: "active", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colEvents: {
			{
				Keys:    bson.D{{Key: "source_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colDedup: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "source_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			// TTL index reaps expired markers.
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
		colAttempts: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_attempt_at", Value: 1}}},
			{Keys: bson.D{{Key: "rule_id", Value: 1}, {Key: "created_at", Value: -1}}},
			// One log per (rule, tenant, source event). Schedule-originated
			// logs carry source_id 0 and are excluded by the filter.
			{
				Keys: bson.D{{Key: "rule_id", Value: 1}, {Key: "tenant_id", Value: 1}, {Key: "source_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(
					bson.M{"source_id": bson.M{"$gt": 0}},
				),
			},
		},
		colDLQ: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "failed_at", Value: -1}}},
			{Keys: bson.D{{Key: "failed_at", Value: 1}}},
		},
		colSchedules: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduled_for", Value: 1}}},
			// One schedule per (rule, tenant, source event) so a replayed
			// dispatch cannot double-schedule a deferred rule.
			{
				Keys: bson.D{{Key: "rule_id", Value: 1}, {Key: "tenant_id", Value: 1}, {Key: "source_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(
					bson.M{"source_id": bson.M{"$gt": 0}},
				),
			},
		},
	}
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hookpipe/hookpipe/event"
)

type eventModel struct {
	SourceID   int64     `bson:"source_id"`
	TenantID   string    `bson:"tenant_id"`
	Type       string    `bson:"event_type"`
	RawPayload []byte    `bson:"payload,omitempty"`
	OccurredAt time.Time `bson:"occurred_at"`
}

func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	seq, err := s.nextSourceID(ctx)
	if err != nil {
		return err
	}
	evt.SourceID = seq
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now()
	}

	_, err = s.col(colEvents).InsertOne(ctx, eventModel{
		SourceID:   evt.SourceID,
		TenantID:   evt.TenantID,
		Type:       evt.Type,
		RawPayload: evt.Payload,
		OccurredAt: evt.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: append event: %w", err)
	}
	return nil
}

// nextSourceID increments the event sequence counter, creating it on
// first use. The counter keeps source IDs monotonic across replicas.
func (s *Store) nextSourceID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.col(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": "event_source_id"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("hookpipe/mongo: event sequence: %w", err)
	}
	return doc.Seq, nil
}

func (s *Store) PollEvents(ctx context.Context, sinceID int64, limit int) ([]*event.Event, error) {
	cur, err := s.col(colEvents).Find(ctx,
		bson.M{"source_id": bson.M{"$gt": sinceID}},
		options.Find().SetSort(bson.D{{Key: "source_id", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: poll events: %w", err)
	}
	defer cur.Close(ctx)

	var result []*event.Event
	for cur.Next(ctx) {
		var m eventModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		result = append(result, &event.Event{
			SourceID:   m.SourceID,
			TenantID:   m.TenantID,
			Type:       m.Type,
			Payload:    m.RawPayload,
			OccurredAt: m.OccurredAt,
		})
	}
	return result, cur.Err()
}

func (s *Store) Checkpoint(ctx context.Context, workerID string) (int64, error) {
	var doc struct {
		LastProcessedID int64 `bson:"last_processed_id"`
	}
	err := s.col(colCheckpoints).FindOne(ctx, bson.M{"_id": workerID}).Decode(&doc)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hookpipe/mongo: checkpoint: %w", err)
	}
	return doc.LastProcessedID, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, workerID string, lastID int64) error {
	// $max keeps the cursor monotonic under concurrent saves.
	_, err := s.col(colCheckpoints).UpdateOne(ctx,
		bson.M{"_id": workerID},
		bson.M{
			"$max": bson.M{"last_processed_id": lastID},
			"$set": bson.M{"updated_at": now()},
		},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) MarkProcessed(ctx context.Context, tenantID string, sourceID int64, ttl time.Duration) (bool, error) {
	t := now()
	// The update matches only expired markers; a live marker trips the
	// unique index instead.
	res, err := s.col(colDedup).UpdateOne(ctx,
		bson.M{
			"tenant_id":  tenantID,
			"source_id":  sourceID,
			"expires_at": bson.M{"$lt": t},
		},
		bson.M{"$set": bson.M{
			"tenant_id":  tenantID,
			"source_id":  sourceID,
			"expires_at": t.Add(ttl),
		}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("hookpipe/mongo: mark processed: %w", err)
	}
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

func (s *Store) UnmarkProcessed(ctx context.Context, tenantID string, sourceID int64) error {
	_, err := s.col(colDedup).DeleteOne(ctx,
		bson.M{"tenant_id": tenantID, "source_id": sourceID})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: unmark processed: %w", err)
	}
	return nil
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/id"
)

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.col(colDLQ).InsertOne(ctx, toDLQModel(entry)); err != nil {
		return fmt.Errorf("hookpipe/mongo: push dlq: %w", err)
	}
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.RuleID != nil {
		filter["rule_id"] = opts.RuleID.String()
	}
	if opts.Category != nil {
		filter["category"] = string(*opts.Category)
	}
	failedAt := bson.M{}
	if opts.From != nil {
		failedAt["$gte"] = *opts.From
	}
	if opts.To != nil {
		failedAt["$lte"] = *opts.To
	}
	if len(failedAt) > 0 {
		filter["failed_at"] = failedAt
	}
	if opts.Unreplayed {
		filter["replayed_at"] = nil
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.col(colDLQ).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: list dlq: %w", err)
	}
	defer cur.Close(ctx)

	var result []*dlq.Entry
	for cur.Next(ctx) {
		var m dlqModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		e, err := fromDLQModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, cur.Err()
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.col(colDLQ).FindOne(ctx, bson.M{"_id": dlqID.String()}).Decode(&m)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return nil, hookpipe.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: get dlq: %w", err)
	}
	return fromDLQModel(&m)
}

// Replay re-arms the entry's attempt log for immediate delivery and
// marks the entry replayed.
func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	e, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}
	if err := s.replayAttempt(ctx, e.AttemptLogID); err != nil {
		return err
	}

	_, err = s.col(colDLQ).UpdateOne(ctx,
		bson.M{"_id": dlqID.String()},
		bson.M{"$set": bson.M{"replayed_at": now(), "updated_at": now()}})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: mark replayed: %w", err)
	}
	return nil
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	cur, err := s.col(colDLQ).Find(ctx, bson.M{
		"failed_at":   bson.M{"$gte": from, "$lte": to},
		"replayed_at": nil,
	})
	if err != nil {
		return 0, fmt.Errorf("hookpipe/mongo: replay bulk: %w", err)
	}

	var ids []id.ID
	for cur.Next(ctx) {
		var m dlqModel
		if err := cur.Decode(&m); err != nil {
			cur.Close(ctx)
			return 0, err
		}
		dlqID, err := id.ParseDLQID(m.ID)
		if err != nil {
			cur.Close(ctx)
			return 0, err
		}
		ids = append(ids, dlqID)
	}
	cur.Close(ctx)
	if err := cur.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, dlqID := range ids {
		if err := s.Replay(ctx, dlqID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.col(colDLQ).DeleteMany(ctx, bson.M{"failed_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("hookpipe/mongo: purge dlq: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.col(colDLQ).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("hookpipe/mongo: count dlq: %w", err)
	}
	return count, nil
}

// replayAttempt resets an attempt log to its initial pending state,
// preserving the message ID.
func (s *Store) replayAttempt(ctx context.Context, logID id.ID) error {
	res, err := s.col(colAttempts).UpdateOne(ctx,
		bson.M{"_id": logID.String()},
		bson.M{
			"$set": bson.M{
				"status":           string(delivery.StatusPending),
				"attempt_count":    0,
				"category":         "",
				"last_error":       "",
				"last_status_code": 0,
				"last_response":    "",
				"next_attempt_at":  now(),
				"updated_at":       now(),
			},
			"$unset": bson.M{"completed_at": ""},
		})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: replay attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return hookpipe.ErrAttemptNotFound
	}
	return nil
}

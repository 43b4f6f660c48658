package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/id"
)

func (s *Store) EnqueueAttempts(ctx context.Context, logs []*delivery.AttemptLog) error {
	for _, d := range logs {
		_, err := s.col(colAttempts).InsertOne(ctx, toAttemptModel(d))
		if err != nil {
			// The pairing index makes event fan-out idempotent.
			if mongod.IsDuplicateKeyError(err) {
				continue
			}
			return fmt.Errorf("hookpipe/mongo: enqueue attempt: %w", err)
		}
	}
	return nil
}

// DequeueDue claims due logs one at a time with FindOneAndUpdate so no
// two workers ever hold the same log.
func (s *Store) DequeueDue(ctx context.Context, limit int) ([]*delivery.AttemptLog, error) {
	t := now()
	result := make([]*delivery.AttemptLog, 0, limit)

	for range limit {
		filter := bson.M{
			"status":          bson.M{"$in": []string{string(delivery.StatusPending), string(delivery.StatusRetrying)}},
			"next_attempt_at": bson.M{"$lte": t},
		}
		update := bson.M{"$set": bson.M{
			"status":     string(delivery.StatusInProgress),
			"updated_at": t,
		}}
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{{Key: "next_attempt_at", Value: 1}})

		var m attemptModel
		err := s.col(colAttempts).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}
			return nil, fmt.Errorf("hookpipe/mongo: dequeue: %w", err)
		}

		d, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, d *delivery.AttemptLog) error {
	m := toAttemptModel(d)
	m.UpdatedAt = now()

	res, err := s.col(colAttempts).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: update attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return hookpipe.ErrAttemptNotFound
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, logID id.ID) (*delivery.AttemptLog, error) {
	var m attemptModel
	err := s.col(colAttempts).FindOne(ctx, bson.M{"_id": logID.String()}).Decode(&m)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return nil, hookpipe.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: get attempt: %w", err)
	}
	return fromAttemptModel(&m)
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	return s.findAttempts(ctx, attemptFilter(bson.M{}, opts), opts)
}

func (s *Store) ListAttemptsByRule(ctx context.Context, ruleID id.ID, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	return s.findAttempts(ctx, attemptFilter(bson.M{"rule_id": ruleID.String()}, opts), opts)
}

func (s *Store) CountAttempts(ctx context.Context, status delivery.Status) (int64, error) {
	count, err := s.col(colAttempts).CountDocuments(ctx, bson.M{"status": string(status)})
	if err != nil {
		return 0, fmt.Errorf("hookpipe/mongo: count attempts: %w", err)
	}
	return count, nil
}

func attemptFilter(filter bson.M, opts delivery.ListOpts) bson.M {
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}
	if opts.Category != nil {
		filter["category"] = string(*opts.Category)
	}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	return filter
}

func (s *Store) findAttempts(ctx context.Context, filter bson.M, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.col(colAttempts).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: find attempts: %w", err)
	}
	defer cur.Close(ctx)

	var result []*delivery.AttemptLog
	for cur.Next(ctx) {
		var m attemptModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		d, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, cur.Err()
}

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
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/schedule"
)

func (s *Store) CreateSchedule(ctx context.Context, sch *schedule.ScheduledDelivery) error {
	if _, err := s.col(colSchedules).InsertOne(ctx, toScheduleModel(sch)); err != nil {
		// The pairing index makes event fan-out idempotent.
		if mongod.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("hookpipe/mongo: create schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, schID id.ID) (*schedule.ScheduledDelivery, error) {
	var m scheduleModel
	err := s.col(colSchedules).FindOne(ctx, bson.M{"_id": schID.String()}).Decode(&m)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return nil, hookpipe.ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: get schedule: %w", err)
	}
	return fromScheduleModel(&m)
}

func (s *Store) ListSchedules(ctx context.Context, opts schedule.ListOpts) ([]*schedule.ScheduledDelivery, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.RuleID != nil {
		filter["rule_id"] = opts.RuleID.String()
	}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "scheduled_for", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.col(colSchedules).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: list schedules: %w", err)
	}
	defer cur.Close(ctx)

	var result []*schedule.ScheduledDelivery
	for cur.Next(ctx) {
		var m scheduleModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		sch, err := fromScheduleModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sch)
	}
	return result, cur.Err()
}

// ClaimDueSchedules atomically moves due pending schedules to FIRED,
// one FindOneAndUpdate per claim.
func (s *Store) ClaimDueSchedules(ctx context.Context, t time.Time, limit int) ([]*schedule.ScheduledDelivery, error) {
	result := make([]*schedule.ScheduledDelivery, 0, limit)

	for range limit {
		filter := bson.M{
			"status":        string(schedule.StatusPending),
			"scheduled_for": bson.M{"$lte": t},
		}
		update := bson.M{"$set": bson.M{
			"status":     string(schedule.StatusFired),
			"updated_at": now(),
		}}
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{{Key: "scheduled_for", Value: 1}})

		var m scheduleModel
		err := s.col(colSchedules).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}
			return nil, fmt.Errorf("hookpipe/mongo: claim schedules: %w", err)
		}

		sch, err := fromScheduleModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sch)
	}
	return result, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sch *schedule.ScheduledDelivery) error {
	m := toScheduleModel(sch)
	m.UpdatedAt = now()

	res, err := s.col(colSchedules).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: update schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		return hookpipe.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) CancelSchedule(ctx context.Context, schID id.ID) error {
	res, err := s.col(colSchedules).UpdateOne(ctx,
		bson.M{"_id": schID.String(), "status": string(schedule.StatusPending)},
		bson.M{"$set": bson.M{"status": string(schedule.StatusCancelled), "updated_at": now()}})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: cancel schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		// Cancelling a fired or cancelled schedule is a no-op; only a
		// missing one is an error.
		count, err := s.col(colSchedules).CountDocuments(ctx, bson.M{"_id": schID.String()})
		if err != nil {
			return err
		}
		if count == 0 {
			return hookpipe.ErrScheduleNotFound
		}
	}
	return nil
}

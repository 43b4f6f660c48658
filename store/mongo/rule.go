package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/rule"
)

func (s *Store) CreateRule(ctx context.Context, r *rule.Rule) error {
	m, err := toRuleModel(r)
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: create rule: %w", err)
	}
	if _, err := s.col(colRules).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("hookpipe/mongo: create rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, ruleID id.ID) (*rule.Rule, error) {
	var m ruleModel
	err := s.col(colRules).FindOne(ctx, bson.M{"_id": ruleID.String()}).Decode(&m)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return nil, hookpipe.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: get rule: %w", err)
	}
	return fromRuleModel(&m)
}

func (s *Store) UpdateRule(ctx context.Context, r *rule.Rule) error {
	m, err := toRuleModel(r)
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: update rule: %w", err)
	}
	m.UpdatedAt = now()

	res, err := s.col(colRules).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: update rule: %w", err)
	}
	if res.MatchedCount == 0 {
		return hookpipe.ErrRuleNotFound
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, ruleID id.ID) error {
	res, err := s.col(colRules).DeleteOne(ctx, bson.M{"_id": ruleID.String()})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: delete rule: %w", err)
	}
	if res.DeletedCount == 0 {
		return hookpipe.ErrRuleNotFound
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, tenantID string, opts rule.ListOpts) ([]*rule.Rule, error) {
	tenantFilter := bson.M{"tenant_id": tenantID}
	if opts.IncludeGlobal {
		tenantFilter = bson.M{"tenant_id": bson.M{"$in": []string{tenantID, ""}}}
	}
	filter := tenantFilter
	if opts.EventType != "" {
		filter["event_type"] = opts.EventType
	}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.findRules(ctx, filter, findOpts)
}

func (s *Store) MatchRules(ctx context.Context, tenantID, eventType string) ([]*rule.Rule, error) {
	filter := bson.M{
		"active":     true,
		"event_type": eventType,
		"tenant_id":  bson.M{"$in": []string{tenantID, ""}},
	}
	return s.findRules(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (s *Store) SetActive(ctx context.Context, ruleID id.ID, active bool) error {
	res, err := s.col(colRules).UpdateOne(ctx,
		bson.M{"_id": ruleID.String()},
		bson.M{"$set": bson.M{"active": active, "updated_at": now()}})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: set active: %w", err)
	}
	if res.MatchedCount == 0 {
		return hookpipe.ErrRuleNotFound
	}
	return nil
}

func (s *Store) findRules(ctx context.Context, filter bson.M, findOpts *options.FindOptionsBuilder) ([]*rule.Rule, error) {
	cur, err := s.col(colRules).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: find rules: %w", err)
	}
	defer cur.Close(ctx)

	var result []*rule.Rule
	for cur.Next(ctx) {
		var m ruleModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		r, err := fromRuleModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, cur.Err()
}

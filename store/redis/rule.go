package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/rule"
)

// ruleDoc carries the signing secrets that the rule's own JSON encoding
// deliberately omits.
type ruleDoc struct {
	rule.Rule
	StoredSecrets []string `json:"stored_secrets,omitempty"`
}

func toRuleDoc(r *rule.Rule) *ruleDoc {
	return &ruleDoc{Rule: *r, StoredSecrets: r.Secrets}
}

func fromRuleDoc(doc *ruleDoc) *rule.Rule {
	r := doc.Rule
	r.Secrets = doc.StoredSecrets
	return &r
}

func (s *Store) CreateRule(ctx context.Context, r *rule.Rule) error {
	key := entityKey(prefixRule, r.ID.String())
	if err := s.setEntity(ctx, key, toRuleDoc(r)); err != nil {
		return fmt.Errorf("hookpipe/redis: create rule: %w", err)
	}
	return s.rdb.ZAdd(ctx, zRuleAll, goredis.Z{
		Score:  scoreFromTime(r.CreatedAt),
		Member: r.ID.String(),
	}).Err()
}

func (s *Store) GetRule(ctx context.Context, ruleID id.ID) (*rule.Rule, error) {
	var doc ruleDoc
	if err := s.getEntity(ctx, entityKey(prefixRule, ruleID.String()), &doc); err != nil {
		if isRedisNil(err) {
			return nil, hookpipe.ErrRuleNotFound
		}
		return nil, fmt.Errorf("hookpipe/redis: get rule: %w", err)
	}
	return fromRuleDoc(&doc), nil
}

func (s *Store) UpdateRule(ctx context.Context, r *rule.Rule) error {
	key := entityKey(prefixRule, r.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hookpipe/redis: update rule: %w", err)
	}
	if exists == 0 {
		return hookpipe.ErrRuleNotFound
	}
	r.Touch()
	return s.setEntity(ctx, key, toRuleDoc(r))
}

func (s *Store) DeleteRule(ctx context.Context, ruleID id.ID) error {
	key := entityKey(prefixRule, ruleID.String())
	deleted, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hookpipe/redis: delete rule: %w", err)
	}
	if deleted == 0 {
		return hookpipe.ErrRuleNotFound
	}
	return s.rdb.ZRem(ctx, zRuleAll, ruleID.String()).Err()
}

func (s *Store) ListRules(ctx context.Context, tenantID string, opts rule.ListOpts) ([]*rule.Rule, error) {
	rules, err := s.allRules(ctx)
	if err != nil {
		return nil, err
	}

	var result []*rule.Rule
	for _, r := range rules {
		if r.TenantID != tenantID && !(opts.IncludeGlobal && r.TenantID == "") {
			continue
		}
		if opts.EventType != "" && r.EventType != opts.EventType {
			continue
		}
		if opts.Active != nil && r.Active != *opts.Active {
			continue
		}
		result = append(result, r)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) MatchRules(ctx context.Context, tenantID, eventType string) ([]*rule.Rule, error) {
	rules, err := s.allRules(ctx)
	if err != nil {
		return nil, err
	}

	var result []*rule.Rule
	for _, r := range rules {
		if !r.Active || r.EventType != eventType {
			continue
		}
		if r.TenantID != tenantID && r.TenantID != "" {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, ruleID id.ID, active bool) error {
	r, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	r.Active = active
	return s.UpdateRule(ctx, r)
}

// allRules loads every rule in creation order.
func (s *Store) allRules(ctx context.Context) ([]*rule.Rule, error) {
	ids, err := s.rdb.ZRange(ctx, zRuleAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookpipe/redis: list rules: %w", err)
	}

	result := make([]*rule.Rule, 0, len(ids))
	for _, rid := range ids {
		var doc ruleDoc
		if err := s.getEntity(ctx, entityKey(prefixRule, rid), &doc); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		result = append(result, fromRuleDoc(&doc))
	}
	return result, nil
}

package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/id"
)

// pairingKey returns the unique-index key guarding one log per
// (rule, tenant, source event).
func pairingKey(d *delivery.AttemptLog) string {
	return uniqueAttemptPairing + d.RuleID.String() + ":" + d.TenantID + ":" + formatInt(d.SourceID)
}

func (s *Store) EnqueueAttempts(ctx context.Context, logs []*delivery.AttemptLog) error {
	for _, d := range logs {
		if d.SourceID != 0 {
			claimed, err := s.rdb.SetNX(ctx, pairingKey(d), d.ID.String(), 0).Result()
			if err != nil {
				return fmt.Errorf("hookpipe/redis: enqueue pairing: %w", err)
			}
			if !claimed {
				continue
			}
		}

		key := entityKey(prefixAttempt, d.ID.String())
		if err := s.setEntity(ctx, key, d); err != nil {
			return fmt.Errorf("hookpipe/redis: enqueue attempt: %w", err)
		}

		pipe := s.rdb.Pipeline()
		pipe.ZAdd(ctx, zAttemptDue, goredis.Z{Score: scoreFromTime(d.NextAttemptAt), Member: d.ID.String()})
		pipe.ZAdd(ctx, zAttemptAll, goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
		pipe.ZAdd(ctx, zAttemptRule+d.RuleID.String(), goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("hookpipe/redis: enqueue attempt indexes: %w", err)
		}
	}
	return nil
}

func (s *Store) DequeueDue(ctx context.Context, limit int) ([]*delivery.AttemptLog, error) {
	ids, err := s.claimDue(ctx, zAttemptDue, now(), limit)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/redis: dequeue attempts: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	result := make([]*delivery.AttemptLog, 0, len(ids))
	for _, logID := range ids {
		key := entityKey(prefixAttempt, logID)
		d := new(delivery.AttemptLog)
		if err := s.getEntity(ctx, key, d); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("hookpipe/redis: dequeue get: %w", err)
		}

		d.Status = delivery.StatusInProgress
		d.Touch()
		if err := s.setEntity(ctx, key, d); err != nil {
			return nil, fmt.Errorf("hookpipe/redis: dequeue claim: %w", err)
		}
		result = append(result, d)
	}
	return result, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, d *delivery.AttemptLog) error {
	key := entityKey(prefixAttempt, d.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hookpipe/redis: update attempt: %w", err)
	}
	if exists == 0 {
		return hookpipe.ErrAttemptNotFound
	}

	d.Touch()
	if err := s.setEntity(ctx, key, d); err != nil {
		return fmt.Errorf("hookpipe/redis: update attempt: %w", err)
	}

	// Re-arm the due queue when the log awaits another attempt.
	if d.Status == delivery.StatusPending || d.Status == delivery.StatusRetrying {
		return s.rdb.ZAdd(ctx, zAttemptDue, goredis.Z{
			Score:  scoreFromTime(d.NextAttemptAt),
			Member: d.ID.String(),
		}).Err()
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, logID id.ID) (*delivery.AttemptLog, error) {
	d := new(delivery.AttemptLog)
	if err := s.getEntity(ctx, entityKey(prefixAttempt, logID.String()), d); err != nil {
		if isRedisNil(err) {
			return nil, hookpipe.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("hookpipe/redis: get attempt: %w", err)
	}
	return d, nil
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	return s.listAttemptsFrom(ctx, zAttemptAll, opts)
}

func (s *Store) ListAttemptsByRule(ctx context.Context, ruleID id.ID, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	return s.listAttemptsFrom(ctx, zAttemptRule+ruleID.String(), opts)
}

func (s *Store) listAttemptsFrom(ctx context.Context, zkey string, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	ids, err := s.rdb.ZRange(ctx, zkey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookpipe/redis: list attempts: %w", err)
	}

	result := make([]*delivery.AttemptLog, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		d := new(delivery.AttemptLog)
		if err := s.getEntity(ctx, entityKey(prefixAttempt, ids[i]), d); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		if opts.Category != nil && d.Category != *opts.Category {
			continue
		}
		if opts.TenantID != "" && d.TenantID != opts.TenantID {
			continue
		}
		result = append(result, d)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountAttempts(ctx context.Context, status delivery.Status) (int64, error) {
	st := status
	logs, err := s.listAttemptsFrom(ctx, zAttemptAll, delivery.ListOpts{Status: &st})
	if err != nil {
		return 0, err
	}
	return int64(len(logs)), nil
}

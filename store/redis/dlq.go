package redis

import (
	"context"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/id"
)

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	key := entityKey(prefixDLQ, entry.ID.String())
	if err := s.setEntity(ctx, key, entry); err != nil {
		return fmt.Errorf("hookpipe/redis: push dlq: %w", err)
	}
	return s.rdb.ZAdd(ctx, zDLQAll, goredis.Z{
		Score:  scoreFromTime(entry.FailedAt),
		Member: entry.ID.String(),
	}).Err()
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	lo, hi := math.Inf(-1), math.Inf(1)
	if opts.From != nil {
		lo = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		hi = scoreFromTime(*opts.To)
	}
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		e := new(dlq.Entry)
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), e); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if opts.RuleID != nil && e.RuleID.String() != opts.RuleID.String() {
			continue
		}
		if opts.Category != nil && e.Category != *opts.Category {
			continue
		}
		if opts.Unreplayed && e.ReplayedAt != nil {
			continue
		}
		result = append(result, e)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	e := new(dlq.Entry)
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), e); err != nil {
		if isRedisNil(err) {
			return nil, hookpipe.ErrDLQNotFound
		}
		return nil, fmt.Errorf("hookpipe/redis: get dlq: %w", err)
	}
	return e, nil
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

	ts := now()
	e.ReplayedAt = &ts
	e.Touch()
	return s.setEntity(ctx, entityKey(prefixDLQ, dlqID.String()), e)
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, scoreFromTime(from), scoreFromTime(to))
	if err != nil {
		return 0, fmt.Errorf("hookpipe/redis: replay bulk: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		e := new(dlq.Entry)
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), e); err != nil {
			if isRedisNil(err) {
				continue
			}
			return count, err
		}
		if e.ReplayedAt != nil {
			continue
		}
		if err := s.Replay(ctx, e.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, math.Inf(-1), scoreFromTime(before))
	if err != nil {
		return 0, fmt.Errorf("hookpipe/redis: purge dlq: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		// Range is inclusive; Purge excludes the boundary itself.
		e := new(dlq.Entry)
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), e); err != nil {
			if isRedisNil(err) {
				continue
			}
			return count, err
		}
		if !e.FailedAt.Before(before) {
			continue
		}
		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixDLQ, entryID))
		pipe.ZRem(ctx, zDLQAll, entryID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, zDLQAll).Result()
}

// replayAttempt resets an attempt log to its initial pending state,
// preserving the message ID, and re-arms the due queue.
func (s *Store) replayAttempt(ctx context.Context, logID id.ID) error {
	key := entityKey(prefixAttempt, logID.String())
	d := new(delivery.AttemptLog)
	if err := s.getEntity(ctx, key, d); err != nil {
		if isRedisNil(err) {
			return hookpipe.ErrAttemptNotFound
		}
		return err
	}

	d.Status = delivery.StatusPending
	d.AttemptCount = 0
	d.Category = delivery.CategoryNone
	d.LastError = ""
	d.LastStatusCode = 0
	d.LastResponse = ""
	d.NextAttemptAt = now()
	d.CompletedAt = nil
	d.Touch()

	if err := s.setEntity(ctx, key, d); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, zAttemptDue, goredis.Z{
		Score:  scoreFromTime(d.NextAttemptAt),
		Member: d.ID.String(),
	}).Err()
}

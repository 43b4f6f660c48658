package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/schedule"
)

func (s *Store) CreateSchedule(ctx context.Context, sch *schedule.ScheduledDelivery) error {
	// Event-originated schedules are unique per (rule, tenant, source) so
	// a replayed dispatch cannot double-schedule.
	if sch.SourceID != 0 {
		pairing := uniqueSchedulePairing + sch.RuleID.String() + ":" + sch.TenantID + ":" + formatInt(sch.SourceID)
		claimed, err := s.rdb.SetNX(ctx, pairing, sch.ID.String(), 0).Result()
		if err != nil {
			return fmt.Errorf("hookpipe/redis: create schedule pairing: %w", err)
		}
		if !claimed {
			return nil
		}
	}

	key := entityKey(prefixSchedule, sch.ID.String())
	if err := s.setEntity(ctx, key, sch); err != nil {
		return fmt.Errorf("hookpipe/redis: create schedule: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zScheduleAll, goredis.Z{Score: scoreFromTime(sch.CreatedAt), Member: sch.ID.String()})
	if sch.Status == schedule.StatusPending {
		pipe.ZAdd(ctx, zScheduleDue, goredis.Z{Score: scoreFromTime(sch.ScheduledFor), Member: sch.ID.String()})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookpipe/redis: create schedule indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, schID id.ID) (*schedule.ScheduledDelivery, error) {
	sch := new(schedule.ScheduledDelivery)
	if err := s.getEntity(ctx, entityKey(prefixSchedule, schID.String()), sch); err != nil {
		if isRedisNil(err) {
			return nil, hookpipe.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("hookpipe/redis: get schedule: %w", err)
	}
	return sch, nil
}

func (s *Store) ListSchedules(ctx context.Context, opts schedule.ListOpts) ([]*schedule.ScheduledDelivery, error) {
	ids, err := s.rdb.ZRange(ctx, zScheduleAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookpipe/redis: list schedules: %w", err)
	}

	result := make([]*schedule.ScheduledDelivery, 0, len(ids))
	for _, schID := range ids {
		sch := new(schedule.ScheduledDelivery)
		if err := s.getEntity(ctx, entityKey(prefixSchedule, schID), sch); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.TenantID != "" && sch.TenantID != opts.TenantID {
			continue
		}
		if opts.RuleID != nil && sch.RuleID.String() != opts.RuleID.String() {
			continue
		}
		if opts.Status != nil && sch.Status != *opts.Status {
			continue
		}
		result = append(result, sch)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ClaimDueSchedules(ctx context.Context, now time.Time, limit int) ([]*schedule.ScheduledDelivery, error) {
	ids, err := s.claimDue(ctx, zScheduleDue, now, limit)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/redis: claim schedules: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	result := make([]*schedule.ScheduledDelivery, 0, len(ids))
	for _, schID := range ids {
		key := entityKey(prefixSchedule, schID)
		sch := new(schedule.ScheduledDelivery)
		if err := s.getEntity(ctx, key, sch); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("hookpipe/redis: claim get: %w", err)
		}
		if sch.Status != schedule.StatusPending {
			continue
		}

		sch.Status = schedule.StatusFired
		sch.Touch()
		if err := s.setEntity(ctx, key, sch); err != nil {
			return nil, fmt.Errorf("hookpipe/redis: claim update: %w", err)
		}
		result = append(result, sch)
	}
	return result, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sch *schedule.ScheduledDelivery) error {
	key := entityKey(prefixSchedule, sch.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hookpipe/redis: update schedule: %w", err)
	}
	if exists == 0 {
		return hookpipe.ErrScheduleNotFound
	}

	sch.Touch()
	if err := s.setEntity(ctx, key, sch); err != nil {
		return fmt.Errorf("hookpipe/redis: update schedule: %w", err)
	}

	// A recurring schedule re-armed to pending rejoins the due queue.
	if sch.Status == schedule.StatusPending {
		return s.rdb.ZAdd(ctx, zScheduleDue, goredis.Z{
			Score:  scoreFromTime(sch.ScheduledFor),
			Member: sch.ID.String(),
		}).Err()
	}
	return s.rdb.ZRem(ctx, zScheduleDue, sch.ID.String()).Err()
}

func (s *Store) CancelSchedule(ctx context.Context, schID id.ID) error {
	sch, err := s.GetSchedule(ctx, schID)
	if err != nil {
		return err
	}
	if sch.Status != schedule.StatusPending {
		return nil
	}
	sch.Status = schedule.StatusCancelled
	return s.UpdateSchedule(ctx, sch)
}

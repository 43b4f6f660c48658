package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookpipe/hookpipe/event"
)

func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	seq, err := s.rdb.Incr(ctx, keyEventSeq).Result()
	if err != nil {
		return fmt.Errorf("hookpipe/redis: append event seq: %w", err)
	}
	evt.SourceID = seq
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now()
	}

	key := entityKey(prefixEvent, formatInt(seq))
	if err := s.setEntity(ctx, key, evt); err != nil {
		return fmt.Errorf("hookpipe/redis: append event: %w", err)
	}
	// Score by source ID so polling ranges stay ordered.
	return s.rdb.ZAdd(ctx, zEventAll, goredis.Z{
		Score:  float64(seq),
		Member: formatInt(seq),
	}).Err()
}

func (s *Store) PollEvents(ctx context.Context, sinceID int64, limit int) ([]*event.Event, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zEventAll, &goredis.ZRangeBy{
		Min:   "(" + formatInt(sinceID),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("hookpipe/redis: poll events: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for _, eid := range ids {
		evt := new(event.Event)
		if err := s.getEntity(ctx, entityKey(prefixEvent, eid), evt); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		result = append(result, evt)
	}
	return result, nil
}

func (s *Store) Checkpoint(ctx context.Context, workerID string) (int64, error) {
	lastID, err := s.rdb.Get(ctx, prefixCkpt+workerID).Int64()
	if isRedisNil(err) {
		return 0, nil
	}
	return lastID, err
}

// checkpointScript advances the cursor only forward.
// KEYS[1] = checkpoint key
// ARGV[1] = new cursor value
var checkpointScript = goredis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local new = tonumber(ARGV[1])
if new > cur then
    redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

func (s *Store) SaveCheckpoint(ctx context.Context, workerID string, lastID int64) error {
	return checkpointScript.Run(ctx, s.rdb, []string{prefixCkpt + workerID}, lastID).Err()
}

func (s *Store) MarkProcessed(ctx context.Context, tenantID string, sourceID int64, ttl time.Duration) (bool, error) {
	claimed, err := s.rdb.SetNX(ctx, dedupKey(tenantID, sourceID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("hookpipe/redis: mark processed: %w", err)
	}
	return claimed, nil
}

func (s *Store) UnmarkProcessed(ctx context.Context, tenantID string, sourceID int64) error {
	return s.rdb.Del(ctx, dedupKey(tenantID, sourceID)).Err()
}

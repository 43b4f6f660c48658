// Package redis provides a Redis Store implementation. Entities are
// stored as JSON documents; due queues are sorted sets scored by
// next-attempt time, claimed atomically with small Lua scripts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	hookstore "github.com/hookpipe/hookpipe/store"
)

// compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store implements store.Store using Redis.
type Store struct {
	rdb goredis.UniversalClient
}

// New creates a Redis store from an existing client.
func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// scoreFromTime converts a time.Time to a sorted set score (unix seconds as float64).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// formatInt renders an int64 for key construction.
func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getEntity retrieves and decodes a JSON entity.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// setEntity encodes and stores a JSON entity.
func (s *Store) setEntity(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("hookpipe/redis: marshal entity: %w", err)
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

// zRangeByScoreIDs returns all member IDs from a sorted set within a score range.
func (s *Store) zRangeByScoreIDs(ctx context.Context, key string, lo, hi float64) ([]string, error) {
	minStr := "-inf"
	maxStr := "+inf"
	if !math.IsInf(lo, -1) {
		minStr = strconv.FormatFloat(lo, 'f', -1, 64)
	}
	if !math.IsInf(hi, 1) {
		maxStr = strconv.FormatFloat(hi, 'f', -1, 64)
	}
	return s.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: minStr,
		Max: maxStr,
	}).Result()
}

// claimScript atomically removes due members from a sorted set.
// KEYS[1] = due sorted set
// ARGV[1] = current score threshold
// ARGV[2] = limit
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

// claimDue runs claimScript against a due sorted set and returns claimed IDs.
func (s *Store) claimDue(ctx context.Context, zkey string, due time.Time, limit int) ([]string, error) {
	score := strconv.FormatFloat(scoreFromTime(due), 'f', -1, 64)
	ids, err := claimScript.Run(ctx, s.rdb, []string{zkey}, score, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}

// applyPagination applies offset and limit to a slice.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

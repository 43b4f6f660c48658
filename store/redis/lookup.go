package redis

import (
	"context"
	"fmt"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/transform"
)

func (s *Store) UpsertLookupTable(ctx context.Context, table *transform.LookupTable) error {
	table.Touch()
	if err := s.setEntity(ctx, lookupKey(table.TenantID, table.Name), table); err != nil {
		return fmt.Errorf("hookpipe/redis: upsert lookup table: %w", err)
	}
	return nil
}

func (s *Store) GetLookupTable(ctx context.Context, tenantID, name string) (*transform.LookupTable, error) {
	table := new(transform.LookupTable)
	if err := s.getEntity(ctx, lookupKey(tenantID, name), table); err != nil {
		if isRedisNil(err) {
			return nil, hookpipe.ErrLookupTableNotFound
		}
		return nil, fmt.Errorf("hookpipe/redis: get lookup table: %w", err)
	}
	return table, nil
}

func (s *Store) DeleteLookupTable(ctx context.Context, tenantID, name string) error {
	deleted, err := s.rdb.Del(ctx, lookupKey(tenantID, name)).Result()
	if err != nil {
		return fmt.Errorf("hookpipe/redis: delete lookup table: %w", err)
	}
	if deleted == 0 {
		return hookpipe.ErrLookupTableNotFound
	}
	return nil
}

package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/transform"
)

func (s *Store) UpsertLookupTable(ctx context.Context, table *transform.LookupTable) error {
	m := toLookupModel(table)
	m.UpdatedAt = now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	_, err := s.col(colLookups).ReplaceOne(ctx,
		bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: upsert lookup table: %w", err)
	}
	return nil
}

func (s *Store) GetLookupTable(ctx context.Context, tenantID, name string) (*transform.LookupTable, error) {
	var m lookupModel
	err := s.col(colLookups).FindOne(ctx, bson.M{"_id": tenantID + ":" + name}).Decode(&m)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return nil, hookpipe.ErrLookupTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hookpipe/mongo: get lookup table: %w", err)
	}
	return fromLookupModel(&m), nil
}

func (s *Store) DeleteLookupTable(ctx context.Context, tenantID, name string) error {
	res, err := s.col(colLookups).DeleteOne(ctx, bson.M{"_id": tenantID + ":" + name})
	if err != nil {
		return fmt.Errorf("hookpipe/mongo: delete lookup table: %w", err)
	}
	if res.DeletedCount == 0 {
		return hookpipe.ErrLookupTableNotFound
	}
	return nil
}

package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/redis/go-redis/v9"
)

const catalogKey = "catalog:snapshot"

// CatalogStore keeps the last good model catalog so a restart can proceed
// while every upstream listing is unreachable.
type CatalogStore struct {
	rdb redis.UniversalClient
}

func NewCatalogStore(rdb redis.UniversalClient) *CatalogStore {
	return &CatalogStore{rdb: rdb}
}

func (s *CatalogStore) SaveCatalog(ctx context.Context, models []api.ModelDescriptor) error {
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("failed to serialize catalog: %w", err)
	}
	return s.rdb.Set(ctx, catalogKey, data, 0).Err()
}

// LoadCatalog returns an empty slice when no snapshot has been written.
func (s *CatalogStore) LoadCatalog(ctx context.Context) ([]api.ModelDescriptor, error) {
	data, err := s.rdb.Get(ctx, catalogKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var models []api.ModelDescriptor
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to deserialize catalog: %w", err)
	}
	return models, nil
}

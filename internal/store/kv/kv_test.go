package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := NewClient(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = NewClient(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestScanKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	for _, k := range []string{"cache:a", "cache:b", "usage:x"} {
		require.NoError(t, rdb.Set(ctx, k, "1", 0).Err())
	}

	keys, err := ScanKeys(ctx, rdb, "cache:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cache:a", "cache:b"}, keys)
}

func TestCatalogStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewCatalogStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	empty, err := store.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	models := []api.ModelDescriptor{{
		ID: "openai/gpt-4o", Provider: "openai", UpstreamID: "gpt-4o", ContextLength: 128000,
		Pricing: api.Pricing{Prompt: 2.5, Completion: 10},
	}}
	require.NoError(t, store.SaveCatalog(ctx, models))

	loaded, err := store.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, models, loaded)
}

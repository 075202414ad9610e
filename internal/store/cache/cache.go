package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nulzo/model-gateway/internal/store/kv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "cache:"

// Service is the response cache used by the router.
type Service interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// envelope is what lands in Redis. Payload is kept as raw bytes so a hit
// returns exactly what was stored.
type envelope struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps completed non-streaming responses in Redis under
// cache:<model-id>:<fingerprint>.
type Store struct {
	rdb        redis.UniversalClient
	defaultTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

func New(rdb redis.UniversalClient, defaultTTL time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Store{
		rdb:        rdb,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Get reports a miss for absent keys and for entries past their expiry.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("Discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		s.misses.Add(1)
		return nil, false, nil
	}
	if !env.ExpiresAt.IsZero() && !s.now().Before(env.ExpiresAt) {
		s.misses.Add(1)
		return nil, false, nil
	}

	s.hits.Add(1)
	return env.Payload, true, nil
}

// Put overwrites any existing entry. A non-positive ttl selects the default.
func (s *Store) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()
	data, err := json.Marshal(envelope{
		Payload:   payload,
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(ttl).UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}
	return s.rdb.Set(ctx, key, data, ttl).Err()
}

type SweepResult struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Expired  int `json:"expired"`
}

// Sweep assigns the default TTL to entries that lost theirs and deletes
// entries whose recorded expiry has passed.
func (s *Store) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	keys, err := kv.ScanKeys(ctx, s.rdb, keyPrefix+"*")
	if err != nil {
		return res, err
	}

	now := s.now()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		ttl, err := s.rdb.TTL(ctx, key).Result()
		if err != nil {
			return res, err
		}
		if ttl == -1 {
			if err := s.rdb.Expire(ctx, key, s.defaultTTL).Err(); err != nil {
				return res, err
			}
			res.Repaired++
		}

		data, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return res, err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err == nil && (env.ExpiresAt.IsZero() || now.Before(env.ExpiresAt)) {
			continue
		}
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return res, err
		}
		res.Expired++
	}

	return res, nil
}

// DeleteByPattern removes entries whose key suffix after "cache:" matches
// the glob pattern. An empty pattern clears the whole cache.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	keys, err := kv.ScanKeys(ctx, s.rdb, keyPrefix+pattern)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		n, err := s.rdb.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Stats returns the hit and miss counts since start.
func (s *Store) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

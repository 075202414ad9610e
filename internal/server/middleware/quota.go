package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Quota enforces a fixed window request budget per caller. Counters live in
// redis so every gateway instance shares them.
type Quota struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	logger *zap.Logger

	now func() time.Time
}

func NewQuota(rdb redis.UniversalClient, limit int, window time.Duration, logger *zap.Logger) *Quota {
	if window <= 0 {
		window = time.Hour
	}
	return &Quota{
		rdb:    rdb,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow counts one request for callerID and reports whether it fits the
// current window. When it does not, the wait until the next window is returned.
func (q *Quota) Allow(ctx context.Context, callerID string) (bool, int, time.Duration, error) {
	now := q.now()
	start := now.Truncate(q.window)
	key := fmt.Sprintf("ratelimit:%s:%d", callerID, start.Unix())

	pipe := q.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, q.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := int(incr.Val())
	remaining := max(q.limit-count, 0)
	if count > q.limit {
		return false, remaining, start.Add(q.window).Sub(now), nil
	}
	return true, remaining, 0, nil
}

func (q *Quota) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if q.limit <= 0 {
			c.Next()
			return
		}

		caller := CallerID(c)
		ok, remaining, retryAfter, err := q.Allow(c.Request.Context(), caller)
		if err != nil {
			// fail open while redis is unreachable
			q.logger.Warn("Quota check failed, allowing request", zap.String("caller", caller), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(q.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			q.logger.Warn("Caller quota exhausted", zap.String("caller", caller))
			_ = c.Error(api.RateLimitError(
				fmt.Sprintf("Rate limit of %d requests per %s exceeded", q.limit, q.window),
				retryAfter,
			))
			c.Abort()
			return
		}

		c.Next()
	}
}

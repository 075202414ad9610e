package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nulzo/model-gateway/internal/store/kv"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/redis/go-redis/v9"
)

const reportPrefix = "report:"

// RedisReports stores each daily report as a JSON document under report:<day>.
type RedisReports struct {
	rdb redis.UniversalClient
}

func NewRedisReports(rdb redis.UniversalClient) *RedisReports {
	return &RedisReports{rdb: rdb}
}

func (r *RedisReports) SaveReport(ctx context.Context, report api.DailyReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	return r.rdb.Set(ctx, reportPrefix+report.Date, data, 0).Err()
}

func (r *RedisReports) GetReport(ctx context.Context, day string) (*api.DailyReport, bool, error) {
	data, err := r.rdb.Get(ctx, reportPrefix+day).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report api.DailyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("failed to deserialize report: %w", err)
	}
	return &report, true, nil
}

func (r *RedisReports) DeleteReportsBefore(ctx context.Context, day string) (int, error) {
	keys, err := kv.ScanKeys(ctx, r.rdb, reportPrefix+"*")
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, key := range keys {
		if strings.TrimPrefix(key, reportPrefix) < day {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := r.rdb.Del(ctx, stale...).Result()
	return int(n), err
}

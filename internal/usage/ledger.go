package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nulzo/model-gateway/internal/store/kv"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DayLayout is the UTC calendar day format used in keys and reports.
const DayLayout = "2006-01-02"

const (
	fieldRequests  = "requests"
	fieldTokens    = "tokens"
	fieldCostNanos = "cost_nanos"
)

// ReportStore persists generated daily reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report api.DailyReport) error
	GetReport(ctx context.Context, day string) (*api.DailyReport, bool, error)
	DeleteReportsBefore(ctx context.Context, day string) (int, error)
}

// Ledger accumulates per caller, per model, per day counters in Redis.
// Costs are stored as integer nano-dollars so concurrent increments sum exactly.
type Ledger struct {
	rdb           redis.UniversalClient
	reports       ReportStore
	retentionDays int
	logger        *zap.Logger
	now           func() time.Time
}

func NewLedger(rdb redis.UniversalClient, reports ReportStore, retentionDays int, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		rdb:           rdb,
		reports:       reports,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

func (l *Ledger) today() string {
	return l.now().UTC().Format(DayLayout)
}

// callerKey relies on caller ids never containing ':' (enforced by config
// validation); model ids may.
func callerKey(day, callerID, modelID string) string {
	return fmt.Sprintf("usage:%s:caller:%s:%s", day, callerID, modelID)
}

func globalKey(day string) string  { return fmt.Sprintf("usage:%s:global", day) }
func callersKey(day string) string { return fmt.Sprintf("usage:%s:callers", day) }

// modelsKey names the per-model breakdown hash for one metric; fields are model ids.
func modelsKey(day, metric string) string {
	return fmt.Sprintf("usage:%s:models:%s", day, metric)
}

// ToNanos converts a dollar amount to integer nano-dollars.
func ToNanos(cost decimal.Decimal) int64 {
	return cost.Shift(9).Round(0).IntPart()
}

// FromNanos converts integer nano-dollars back to dollars.
func FromNanos(nanos int64) decimal.Decimal {
	return decimal.New(nanos, -9)
}

// TrackUsage records one request against today's counters in a single MULTI/EXEC.
func (l *Ledger) TrackUsage(ctx context.Context, callerID, modelID string, tokens int64, cost decimal.Decimal) error {
	day := l.today()
	nanos := ToNanos(cost)

	pipe := l.rdb.TxPipeline()
	for _, key := range []string{callerKey(day, callerID, modelID), globalKey(day)} {
		pipe.HIncrBy(ctx, key, fieldRequests, 1)
		pipe.HIncrBy(ctx, key, fieldTokens, tokens)
		pipe.HIncrBy(ctx, key, fieldCostNanos, nanos)
	}
	pipe.HIncrBy(ctx, modelsKey(day, fieldRequests), modelID, 1)
	pipe.HIncrBy(ctx, modelsKey(day, fieldTokens), modelID, tokens)
	pipe.HIncrBy(ctx, modelsKey(day, fieldCostNanos), modelID, nanos)
	pipe.SAdd(ctx, callersKey(day), callerID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track usage: %w", err)
	}
	return nil
}

// GetUsage returns the caller's per-model counters for one day, ordered by model id.
func (l *Ledger) GetUsage(ctx context.Context, callerID, day string) ([]api.UsageRecord, error) {
	prefix := fmt.Sprintf("usage:%s:caller:%s:", day, callerID)
	keys, err := kv.ScanKeys(ctx, l.rdb, escapeGlob(prefix)+"*")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	pipe := l.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("read usage: %w", err)
		}
	}

	records := make([]api.UsageRecord, 0, len(keys))
	for i, key := range keys {
		c := parseCounters(cmds[i].Val())
		records = append(records, api.UsageRecord{
			CallerID: callerID,
			ModelID:  strings.TrimPrefix(key, prefix),
			Date:     day,
			Requests: c.requests,
			Tokens:   c.tokens,
			Cost:     FromNanos(c.costNanos),
		})
	}
	return records, nil
}

type counters struct {
	requests, tokens, costNanos int64
}

func parseCounters(fields map[string]string) counters {
	var c counters
	c.requests, _ = strconv.ParseInt(fields[fieldRequests], 10, 64)
	c.tokens, _ = strconv.ParseInt(fields[fieldTokens], 10, 64)
	c.costNanos, _ = strconv.ParseInt(fields[fieldCostNanos], 10, 64)
	return c
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

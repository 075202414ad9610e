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
	"go.uber.org/zap"
)

// GenerateDailyReport snapshots yesterday's (UTC) global usage, first
// backfilling any older day in the retention window that has usage but no
// report. It returns yesterday's report, or nil when yesterday saw no requests.
func (l *Ledger) GenerateDailyReport(ctx context.Context) (*api.DailyReport, error) {
	today := l.now().UTC()

	missing, err := l.missingReports(ctx, today)
	if err != nil {
		return nil, err
	}
	for _, day := range missing {
		if _, err := l.BuildReport(ctx, day); err != nil {
			return nil, err
		}
		l.logger.Info("Backfilled daily report", zap.String("date", day))
	}

	return l.BuildReport(ctx, today.AddDate(0, 0, -1).Format(DayLayout))
}

// missingReports lists, oldest first, the days between the retention cutoff
// and the day before yesterday that recorded usage but have no stored report.
func (l *Ledger) missingReports(ctx context.Context, today time.Time) ([]string, error) {
	var days []string
	for back := l.retentionDays; back > 1; back-- {
		days = append(days, today.AddDate(0, 0, -back).Format(DayLayout))
	}
	if len(days) == 0 {
		return nil, nil
	}

	pipe := l.rdb.Pipeline()
	exists := make([]*redis.IntCmd, len(days))
	for i, day := range days {
		exists[i] = pipe.Exists(ctx, globalKey(day))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("scan usage days: %w", err)
	}

	var missing []string
	for i, day := range days {
		if exists[i].Val() == 0 {
			continue
		}
		_, ok, err := l.reports.GetReport(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("read report %s: %w", day, err)
		}
		if !ok {
			missing = append(missing, day)
		}
	}
	return missing, nil
}

// BuildReport generates and stores the report for a given day.
func (l *Ledger) BuildReport(ctx context.Context, day string) (*api.DailyReport, error) {
	pipe := l.rdb.Pipeline()
	global := pipe.HGetAll(ctx, globalKey(day))
	requests := pipe.HGetAll(ctx, modelsKey(day, fieldRequests))
	tokens := pipe.HGetAll(ctx, modelsKey(day, fieldTokens))
	costs := pipe.HGetAll(ctx, modelsKey(day, fieldCostNanos))
	callers := pipe.SCard(ctx, callersKey(day))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read daily usage: %w", err)
	}

	totals := parseCounters(global.Val())
	if totals.requests == 0 {
		l.logger.Info("No usage recorded, skipping daily report", zap.String("date", day))
		return nil, nil
	}

	report := api.DailyReport{
		Date:          day,
		Requests:      totals.requests,
		Tokens:        totals.tokens,
		Cost:          FromNanos(totals.costNanos),
		UniqueCallers: callers.Val(),
		Models:        []api.ModelUsage{},
		GeneratedAt:   l.now().UTC(),
	}
	for modelID, n := range requests.Val() {
		reqs, _ := strconv.ParseInt(n, 10, 64)
		toks, _ := strconv.ParseInt(tokens.Val()[modelID], 10, 64)
		nanos, _ := strconv.ParseInt(costs.Val()[modelID], 10, 64)
		report.Models = append(report.Models, api.ModelUsage{
			ModelID:  modelID,
			Requests: reqs,
			Tokens:   toks,
			Cost:     FromNanos(nanos),
		})
	}
	sort.Slice(report.Models, func(i, j int) bool { return report.Models[i].ModelID < report.Models[j].ModelID })

	if err := l.reports.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("save daily report: %w", err)
	}
	return &report, nil
}

func (l *Ledger) GetDailyReport(ctx context.Context, day string) (*api.DailyReport, bool, error) {
	return l.reports.GetReport(ctx, day)
}

type CleanupResult struct {
	Cutoff    string `json:"cutoff"`
	UsageKeys int    `json:"usage_keys"`
	Reports   int    `json:"reports"`
}

// CleanupRetention deletes usage counters and reports dated before the
// retention cutoff.
func (l *Ledger) CleanupRetention(ctx context.Context) (CleanupResult, error) {
	cutoff := l.now().UTC().AddDate(0, 0, -l.retentionDays).Format(DayLayout)
	res := CleanupResult{Cutoff: cutoff}

	keys, err := kv.ScanKeys(ctx, l.rdb, "usage:*")
	if err != nil {
		return res, err
	}

	var stale []string
	for _, key := range keys {
		day, _, ok := strings.Cut(strings.TrimPrefix(key, "usage:"), ":")
		if !ok {
			continue
		}
		if _, err := time.Parse(DayLayout, day); err != nil {
			continue
		}
		if day < cutoff {
			stale = append(stale, key)
		}
	}

	for start := 0; start < len(stale); start += 500 {
		end := min(start+500, len(stale))
		n, err := l.rdb.Del(ctx, stale[start:end]...).Result()
		if err != nil {
			return res, err
		}
		res.UsageKeys += int(n)
	}

	res.Reports, err = l.reports.DeleteReportsBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("delete reports: %w", err)
	}
	return res, nil
}

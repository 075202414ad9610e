package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewLedger(rdb, NewRedisReports(rdb), 30, nil)
	l.now = func() time.Time { return testNow }
	return l, mr
}

func TestNanosConversion(t *testing.T) {
	cost := decimal.RequireFromString("0.000123456")
	assert.EqualValues(t, 123456, ToNanos(cost))
	assert.True(t, FromNanos(123456).Equal(cost))
}

func TestTrackUsage_ConcurrentSumsExactly(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	cost := decimal.RequireFromString("0.001")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.TrackUsage(ctx, "U", "M", 1, cost))
		}()
	}
	wg.Wait()

	records, err := l.GetUsage(ctx, "U", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "M", records[0].ModelID)
	assert.EqualValues(t, 100, records[0].Requests)
	assert.EqualValues(t, 100, records[0].Tokens)
	assert.True(t, records[0].Cost.Equal(decimal.RequireFromString("0.100")), records[0].Cost.String())
}

func TestGetUsage_ScopedToCallerAndDay(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.TrackUsage(ctx, "alice", "openai/gpt-4o", 10, decimal.NewFromFloat(0.01)))
	require.NoError(t, l.TrackUsage(ctx, "alice", "ollama/llama3:8b", 5, decimal.Zero))
	require.NoError(t, l.TrackUsage(ctx, "alice-2", "openai/gpt-4o", 7, decimal.Zero))

	records, err := l.GetUsage(ctx, "alice", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ollama/llama3:8b", records[0].ModelID)
	assert.Equal(t, "openai/gpt-4o", records[1].ModelID)
	assert.EqualValues(t, 10, records[1].Tokens)

	none, err := l.GetUsage(ctx, "alice", "2026-03-09")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGenerateDailyReport(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	l.now = func() time.Time { return testNow.AddDate(0, 0, -1) }
	require.NoError(t, l.TrackUsage(ctx, "a", "m1", 10, decimal.RequireFromString("0.5")))
	require.NoError(t, l.TrackUsage(ctx, "b", "m1", 20, decimal.RequireFromString("0.25")))
	require.NoError(t, l.TrackUsage(ctx, "b", "m2", 5, decimal.RequireFromString("0.125")))

	l.now = func() time.Time { return testNow }
	report, err := l.GenerateDailyReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, "2026-03-09", report.Date)
	assert.EqualValues(t, 3, report.Requests)
	assert.EqualValues(t, 35, report.Tokens)
	assert.True(t, report.Cost.Equal(decimal.RequireFromString("0.875")))
	assert.EqualValues(t, 2, report.UniqueCallers)
	require.Len(t, report.Models, 2)
	assert.Equal(t, "m1", report.Models[0].ModelID)
	assert.EqualValues(t, 2, report.Models[0].Requests)

	stored, ok, err := l.GetDailyReport(ctx, "2026-03-09")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 35, stored.Tokens)
	assert.True(t, stored.Cost.Equal(report.Cost))
}

func TestGenerateDailyReport_NoUsageNoReport(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	report, err := l.GenerateDailyReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, report)

	_, ok, err := l.GetDailyReport(ctx, "2026-03-09")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateDailyReport_BackfillsMissedDays(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	track := func(daysAgo int, tokens int64) {
		l.now = func() time.Time { return testNow.AddDate(0, 0, -daysAgo) }
		require.NoError(t, l.TrackUsage(ctx, "a", "m", tokens, decimal.Zero))
	}
	track(45, 1)
	track(5, 5)
	track(3, 3)
	track(1, 1)

	l.now = func() time.Time { return testNow.AddDate(0, 0, -2) }
	existing, err := l.BuildReport(ctx, "2026-03-07")
	require.NoError(t, err)
	require.NotNil(t, existing)

	l.now = func() time.Time { return testNow }
	report, err := l.GenerateDailyReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "2026-03-09", report.Date)

	backfilled, ok, err := l.GetDailyReport(ctx, "2026-03-05")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 5, backfilled.Tokens)

	kept, ok, err := l.GetDailyReport(ctx, "2026-03-07")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, kept.GeneratedAt.Equal(existing.GeneratedAt), "stored reports are not rebuilt")

	_, ok, err = l.GetDailyReport(ctx, "2026-01-24")
	require.NoError(t, err)
	assert.False(t, ok, "days past retention are not backfilled")
}

func TestCleanupRetention(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	l.now = func() time.Time { return testNow.AddDate(0, 0, -31) }
	require.NoError(t, l.TrackUsage(ctx, "a", "m", 1, decimal.Zero))
	_, err := l.BuildReport(ctx, "2026-02-07")
	require.NoError(t, err)

	l.now = func() time.Time { return testNow.AddDate(0, 0, -30) }
	require.NoError(t, l.TrackUsage(ctx, "a", "m", 1, decimal.Zero))

	l.now = func() time.Time { return testNow }
	res, err := l.CleanupRetention(ctx)
	require.NoError(t, err)

	assert.Equal(t, "2026-02-08", res.Cutoff)
	assert.Equal(t, 6, res.UsageKeys)
	assert.Equal(t, 1, res.Reports)
	assert.False(t, mr.Exists("usage:2026-02-07:global"))
	assert.True(t, mr.Exists("usage:2026-02-08:global"))
	assert.True(t, mr.Exists("usage:2026-02-08:caller:a:m"))
}

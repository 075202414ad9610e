package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/store/cache"
	"github.com/nulzo/model-gateway/internal/usage"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRunNow_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := New(zap.New(core), Job{
		Name: "boom",
		Run:  func(context.Context) error { panic("kaboom") },
	})

	err := s.RunNow(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 1, logs.FilterMessage("Job panicked").Len())
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := New(nil)
	assert.ErrorContains(t, s.RunNow(context.Background(), "nope"), "unknown job")
}

func TestStart_RunsJobsIndependently(t *testing.T) {
	var good atomic.Int32
	s := New(nil,
		Job{Name: "good", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			good.Add(1)
			return nil
		}},
		Job{Name: "bad", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			panic("always")
		}},
		Job{Name: "failing", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			return errors.New("nope")
		}},
		Job{Name: "off", Run: func(context.Context) error {
			t.Error("disabled job ran")
			return nil
		}},
	)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return good.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestExecute_SkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s := New(nil, Job{Name: "slow", Run: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}})

	done := make(chan struct{})
	go func() {
		_ = s.RunNow(context.Background(), "slow")
		close(done)
	}()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.RunNow(context.Background(), "slow"))
	close(release)
	<-done
	assert.EqualValues(t, 1, runs.Load())
}

type fakeMaintenance struct {
	refreshed atomic.Int32
	swept     atomic.Int32
	reported  atomic.Int32
	cleaned   atomic.Int32
}

func (f *fakeMaintenance) RefreshModels(context.Context) (int, error) {
	f.refreshed.Add(1)
	return 3, nil
}

func (f *fakeMaintenance) Sweep(context.Context) (cache.SweepResult, error) {
	f.swept.Add(1)
	return cache.SweepResult{Scanned: 2, Expired: 1}, nil
}

func (f *fakeMaintenance) GenerateDailyReport(context.Context) (*api.DailyReport, error) {
	f.reported.Add(1)
	return &api.DailyReport{Date: "2026-01-01", Cost: decimal.RequireFromString("1.5")}, nil
}

func (f *fakeMaintenance) CleanupRetention(context.Context) (usage.CleanupResult, error) {
	f.cleaned.Add(1)
	return usage.CleanupResult{Cutoff: "2025-12-01"}, nil
}

func TestStandardJobs(t *testing.T) {
	f := &fakeMaintenance{}
	cfg := config.SchedulerConfig{RefreshInterval: time.Hour, SweepInterval: 6 * time.Hour, ReportInterval: 24 * time.Hour, RetentionInterval: 168 * time.Hour}
	s := New(nil, StandardJobs(cfg, f, f, f, zap.NewNop())...)

	assert.Equal(t, []string{JobCacheSweep, JobDailyReport, JobModelRefresh, JobRetentionCleanup}, s.Names())
	for _, name := range s.Names() {
		require.NoError(t, s.RunNow(context.Background(), name))
	}

	assert.EqualValues(t, 1, f.refreshed.Load())
	assert.EqualValues(t, 1, f.swept.Load())
	assert.EqualValues(t, 1, f.reported.Load())
	assert.EqualValues(t, 1, f.cleaned.Load())
}

func TestStart_LongIntervalJobsRunImmediately(t *testing.T) {
	f := &fakeMaintenance{}
	cfg := config.SchedulerConfig{RefreshInterval: time.Hour, SweepInterval: 6 * time.Hour, ReportInterval: 24 * time.Hour, RetentionInterval: 168 * time.Hour}
	s := New(nil, StandardJobs(cfg, f, f, f, zap.NewNop())...)

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return f.reported.Load() == 1 && f.cleaned.Load() == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Zero(t, f.refreshed.Load())
	assert.Zero(t, f.swept.Load())
}

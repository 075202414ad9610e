package scheduler

import (
	"context"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/store/cache"
	"github.com/nulzo/model-gateway/internal/usage"
	"github.com/nulzo/model-gateway/pkg/api"
	"go.uber.org/zap"
)

const (
	JobModelRefresh     = "model-refresh"
	JobCacheSweep       = "cache-sweep"
	JobDailyReport      = "daily-report"
	JobRetentionCleanup = "retention-cleanup"
)

type Refresher interface {
	RefreshModels(ctx context.Context) (int, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (cache.SweepResult, error)
}

type Reporter interface {
	GenerateDailyReport(ctx context.Context) (*api.DailyReport, error)
	CleanupRetention(ctx context.Context) (usage.CleanupResult, error)
}

// StandardJobs wires the gateway's maintenance tasks.
func StandardJobs(cfg config.SchedulerConfig, models Refresher, sweeper Sweeper, ledger Reporter, logger *zap.Logger) []Job {
	return []Job{
		{
			Name:     JobModelRefresh,
			Interval: cfg.RefreshInterval,
			Run: func(ctx context.Context) error {
				n, err := models.RefreshModels(ctx)
				if err != nil {
					return err
				}
				logger.Info("Model catalog refreshed", zap.Int("models", n))
				return nil
			},
		},
		{
			Name:     JobCacheSweep,
			Interval: cfg.SweepInterval,
			Run: func(ctx context.Context) error {
				res, err := sweeper.Sweep(ctx)
				logger.Info("Cache swept",
					zap.Int("scanned", res.Scanned),
					zap.Int("repaired", res.Repaired),
					zap.Int("expired", res.Expired),
				)
				return err
			},
		},
		{
			Name:       JobDailyReport,
			Interval:   cfg.ReportInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				report, err := ledger.GenerateDailyReport(ctx)
				if err != nil || report == nil {
					return err
				}
				logger.Info("Daily report generated",
					zap.String("date", report.Date),
					zap.Int64("requests", report.Requests),
					zap.Int64("tokens", report.Tokens),
					zap.String("cost", report.Cost.StringFixed(6)),
				)
				return nil
			},
		},
		{
			Name:       JobRetentionCleanup,
			Interval:   cfg.RetentionInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				res, err := ledger.CleanupRetention(ctx)
				logger.Info("Retention cleanup",
					zap.String("cutoff", res.Cutoff),
					zap.Int("usage_keys", res.UsageKeys),
					zap.Int("reports", res.Reports),
				)
				return err
			},
		},
	}
}

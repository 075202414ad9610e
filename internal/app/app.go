package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nulzo/model-gateway/internal/buildinfo"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/llm"
	"github.com/nulzo/model-gateway/internal/platform/otel"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/internal/scheduler"
	"github.com/nulzo/model-gateway/internal/server"
	"github.com/nulzo/model-gateway/internal/store/cache"
	"github.com/nulzo/model-gateway/internal/store/kv"
	"github.com/nulzo/model-gateway/internal/store/sqlite"
	"github.com/nulzo/model-gateway/internal/upstream"
	"github.com/nulzo/model-gateway/internal/usage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	// provider registration
	_ "github.com/nulzo/model-gateway/internal/llm/anthropic"
	_ "github.com/nulzo/model-gateway/internal/llm/openai"
)

var _ usage.ReportStore = (*sqlite.Reports)(nil)
var _ usage.ReportStore = (*usage.RedisReports)(nil)

// App owns every long lived component of a gateway process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	rdb       *redis.Client
	registry  *registry.Registry
	cache     *cache.Store
	ledger    *usage.Ledger
	gateway   *gateway.Service
	scheduler *scheduler.Scheduler

	closers []func(context.Context) error
}

// New connects to every dependency and loads the model catalog. It fails when
// redis is unreachable or no catalog can be obtained.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer(cfg.Tracing.ServiceName, buildinfo.Version, logger, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	rdb, err := kv.NewClient(ctx, cfg.Redis)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.rdb = rdb
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })

	reports, err := a.openReports()
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	factory := llm.NewProviderFactory(cfg.Upstream.Timeout)
	providers := upstream.BootstrapProviders(factory, cfg.Providers, logger)
	if len(providers) == 0 {
		logger.Warn("No upstream providers enabled")
	}

	catalog := upstream.NewCatalog(providers, cfg.Providers, cfg.Upstream.CatalogTimeout, logger)
	a.registry = registry.New(catalog, kv.NewCatalogStore(rdb), cfg.Health, logger)
	if err := a.registry.Initialize(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	client := upstream.NewClient(providers, a.registry, catalog, logger)
	a.cache = cache.New(rdb, cfg.Cache.DefaultTTL, logger)
	a.ledger = usage.NewLedger(rdb, reports, cfg.Usage.RetentionDays, logger)
	a.gateway = gateway.NewService(a.registry, client, a.cache, a.ledger, gateway.Options{
		CacheEnabled: cfg.Cache.Enabled,
		CacheTTL:     cfg.Cache.TTL,
	}, logger)

	a.scheduler = scheduler.New(logger,
		scheduler.StandardJobs(cfg.Scheduler, a.registry, a.cache, a.ledger, logger)...)

	logger.Info("Gateway initialized",
		zap.Int("providers", len(providers)),
		zap.Int("models", a.registry.Len()),
		zap.String("reports", cfg.Reports.Backend),
	)
	return a, nil
}

func (a *App) openReports() (usage.ReportStore, error) {
	if a.cfg.Reports.Backend != "sqlite" {
		return usage.NewRedisReports(a.rdb), nil
	}

	db, err := sqlite.Open(a.cfg.Reports.SQLiteDSN, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open report archive: %w", err)
	}
	reports := sqlite.NewReports(db)
	a.closers = append(a.closers, func(context.Context) error { return reports.Close() })
	return reports, nil
}

// Server builds the HTTP layer over the app's services.
func (a *App) Server() *server.Server {
	return server.New(a.cfg, a.logger, server.Dependencies{
		Chat:    a.gateway,
		Models:  a.registry,
		Cache:   a.cache,
		Usage:   a.ledger,
		Redis:   a.rdb,
		Version: buildinfo.Version,
	})
}

// Run serves HTTP and runs the maintenance scheduler until ctx ends or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	srv := a.Server()

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Scheduler.Enabled {
		a.scheduler.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			a.scheduler.Stop()
			return nil
		})
	}

	g.Go(func() error {
		return srv.Run(ctx)
	})

	return g.Wait()
}

// RunJob executes one maintenance job immediately.
func (a *App) RunJob(ctx context.Context, name string) error {
	return a.scheduler.RunNow(ctx, name)
}

func (a *App) Jobs() []string {
	return a.scheduler.Names()
}

// Close releases resources in reverse acquisition order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

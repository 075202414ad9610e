package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoCatalog is returned by Initialize when neither the upstream catalog
// nor a stored snapshot yields any model.
var ErrNoCatalog = errors.New("no model catalog available")

// CatalogSource supplies the models currently offered upstream.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]api.ModelDescriptor, error)
}

// PartialCatalogError is returned by a CatalogSource that assembled a catalog
// while failing to list some providers. Registry keeps the previously known
// models of those providers.
type PartialCatalogError struct {
	Providers []string
	Err       error
}

func (e *PartialCatalogError) Error() string {
	return fmt.Sprintf("catalog incomplete for %s: %v", strings.Join(e.Providers, ", "), e.Err)
}

func (e *PartialCatalogError) Unwrap() error { return e.Err }

// SnapshotStore persists the last catalog that was fetched successfully.
type SnapshotStore interface {
	SaveCatalog(ctx context.Context, models []api.ModelDescriptor) error
	LoadCatalog(ctx context.Context) ([]api.ModelDescriptor, error)
}

// Registry is the authoritative in-process table of model descriptors and
// their rolling performance. Descriptor maps are never mutated after they are
// published; a refresh builds a new map and swaps it in.
type Registry struct {
	source   CatalogSource
	snapshot SnapshotStore
	health   config.HealthConfig
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	models map[string]api.ModelDescriptor
	perf   map[string]*window

	refreshes singleflight.Group
}

// New builds an empty Registry. snapshot may be nil.
func New(source CatalogSource, snapshot SnapshotStore, health config.HealthConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		source:   source,
		snapshot: snapshot,
		health:   health,
		logger:   logger,
		now:      time.Now,
		models:   make(map[string]api.ModelDescriptor),
		perf:     make(map[string]*window),
	}
}

// Initialize loads the catalog from upstream, falling back to the stored snapshot.
func (r *Registry) Initialize(ctx context.Context) error {
	n, err := r.RefreshModels(ctx)
	if err == nil && n > 0 {
		return nil
	}
	if err == nil {
		err = errors.New("upstream catalog is empty")
	}
	r.logger.Warn("Upstream catalog unavailable, trying snapshot", zap.Error(err))

	if r.snapshot == nil {
		return fmt.Errorf("%w: %v", ErrNoCatalog, err)
	}
	models, snapErr := r.snapshot.LoadCatalog(ctx)
	if snapErr != nil || len(models) == 0 {
		return fmt.Errorf("%w: upstream: %v, snapshot: %v", ErrNoCatalog, err, snapErr)
	}

	r.swap(models)
	r.logger.Info("Model catalog restored from snapshot", zap.Int("models", len(models)))
	return nil
}

// RefreshModels re-fetches the catalog and atomically replaces the descriptor
// table. Performance history survives for ids present in both catalogs.
// Concurrent calls share a single fetch.
func (r *Registry) RefreshModels(ctx context.Context) (int, error) {
	v, err, shared := r.refreshes.Do("refresh", func() (interface{}, error) {
		models, err := r.source.FetchCatalog(ctx)
		var partial *PartialCatalogError
		if err != nil && !errors.As(err, &partial) {
			return 0, fmt.Errorf("fetch catalog: %w", err)
		}
		if partial != nil {
			models = r.withPrevious(models, partial.Providers)
			r.logger.Warn("Model discovery incomplete, keeping previous models",
				zap.Strings("providers", partial.Providers),
				zap.Error(partial.Err),
			)
		}
		if len(models) == 0 {
			return 0, nil
		}

		r.swap(models)

		if r.snapshot != nil {
			if err := r.snapshot.SaveCatalog(ctx, models); err != nil {
				r.logger.Warn("Failed to persist catalog snapshot", zap.Error(err))
			}
		}
		return len(models), nil
	})
	if err != nil {
		return 0, err
	}
	if shared {
		r.logger.Debug("Catalog refresh coalesced")
	}
	return v.(int), nil
}

// withPrevious appends the current descriptors of providers that models lacks.
func (r *Registry) withPrevious(models []api.ModelDescriptor, providers []string) []api.ModelDescriptor {
	stale := toSet(providers)
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		seen[m.ID] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.models {
		if _, ok := stale[m.Provider]; !ok {
			continue
		}
		if _, ok := seen[id]; !ok {
			models = append(models, m)
		}
	}
	return models
}

func (r *Registry) swap(models []api.ModelDescriptor) {
	next := make(map[string]api.ModelDescriptor, len(models))
	for _, m := range models {
		next[m.ID] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	perf := make(map[string]*window, len(next))
	for id := range next {
		if w, ok := r.perf[id]; ok {
			perf[id] = w
		} else {
			perf[id] = newWindow(r.health.Window)
		}
	}
	r.models = next
	r.perf = perf
}

func (r *Registry) GetModel(id string) (api.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Len returns the number of known models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// IsModelHealthy reports false for unknown ids.
func (r *Registry) IsModelHealthy(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.models[id]; !ok {
		return false
	}
	return r.healthyLocked(id)
}

// healthyLocked expects r.mu held.
func (r *Registry) healthyLocked(id string) bool {
	w, ok := r.perf[id]
	if !ok {
		return true
	}
	avg, rate, n := w.stats(r.sampleCutoff())
	if n < r.health.MinSamples {
		return true
	}
	return rate > r.health.MinSuccessRate && avg < float64(r.health.MaxAvgLatency.Milliseconds())
}

// sampleCutoff is the oldest sample time still counted toward health.
func (r *Registry) sampleCutoff() time.Time {
	if r.health.SampleTTL <= 0 {
		return time.Time{}
	}
	return r.now().Add(-r.health.SampleTTL)
}

// RecordOutcome adds one observation. Outcomes for ids no longer in the catalog are dropped.
func (r *Registry) RecordOutcome(id string, latency time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.perf[id]
	if !ok {
		return
	}
	w.add(sample{latencyMs: float64(latency.Microseconds()) / 1000, success: success, at: r.now()})
}

func (r *Registry) recordLocked(id string) api.PerformanceRecord {
	rec := api.PerformanceRecord{ModelID: id}
	w, ok := r.perf[id]
	if !ok {
		return rec
	}
	rec.AvgLatencyMs, rec.SuccessRate, rec.WindowSize = w.stats(r.sampleCutoff())
	rec.TotalRequests = w.total
	rec.LastUpdated = w.updated
	return rec
}

// Performance reports ok for every known model; TotalRequests stays zero
// until an outcome is recorded.
func (r *Registry) Performance(id string) (api.PerformanceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.models[id]; !ok {
		return api.PerformanceRecord{}, false
	}
	return r.recordLocked(id), true
}

// AllPerformance returns one record per known model, ordered by id.
func (r *Registry) AllPerformance() []api.PerformanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.PerformanceRecord, 0, len(r.models))
	for id := range r.models {
		out = append(out, r.recordLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

func (r *Registry) modelLocked(d api.ModelDescriptor) api.Model {
	m := api.Model{ModelDescriptor: d, Object: "model", Health: api.Unhealthy}
	if r.healthyLocked(d.ID) {
		m.Health = api.Healthy
	}
	if rec := r.recordLocked(d.ID); rec.TotalRequests > 0 {
		m.Performance = &rec
	}
	return m
}

// List returns the models matching filter, ordered by id.
func (r *Registry) List(filter api.ModelFilter) []api.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.Model, 0, len(r.models))
	for _, d := range r.models {
		if filter.Provider != "" && !strings.EqualFold(d.Provider, filter.Provider) {
			continue
		}
		blended := d.Pricing.Blended()
		if filter.PriceMin != nil && blended < *filter.PriceMin {
			continue
		}
		if filter.PriceMax != nil && blended > *filter.PriceMax {
			continue
		}
		if d.ContextLength < filter.ContextMin {
			continue
		}
		if filter.HealthyOnly && !r.healthyLocked(d.ID) {
			continue
		}
		out = append(out, r.modelLocked(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Describe returns the annotated view of one model.
func (r *Registry) Describe(id string) (api.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[id]
	if !ok {
		return api.Model{}, false
	}
	return r.modelLocked(d), true
}

// Pricing returns the configured price of a model, used for cost computation.
func (r *Registry) Pricing(id string) (api.Pricing, bool) {
	d, ok := r.GetModel(id)
	return d.Pricing, ok
}

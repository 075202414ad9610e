package upstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/llm"
	"github.com/nulzo/model-gateway/internal/modeldata"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Catalog merges provider model listings with configured pricing.
type Catalog struct {
	providers []llm.Provider
	configs   map[string]config.ProviderConfig
	timeout   time.Duration
	logger    *zap.Logger
}

func NewCatalog(providers []llm.Provider, cfgs []config.ProviderConfig, timeout time.Duration, logger *zap.Logger) *Catalog {
	byID := make(map[string]config.ProviderConfig, len(cfgs))
	for _, c := range cfgs {
		byID[c.ID] = c
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		providers: providers,
		configs:   byID,
		timeout:   timeout,
		logger:    logger,
	}
}

// ModelID joins a provider id and an upstream model id.
func ModelID(providerID, upstreamID string) string {
	return providerID + "/" + upstreamID
}

// FetchCatalog returns one descriptor per model, ordered by id.
//
// Configured models are always offered unless the provider has discovery on
// and its live listing omits them. Discovered models absent from
// configuration take reference pricing when known, zero otherwise. When some
// providers fail to list but a catalog was still assembled, the models come
// back with a *registry.PartialCatalogError naming those providers.
func (c *Catalog) FetchCatalog(ctx context.Context) ([]api.ModelDescriptor, error) {
	var (
		mu     sync.Mutex
		models []api.ModelDescriptor
		errs   []error
		failed []string
	)

	var g errgroup.Group
	for _, p := range c.providers {
		g.Go(func() error {
			found, err := c.fromProvider(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				failed = append(failed, p.Name())
			}
			models = append(models, found...)
			return nil
		})
	}
	_ = g.Wait()

	if len(models) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	if len(errs) > 0 {
		sort.Strings(failed)
		return models, &registry.PartialCatalogError{Providers: failed, Err: errors.Join(errs...)}
	}
	return models, nil
}

func (c *Catalog) fromProvider(ctx context.Context, p llm.Provider) ([]api.ModelDescriptor, error) {
	cfg := c.configs[p.Name()]

	static := make(map[string]api.ModelDescriptor, len(cfg.Models))
	for _, m := range cfg.Models {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		static[m.ID] = api.ModelDescriptor{
			ID:            ModelID(p.Name(), m.ID),
			Name:          name,
			Provider:      p.Name(),
			UpstreamID:    m.ID,
			ContextLength: m.ContextLength,
			Pricing:       m.Pricing,
		}
	}

	if !cfg.Discover {
		return values(static), nil
	}

	listCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ids, err := p.Models(listCtx)
	if err != nil {
		c.logger.Warn("Model discovery failed, using configured models",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
		return values(static), fmt.Errorf("discover %s: %w", p.Name(), err)
	}

	out := make([]api.ModelDescriptor, 0, len(ids))
	for _, id := range ids {
		if d, ok := static[id]; ok {
			out = append(out, d)
			continue
		}
		d := api.ModelDescriptor{
			ID:         ModelID(p.Name(), id),
			Name:       id,
			Provider:   p.Name(),
			UpstreamID: id,
		}
		if k, ok := modeldata.Lookup(id); ok {
			d.Name, d.ContextLength, d.Pricing = k.Name, k.ContextLength, k.Pricing
		}
		out = append(out, d)
	}

	c.logger.Debug("Discovered models",
		zap.String("provider", p.Name()),
		zap.Int("listed", len(ids)),
		zap.Int("configured", len(static)),
	)
	return out, nil
}

func values(m map[string]api.ModelDescriptor) []api.ModelDescriptor {
	out := make([]api.ModelDescriptor, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

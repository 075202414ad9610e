package llm

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nulzo/model-gateway/internal/config"
)

type ProviderFactory struct {
	timeout time.Duration
}

func NewProviderFactory(timeout time.Duration) *ProviderFactory {
	return &ProviderFactory{timeout: timeout}
}

func (f *ProviderFactory) CreateProvider(cfg config.ProviderConfig) (Provider, error) {
	factoryFunc, err := Get(cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("factory lookup failed for type %s: %w", cfg.Type, err)
	}

	return factoryFunc(cfg, &http.Client{Timeout: f.timeout})
}

type Factory func(cfg config.ProviderConfig, client *http.Client) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

func Register(providerType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[providerType]; exists {
		panic(fmt.Sprintf("provider factory %s already registered", providerType))
	}
	factories[providerType] = f
}

func Get(providerType string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[providerType]
	if !ok {
		return nil, fmt.Errorf("provider factory not found for type: %s", providerType)
	}
	return f, nil
}

// Types lists the registered provider types in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

package upstream

import (
	"fmt"

	"github.com/nulzo/model-gateway/internal/cli"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/llm"
	"go.uber.org/zap"
)

// BootstrapProviders instantiates every enabled provider. Providers that fail
// to build are logged and skipped so one bad entry does not block startup.
func BootstrapProviders(factory *llm.ProviderFactory, providers []config.ProviderConfig, log *zap.Logger) []llm.Provider {
	var out []llm.Provider

	for _, pCfg := range providers {
		if !pCfg.Enabled {
			continue
		}

		if pCfg.APIKey == "" {
			log.Warn(fmt.Sprintf("%s %s %s",
				cli.WarningSign(),
				cli.Style(pCfg.ID, cli.Bold),
				cli.Style("No API key configured, requests will be sent unauthenticated", cli.Yellow),
			))
		}

		p, err := factory.CreateProvider(pCfg)
		if err != nil {
			log.Error("Failed to initialize provider",
				zap.String("id", pCfg.ID),
				zap.String("type", pCfg.Type),
				zap.Error(err),
			)
			continue
		}

		log.Info(fmt.Sprintf("%s %s", cli.CheckMark(), cli.Style(pCfg.ID, cli.Bold)),
			zap.String("type", pCfg.Type),
			zap.Int("static_models", len(pCfg.Models)),
			zap.Bool("discover", pCfg.Discover),
		)
		out = append(out, p)
	}

	if len(out) == 0 {
		log.Warn("No providers were registered. API will not function correctly.")
	}

	return out
}

package command

import (
	"fmt"
	"os"

	"github.com/nulzo/model-gateway/internal/buildinfo"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/platform/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

// NewRootCommand assembles the gateway CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Model gateway: routing, caching and usage accounting for LLM providers",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				_ = os.Setenv("CONFIG_FILE", configFile)
			}
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a config file (default ./config.yaml)")

	root.AddCommand(
		newServeCommand(),
		newJobsCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.ConfigFromEnv(cfg.Log.Level, cfg.Log.Format))
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

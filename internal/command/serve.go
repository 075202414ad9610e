package command

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/model-gateway/internal/app"
	"github.com/nulzo/model-gateway/internal/buildinfo"
	"github.com/nulzo/model-gateway/internal/cli"
	"github.com/nulzo/model-gateway/internal/platform/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway and its maintenance scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info(fmt.Sprintf("%s %s",
				cli.Style("model-gateway", cli.Bold),
				cli.Style(buildinfo.Version, cli.Cyan),
			), zap.String("env", cfg.Server.Env), zap.String("port", cfg.Server.Port))

			if cfg.Server.UpdateCheckURL != "" {
				go warnIfOutdated(ctx, cfg.Server.UpdateCheckURL, log)
			}

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("startup failed: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					log.Warn("Shutdown incomplete", zap.Error(err))
				}
			}()

			if err := a.Run(ctx); err != nil {
				return err
			}
			log.Info("Gateway stopped")
			return nil
		},
	}
}

func warnIfOutdated(ctx context.Context, url string, log *zap.Logger) {
	info, err := buildinfo.CheckForUpdates(ctx, &http.Client{Timeout: 2 * time.Second}, url, buildinfo.Version)
	if err != nil {
		log.Debug("Release check skipped", zap.Error(err))
		return
	}
	if info.Outdated {
		log.Warn(fmt.Sprintf("%s You are running an outdated version", cli.WarningSign()),
			zap.String("current", info.Current),
			zap.String("latest", info.Latest),
		)
	}
}

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/nulzo/model-gateway/internal/app"
	"github.com/nulzo/model-gateway/internal/cli"
	"github.com/nulzo/model-gateway/internal/platform/logger"
	"github.com/spf13/cobra"
)

func newJobsCommand() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger maintenance jobs",
	}

	jobs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, name := range a.Jobs() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	})

	jobs.AddCommand(&cobra.Command{
		Use:   "run <job>",
		Short: "Run one maintenance job now and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				start := time.Now()
				if err := a.RunJob(ctx, args[0]); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cli.CrossMark(), cli.Style(args[0], cli.Bold))
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
					cli.CheckMark(),
					cli.Style(args[0], cli.Bold),
					cli.Style(time.Since(start).Round(time.Millisecond).String(), cli.Dim),
				)
				return nil
			})
		},
	})

	return jobs
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	return fn(ctx, a)
}

package command

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nulzo/model-gateway/internal/buildinfo"
	"github.com/nulzo/model-gateway/internal/cli"
	"github.com/spf13/cobra"
)

const defaultReleaseURL = "https://api.github.com/repos/nulzo/model-gateway/releases/latest"

func newVersionCommand() *cobra.Command {
	var (
		check bool
		url   string
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, buildinfo.Version)
			if !check {
				return nil
			}

			info, err := buildinfo.CheckForUpdates(cmd.Context(), &http.Client{Timeout: 5 * time.Second}, url, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("update check failed: %w", err)
			}
			if info.Outdated {
				fmt.Fprintf(out, "%s %s is available (running %s)\n",
					cli.WarningSign(), cli.Style(info.Latest, cli.Bold), info.Current)
				return nil
			}
			fmt.Fprintf(out, "%s up to date\n", cli.CheckMark())
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "compare with the latest published release")
	cmd.Flags().StringVar(&url, "release-url", defaultReleaseURL, "releases endpoint to check against")
	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/repo-metrics/internal/config"
	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/gateway"
	"github.com/naka-gawa/repo-metrics/internal/usecase"
)

var syncDownloadsCmd = &cobra.Command{
	Use:   "sync-downloads",
	Short: "Refreshes recent daily download counts of the tracked packages",
	Long: `Fetches the daily download counts of the last --days days (today included) for
every package in the package file and overwrites the stored counts of that window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days < 1 {
			return fmt.Errorf("--days must be at least 1, got %d", days)
		}
		return runDownloads(cmd, func(t *usecase.DownloadTracker, pkgs []domain.Package) *usecase.DownloadReport {
			return t.Sync(cmd.Context(), pkgs, days)
		})
	},
}

var backfillDownloadsCmd = &cobra.Command{
	Use:   "backfill-downloads",
	Short: "Fetches the full download history each registry offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownloads(cmd, func(t *usecase.DownloadTracker, pkgs []domain.Package) *usecase.DownloadReport {
			return t.Backfill(cmd.Context(), pkgs)
		})
	},
}

func init() {
	rootCmd.AddCommand(syncDownloadsCmd)
	rootCmd.AddCommand(backfillDownloadsCmd)
	for _, c := range []*cobra.Command{syncDownloadsCmd, backfillDownloadsCmd} {
		c.Flags().String("config-path", "packages.yaml", "Package list file")
	}
	syncDownloadsCmd.Flags().Int("days", 30, "Trailing days to refresh")
}

func runDownloads(cmd *cobra.Command, run func(*usecase.DownloadTracker, []domain.Package) *usecase.DownloadReport) error {
	path, _ := cmd.Flags().GetString("config-path")
	pkgs, err := config.LoadPackages(path)
	if err != nil {
		return err
	}

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if len(pkgs) == 0 {
		e.logger.Warn("No packages configured", "path", path)
		return nil
	}
	tracker := usecase.NewDownloadTracker(gateway.NewRegistryClient(nil, e.logger), e.store, e.logger)
	report := run(tracker, pkgs)
	if report.AllFailed() {
		return fmt.Errorf("no package could be refreshed: %w", report.Err())
	}
	if err := report.Err(); err != nil {
		e.logger.Warn("Some packages were skipped", "error", err)
	}
	return nil
}

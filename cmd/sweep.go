package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/repo-metrics/internal/gateway"
	"github.com/naka-gawa/repo-metrics/internal/usecase"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-checks locally open issues, pull requests and CI runs",
	Long: `Re-fetches every item the database still considers open. Items that no longer
exist upstream are marked closed and deleted; the rest are updated in place.
Sync cursors are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		if e.cfg.GithubToken == "" {
			e.logger.Warn("GITHUB_TOKEN is not set, nothing to sweep")
			return nil
		}
		repos, err := reposFlag(cmd, e.cfg)
		if err != nil {
			return err
		}
		githubGateway, err := gateway.NewGitHubGateway(e.cfg.GithubToken, e.cfg.RateLimitMargin, e.logger)
		if err != nil {
			return fmt.Errorf("failed to create GitHub gateway: %w", err)
		}
		results, err := usecase.NewSweeper(githubGateway, e.store, e.cfg.Workers, e.logger).Sweep(ctx, repos)
		if err != nil {
			return fmt.Errorf("sweep aborted: %w", err)
		}
		for _, r := range results {
			e.logger.Info("Swept repository", "repo", r.Repo,
				"checked", r.Checked, "refreshed", r.Refreshed, "deleted", r.Deleted, "failed", r.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringSlice("repos", nil, "Repositories to sweep (name or owner/name); defaults to METRICS_REPOS")
}

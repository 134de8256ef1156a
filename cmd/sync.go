package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/repo-metrics/internal/config"
	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/gateway"
	"github.com/naka-gawa/repo-metrics/internal/usecase"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetches new activity of every repository and refreshes daily metrics",
	Long: `Fetches issues, pull requests with their reviews, comments, commits, CI runs
and stars changed since the previous run, upserts them, and recomputes the daily
metrics of the trailing METRICS_AGGREGATE_DAYS days.
A failing repository or entity type is reported but does not stop the others;
the command only fails when nothing could be synced at all.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringSlice("repos", nil, "Repositories to sync (name or owner/name); defaults to METRICS_REPOS")
	syncCmd.Flags().Int("workers", 0, "Repositories synced concurrently; defaults to METRICS_WORKERS")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.GithubToken == "" {
		e.logger.Warn("GITHUB_TOKEN is not set, nothing to sync")
		return nil
	}
	repos, err := reposFlag(cmd, e.cfg)
	if err != nil {
		return err
	}
	workers := e.cfg.Workers
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		workers = n
	}

	githubGateway, err := gateway.NewGitHubGateway(e.cfg.GithubToken, e.cfg.RateLimitMargin, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	summary, err := usecase.NewSyncer(githubGateway, e.store, workers, e.logger).Sync(ctx, repos)
	if err != nil {
		return fmt.Errorf("sync aborted: %w", err)
	}
	if summary.AllFailed() {
		return fmt.Errorf("every repository failed to sync: %w", summary.Err())
	}
	if err := summary.Err(); err != nil {
		e.logger.Warn("Sync finished with failures", "error", err)
	}

	to := domain.Day(time.Now())
	from := to.AddDate(0, 0, -(e.cfg.AggregateDays - 1))
	if err := usecase.NewAggregator(e.store, e.logger).AggregateAll(ctx, repoNames(repos), from, to); err != nil {
		return fmt.Errorf("failed to aggregate metrics: %w", err)
	}
	return nil
}

// reposFlag resolves --repos, falling back to the configured repositories.
func reposFlag(cmd *cobra.Command, cfg *config.Config) ([]domain.RepoRef, error) {
	names, _ := cmd.Flags().GetStringSlice("repos")
	if len(names) == 0 {
		return cfg.RepoRefs()
	}
	return config.ParseRepos(names, cfg.Org)
}

func repoNames(repos []domain.RepoRef) []string {
	out := make([]string, len(repos))
	for i, r := range repos {
		out[i] = r.String()
	}
	return out
}

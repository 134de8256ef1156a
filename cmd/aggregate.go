package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/usecase"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recomputes daily metrics from stored activity",
	Long: `Recomputes the daily metrics of a date range without contacting GitHub.
The result only depends on what is stored, so running it twice gives the same rows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		repos, err := reposFlag(cmd, e.cfg)
		if err != nil {
			return err
		}
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")

		to := domain.Day(time.Now())
		if toStr != "" {
			if to, err = time.Parse(domain.DateLayout, toStr); err != nil {
				return fmt.Errorf("invalid --to date, use YYYY-MM-DD: %w", err)
			}
		}
		from := to.AddDate(0, 0, -(e.cfg.AggregateDays - 1))
		if fromStr != "" {
			if from, err = time.Parse(domain.DateLayout, fromStr); err != nil {
				return fmt.Errorf("invalid --from date, use YYYY-MM-DD: %w", err)
			}
		}
		if from.After(to) {
			return fmt.Errorf("--from %s is after --to %s", from.Format(domain.DateLayout), to.Format(domain.DateLayout))
		}

		if err := usecase.NewAggregator(e.store, e.logger).AggregateAll(ctx, repoNames(repos), from, to); err != nil {
			return fmt.Errorf("failed to aggregate metrics: %w", err)
		}
		e.logger.Info("Aggregated daily metrics", "repos", len(repos),
			"from", from.Format(domain.DateLayout), "to", to.Format(domain.DateLayout))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().StringSlice("repos", nil, "Repositories to aggregate (name or owner/name); defaults to METRICS_REPOS")
	aggregateCmd.Flags().String("from", "", "First day (YYYY-MM-DD); defaults to METRICS_AGGREGATE_DAYS before --to")
	aggregateCmd.Flags().String("to", "", "Last day (YYYY-MM-DD); defaults to today (UTC)")
}

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/repo-metrics/internal/config"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

var loadGoalsCmd = &cobra.Command{
	Use:   "load-goals [path]",
	Short: "Replaces the stored metric goals with the contents of a YAML file",
	Long: `Reads metric goals (default goals.yaml) and replaces every stored goal with them.
Each entry maps a metric name to its value, direction (lower_is_better or
higher_is_better) and an optional warning_ratio (default 0.8).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := "goals.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		goals, err := config.LoadGoals(path)
		if err != nil {
			return err
		}

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.store.RunInTx(ctx, func(tx *storage.Tx) error {
			return tx.ReplaceGoals(ctx, goals)
		}); err != nil {
			return fmt.Errorf("failed to store goals: %w", err)
		}
		e.logger.Info("Goals loaded", "path", path, "goals", len(goals))
		return nil
	},
}

var listGoalsCmd = &cobra.Command{
	Use:   "list-goals",
	Short: "Prints the stored metric goals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		goals, err := e.store.Goals(cmd.Context())
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(goals))
		for _, g := range goals {
			rows = append(rows, []string{
				g.Metric,
				strconv.FormatFloat(g.Value, 'f', -1, 64),
				string(g.Direction),
				strconv.FormatFloat(g.WarningRatio, 'f', -1, 64),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"metric", "value", "direction", "warning_ratio"}, rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadGoalsCmd)
	rootCmd.AddCommand(listGoalsCmd)
}

package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Runs a read-only SQL query against the metrics database",
	Long: `Runs a SQL statement on a read-only connection and prints the result as a table.
Statements that would modify the database are rejected.`,
	Example: `  repo-metrics query "SELECT repo, date, prs_merged FROM daily_metrics ORDER BY date DESC LIMIT 7"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		res, err := e.store.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(res.Columns, res.Rows))
		fmt.Fprintf(cmd.OutOrStdout(), "(%d rows)\n", len(res.Rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		String()
}

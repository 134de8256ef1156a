package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/repo-metrics/internal/config"
	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

var loadTeamCmd = &cobra.Command{
	Use:   "load-team [path]",
	Short: "Replaces the team roster used to tell community contributions apart",
	Long: `Reads the team roster (default team.yaml, members: [login, ...]) or takes it
from --members, replaces the stored roster and re-marks every stored issue and
pull request as team or community work.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		members, _ := cmd.Flags().GetString("members")

		var (
			roster domain.TeamRoster
			err    error
			source = "--members"
		)
		switch {
		case members != "" && len(args) == 1:
			return fmt.Errorf("give either a roster file or --members, not both")
		case members != "":
			roster = config.ParseMembers(members)
		default:
			source = "team.yaml"
			if len(args) == 1 {
				source = args[0]
			}
			if roster, err = config.LoadTeam(source); err != nil {
				return err
			}
		}

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.store.RunInTx(ctx, func(tx *storage.Tx) error {
			return tx.ReplaceTeam(ctx, roster)
		}); err != nil {
			return fmt.Errorf("failed to store team: %w", err)
		}
		e.logger.Info("Team loaded", "source", source, "members", roster.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadTeamCmd)
	loadTeamCmd.Flags().String("members", "", "Comma separated team logins, instead of a roster file")
}

package storage

import (
	"context"
	"fmt"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// ReplaceGoals swaps the stored goal set for goals.
func (t *Tx) ReplaceGoals(ctx context.Context, goals []domain.Goal) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM goals`); err != nil {
		return fmt.Errorf("storage: clearing goals: %w", err)
	}
	for _, g := range goals {
		err := t.Upsert(ctx, domain.Row{
			Table:   "goals",
			Keys:    []string{"metric"},
			Columns: []string{"metric", "value", "direction", "warning_ratio"},
			Values:  []any{g.Metric, g.Value, string(g.Direction), g.WarningRatio},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Goals returns the stored goals ordered by metric name.
func (s *Store) Goals(ctx context.Context) ([]domain.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, value, direction, warning_ratio FROM goals ORDER BY metric`)
	if err != nil {
		return nil, fmt.Errorf("storage: reading goals: %w", err)
	}
	defer rows.Close()

	var goals []domain.Goal
	for rows.Next() {
		var (
			g   domain.Goal
			dir string
		)
		if err := rows.Scan(&g.Metric, &g.Value, &dir, &g.WarningRatio); err != nil {
			return nil, err
		}
		g.Direction = domain.Direction(dir)
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// ReplaceTeam swaps the stored roster and recomputes the community flag of
// every stored issue and pull request against it.
func (t *Tx) ReplaceTeam(ctx context.Context, roster domain.TeamRoster) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM team_members`); err != nil {
		return fmt.Errorf("storage: clearing team: %w", err)
	}
	for _, m := range roster.Members() {
		err := t.Upsert(ctx, domain.Row{
			Table:   "team_members",
			Keys:    []string{"username"},
			Columns: []string{"username"},
			Values:  []any{m},
		})
		if err != nil {
			return err
		}
	}
	for _, table := range []string{"issues", "pull_requests"} {
		_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET is_community = CASE
				WHEN author = '' OR author LIKE '%%[bot]' THEN 0
				WHEN lower(author) IN (SELECT username FROM team_members) THEN 0
				ELSE 1 END`, table))
		if err != nil {
			return fmt.Errorf("storage: refreshing community flag on %s: %w", table, err)
		}
	}
	return nil
}

// TeamRoster loads the stored roster.
func (s *Store) TeamRoster(ctx context.Context) (domain.TeamRoster, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM team_members ORDER BY username`)
	if err != nil {
		return domain.TeamRoster{}, fmt.Errorf("storage: reading team: %w", err)
	}
	defer rows.Close()

	var logins []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return domain.TeamRoster{}, err
		}
		logins = append(logins, l)
	}
	if err := rows.Err(); err != nil {
		return domain.TeamRoster{}, err
	}
	return domain.NewTeamRoster(logins), nil
}

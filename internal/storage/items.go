package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// OpenItem is a locally open entity the sweep re-checks upstream.
type OpenItem struct {
	Kind   domain.EntityType
	Repo   string
	ID     int64
	Number int
}

// OpenItems lists open, non-deleted issues and pull requests plus CI runs
// without a conclusion, ordered by kind and id.
func (s *Store) OpenItems(ctx context.Context, repo string) ([]OpenItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'issues', id, number FROM issues
			WHERE repo = ? AND state = 'open' AND deleted_at IS NULL
		UNION ALL
		SELECT 'pull_requests', id, number FROM pull_requests
			WHERE repo = ? AND state = 'open' AND deleted_at IS NULL
		UNION ALL
		SELECT 'ci_runs', id, 0 FROM ci_runs
			WHERE repo = ? AND conclusion = '' AND deleted_at IS NULL
		ORDER BY 1, 2`, repo, repo, repo)
	if err != nil {
		return nil, fmt.Errorf("storage: listing open items for %s: %w", repo, err)
	}
	defer rows.Close()

	var items []OpenItem
	for rows.Next() {
		item := OpenItem{Repo: repo}
		var kind string
		if err := rows.Scan(&kind, &item.ID, &item.Number); err != nil {
			return nil, err
		}
		item.Kind = domain.EntityType(kind)
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountOpen counts open, non-deleted items of one kind.
func (s *Store) CountOpen(ctx context.Context, kind domain.EntityType, repo string) (int, error) {
	var query string
	switch kind {
	case domain.EntityIssues, domain.EntityPullRequests:
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE repo = ? AND state = 'open' AND deleted_at IS NULL`, kind)
	case domain.EntityCIRuns:
		query = `SELECT COUNT(*) FROM ci_runs WHERE repo = ? AND conclusion = '' AND deleted_at IS NULL`
	default:
		return 0, fmt.Errorf("storage: %s has no open state", kind)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, repo).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: counting open %s: %w", kind, err)
	}
	return n, nil
}

// MarkDeleted closes an item that upstream no longer knows about. It is the
// only write that closes a row by absence.
func (t *Tx) MarkDeleted(ctx context.Context, item OpenItem, at time.Time) error {
	ts := domain.FormatTime(at)
	var err error
	switch item.Kind {
	case domain.EntityIssues, domain.EntityPullRequests:
		_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET state = 'closed', closed_at = COALESCE(closed_at, ?), deleted_at = ?
			WHERE repo = ? AND id = ? AND deleted_at IS NULL`, item.Kind),
			ts, ts, item.Repo, item.ID)
	case domain.EntityCIRuns:
		_, err = t.tx.ExecContext(ctx,
			`UPDATE ci_runs SET deleted_at = ? WHERE repo = ? AND id = ? AND deleted_at IS NULL`,
			ts, item.Repo, item.ID)
	default:
		return fmt.Errorf("storage: cannot mark %s deleted", item.Kind)
	}
	if err != nil {
		return fmt.Errorf("storage: marking %s %d deleted: %w", item.Kind, item.ID, err)
	}
	return nil
}

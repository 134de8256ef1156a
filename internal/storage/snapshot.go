package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// PullRequestFact is the slice of a pull request the aggregation needs.
type PullRequestFact struct {
	Number    int
	Author    string
	CreatedAt time.Time
	ClosedAt  *time.Time
	MergedAt  *time.Time
	Churn     int
	Community bool
}

// IssueFact is the slice of an issue the aggregation needs.
type IssueFact struct {
	Number    int
	Author    string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Response is a comment or review on an issue or pull request.
type Response struct {
	Number int
	Author string
	At     time.Time
}

// CIRunFact is a CI run reduced to its start time and outcome.
type CIRunFact struct {
	StartedAt  time.Time
	Conclusion string
}

// Snapshot is every raw row of one repository the aggregation reads, each
// slice in a fixed order.
type Snapshot struct {
	Repo         string
	PullRequests []PullRequestFact
	Issues       []IssueFact
	Responses    []Response
	Commits      []time.Time
	CIRuns       []CIRunFact
	Stars        []time.Time
}

// LoadSnapshot reads the raw tables of repo inside one read transaction so the
// aggregation sees a consistent view.
func (s *Store) LoadSnapshot(ctx context.Context, repo string) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("storage: begin snapshot: %w", err)
	}
	defer tx.Rollback()

	snap := &Snapshot{Repo: repo}
	steps := []func(context.Context, *sql.Tx, *Snapshot) error{
		loadPullRequests, loadIssues, loadResponses, loadCommits, loadCIRuns, loadStars,
	}
	for _, step := range steps {
		if err := step(ctx, tx, snap); err != nil {
			return nil, fmt.Errorf("storage: loading snapshot for %s: %w", repo, err)
		}
	}
	return snap, nil
}

func loadPullRequests(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT number, author, created_at, closed_at, merged_at, additions + deletions, is_community
		FROM pull_requests WHERE repo = ? ORDER BY id`, snap.Repo)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f                  PullRequestFact
			created            string
			closed, mergedTime sql.NullString
		)
		if err := rows.Scan(&f.Number, &f.Author, &created, &closed, &mergedTime, &f.Churn, &f.Community); err != nil {
			return err
		}
		if f.CreatedAt, err = domain.ParseTime(created); err != nil {
			return err
		}
		if f.ClosedAt, err = parseNullTime(closed); err != nil {
			return err
		}
		if f.MergedAt, err = parseNullTime(mergedTime); err != nil {
			return err
		}
		snap.PullRequests = append(snap.PullRequests, f)
	}
	return rows.Err()
}

func loadIssues(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT number, author, created_at, closed_at
		FROM issues WHERE repo = ? ORDER BY id`, snap.Repo)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f       IssueFact
			created string
			closed  sql.NullString
		)
		if err := rows.Scan(&f.Number, &f.Author, &created, &closed); err != nil {
			return err
		}
		if f.CreatedAt, err = domain.ParseTime(created); err != nil {
			return err
		}
		if f.ClosedAt, err = parseNullTime(closed); err != nil {
			return err
		}
		snap.Issues = append(snap.Issues, f)
	}
	return rows.Err()
}

func loadResponses(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT parent_number, author, created_at FROM comments WHERE repo = ?
		UNION ALL
		SELECT pr_number, reviewer, submitted_at FROM reviews WHERE repo = ?
		ORDER BY 1, 3, 2`, snap.Repo, snap.Repo)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r  Response
			at string
		)
		if err := rows.Scan(&r.Number, &r.Author, &at); err != nil {
			return err
		}
		if r.At, err = domain.ParseTime(at); err != nil {
			return err
		}
		snap.Responses = append(snap.Responses, r)
	}
	return rows.Err()
}

func loadCommits(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	times, err := loadTimes(ctx, tx, `SELECT committed_at FROM commits WHERE repo = ? ORDER BY committed_at, sha`, snap.Repo)
	snap.Commits = times
	return err
}

func loadStars(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	times, err := loadTimes(ctx, tx, `SELECT starred_at FROM star_events WHERE repo = ? ORDER BY starred_at, user`, snap.Repo)
	snap.Stars = times
	return err
}

func loadCIRuns(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT started_at, conclusion FROM ci_runs
		WHERE repo = ? AND deleted_at IS NULL ORDER BY id`, snap.Repo)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f       CIRunFact
			started string
		)
		if err := rows.Scan(&started, &f.Conclusion); err != nil {
			return err
		}
		if f.StartedAt, err = domain.ParseTime(started); err != nil {
			return err
		}
		snap.CIRuns = append(snap.CIRuns, f)
	}
	return rows.Err()
}

func loadTimes(ctx context.Context, tx *sql.Tx, query, repo string) ([]time.Time, error) {
	rows, err := tx.QueryContext(ctx, query, repo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		t, err := domain.ParseTime(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := domain.ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

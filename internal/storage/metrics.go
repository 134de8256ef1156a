package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

var dailyMetricColumns = []string{
	"repo", "date", "prs_opened", "prs_merged", "prs_closed", "issues_opened", "issues_closed",
	"commits", "avg_merge_time_hours", "median_merge_time_hours", "avg_first_response_hours",
	"ci_runs", "ci_failure_rate", "code_churn", "cumulative_stars", "community_pr_pct",
	"open_prs", "open_issues",
}

func dailyMetricRow(m domain.DailyMetric) domain.Row {
	return domain.Row{
		Table:   "daily_metrics",
		Keys:    []string{"repo", "date"},
		Columns: dailyMetricColumns,
		Values: []any{
			m.Repo, m.Date.Format(domain.DateLayout), m.PRsOpened, m.PRsMerged, m.PRsClosed,
			m.IssuesOpened, m.IssuesClosed, m.Commits, nullFloat(m.AvgMergeTimeHours),
			nullFloat(m.MedianMergeTimeHours), nullFloat(m.AvgFirstResponseHours),
			m.CIRuns, nullFloat(m.CIFailureRate), m.CodeChurn, m.CumulativeStars,
			nullFloat(m.CommunityPRPct), m.OpenPRs, m.OpenIssues,
		},
	}
}

// ReplaceDailyMetrics deletes every row of repo in [from, to] and inserts rows
// in their place. Rows are never patched column by column.
func (t *Tx) ReplaceDailyMetrics(ctx context.Context, repo string, from, to time.Time, rows []domain.DailyMetric) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM daily_metrics WHERE repo = ? AND date >= ? AND date <= ?`,
		repo, from.Format(domain.DateLayout), to.Format(domain.DateLayout)); err != nil {
		return fmt.Errorf("storage: clearing daily metrics for %s: %w", repo, err)
	}
	for _, m := range rows {
		if err := t.Upsert(ctx, dailyMetricRow(m)); err != nil {
			return err
		}
	}
	return nil
}

// DailyMetrics reads the stored rows of repo in [from, to], ordered by date.
func (s *Store) DailyMetrics(ctx context.Context, repo string, from, to time.Time) ([]domain.DailyMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo, date, prs_opened, prs_merged, prs_closed, issues_opened, issues_closed,
			commits, avg_merge_time_hours, median_merge_time_hours, avg_first_response_hours,
			ci_runs, ci_failure_rate, code_churn, cumulative_stars, community_pr_pct,
			open_prs, open_issues
		FROM daily_metrics WHERE repo = ? AND date >= ? AND date <= ? ORDER BY date`,
		repo, from.Format(domain.DateLayout), to.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: reading daily metrics for %s: %w", repo, err)
	}
	defer rows.Close()

	var out []domain.DailyMetric
	for rows.Next() {
		var (
			m                                   domain.DailyMetric
			date                                string
			avgMerge, medMerge, avgResp, ciRate sql.NullFloat64
			community                           sql.NullFloat64
		)
		if err := rows.Scan(&m.Repo, &date, &m.PRsOpened, &m.PRsMerged, &m.PRsClosed,
			&m.IssuesOpened, &m.IssuesClosed, &m.Commits, &avgMerge, &medMerge, &avgResp,
			&m.CIRuns, &ciRate, &m.CodeChurn, &m.CumulativeStars, &community,
			&m.OpenPRs, &m.OpenIssues); err != nil {
			return nil, err
		}
		if m.Date, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, fmt.Errorf("storage: bad metric date %q: %w", date, err)
		}
		m.AvgMergeTimeHours = floatPtr(avgMerge)
		m.MedianMergeTimeHours = floatPtr(medMerge)
		m.AvgFirstResponseHours = floatPtr(avgResp)
		m.CIFailureRate = floatPtr(ciRate)
		m.CommunityPRPct = floatPtr(community)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

// Aggregator is the use case for deriving daily metrics from the raw tables.
// It never talks to upstream.
type Aggregator struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(store *storage.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger,
	}
}

// AggregateAll recomputes [from, to] for every repository concurrently.
func (a *Aggregator) AggregateAll(ctx context.Context, repos []string, from, to time.Time) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, repo := range repos {
		eg.Go(func() error {
			_, err := a.Aggregate(egCtx, repo, from, to)
			return err
		})
	}
	return eg.Wait()
}

// Aggregate recomputes the daily metrics of repo for every UTC day in
// [from, to] and replaces the stored rows of that range in one transaction.
func (a *Aggregator) Aggregate(ctx context.Context, repo string, from, to time.Time) ([]domain.DailyMetric, error) {
	from, to = domain.Day(from), domain.Day(to)
	snap, err := a.store.LoadSnapshot(ctx, repo)
	if err != nil {
		return nil, err
	}
	rows := ComputeDailyMetrics(snap, from, to)
	err = a.store.RunInTx(ctx, func(tx *storage.Tx) error {
		return tx.ReplaceDailyMetrics(ctx, repo, from, to, rows)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Aggregated daily metrics", "repo", repo,
		"from", from.Format(domain.DateLayout), "to", to.Format(domain.DateLayout), "days", len(rows))
	return rows, nil
}

// dayAcc collects the raw samples of one day before they are reduced.
type dayAcc struct {
	metric        domain.DailyMetric
	mergeHours    []float64
	responseHours []float64
	ciCompleted   int
	ciFailed      int
	communityPRs  int
}

// ComputeDailyMetrics derives one row per day in [from, to] from snap. The
// result depends only on its arguments.
func ComputeDailyMetrics(snap *storage.Snapshot, from, to time.Time) []domain.DailyMetric {
	from, to = domain.Day(from), domain.Day(to)
	if to.Before(from) {
		return nil
	}

	var days []*dayAcc
	index := make(map[time.Time]*dayAcc)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		acc := &dayAcc{metric: domain.DailyMetric{Repo: snap.Repo, Date: d}}
		days = append(days, acc)
		index[d] = acc
	}
	at := func(t time.Time) *dayAcc { return index[domain.Day(t)] }

	firstResponse := earliestResponses(snap.Responses)
	responseHours := func(number int, author string, created time.Time) (float64, bool) {
		for _, r := range firstResponse[number] {
			if r.Author != author && !r.At.Before(created) {
				return r.At.Sub(created).Hours(), true
			}
		}
		return 0, false
	}

	for _, pr := range snap.PullRequests {
		if acc := at(pr.CreatedAt); acc != nil {
			acc.metric.PRsOpened++
			if pr.Community {
				acc.communityPRs++
			}
			if h, ok := responseHours(pr.Number, pr.Author, pr.CreatedAt); ok {
				acc.responseHours = append(acc.responseHours, h)
			}
		}
		switch {
		case pr.MergedAt != nil:
			if acc := at(*pr.MergedAt); acc != nil {
				acc.metric.PRsMerged++
				acc.metric.CodeChurn += pr.Churn
				acc.mergeHours = append(acc.mergeHours, pr.MergedAt.Sub(pr.CreatedAt).Hours())
			}
		case pr.ClosedAt != nil:
			if acc := at(*pr.ClosedAt); acc != nil {
				acc.metric.PRsClosed++
			}
		}
	}

	for _, is := range snap.Issues {
		if acc := at(is.CreatedAt); acc != nil {
			acc.metric.IssuesOpened++
			if h, ok := responseHours(is.Number, is.Author, is.CreatedAt); ok {
				acc.responseHours = append(acc.responseHours, h)
			}
		}
		if is.ClosedAt != nil {
			if acc := at(*is.ClosedAt); acc != nil {
				acc.metric.IssuesClosed++
			}
		}
	}

	for _, c := range snap.Commits {
		if acc := at(c); acc != nil {
			acc.metric.Commits++
		}
	}

	for _, run := range snap.CIRuns {
		acc := at(run.StartedAt)
		if acc == nil {
			continue
		}
		acc.metric.CIRuns++
		if run.Conclusion == "" {
			continue
		}
		acc.ciCompleted++
		if run.Conclusion == domain.ConclusionFailure || run.Conclusion == domain.ConclusionTimedOut {
			acc.ciFailed++
		}
	}

	out := make([]domain.DailyMetric, 0, len(days))
	for _, acc := range days {
		eod := acc.metric.Date.AddDate(0, 0, 1)
		m := acc.metric
		m.AvgMergeTimeHours = mean(acc.mergeHours)
		m.MedianMergeTimeHours = median(acc.mergeHours)
		m.AvgFirstResponseHours = mean(acc.responseHours)
		if acc.ciCompleted > 0 {
			rate := float64(acc.ciFailed) / float64(acc.ciCompleted)
			m.CIFailureRate = &rate
		}
		if m.PRsOpened > 0 {
			pct := float64(acc.communityPRs) / float64(m.PRsOpened) * 100
			m.CommunityPRPct = &pct
		}
		m.CumulativeStars = countBefore(snap.Stars, eod)
		m.OpenPRs = openPRsAt(snap.PullRequests, eod)
		m.OpenIssues = openIssuesAt(snap.Issues, eod)
		out = append(out, m)
	}
	return out
}

// earliestResponses groups responses by item number, each group ordered by time.
func earliestResponses(responses []storage.Response) map[int][]storage.Response {
	out := make(map[int][]storage.Response)
	for _, r := range responses {
		out[r.Number] = append(out[r.Number], r)
	}
	for _, rs := range out {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].At.Before(rs[j].At) })
	}
	return out
}

func mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	v, err := stats.Mean(xs)
	if err != nil {
		return nil
	}
	return &v
}

func median(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	v, err := stats.Median(xs)
	if err != nil {
		return nil
	}
	return &v
}

// countBefore counts timestamps strictly before t.
func countBefore(times []time.Time, t time.Time) int {
	n := 0
	for _, x := range times {
		if x.Before(t) {
			n++
		}
	}
	return n
}

// openPRsAt counts pull requests created before t and neither closed nor merged by then.
func openPRsAt(prs []storage.PullRequestFact, t time.Time) int {
	n := 0
	for _, pr := range prs {
		if !pr.CreatedAt.Before(t) {
			continue
		}
		ended := pr.ClosedAt
		if ended == nil {
			ended = pr.MergedAt
		}
		if ended == nil || !ended.Before(t) {
			n++
		}
	}
	return n
}

func openIssuesAt(issues []storage.IssueFact, t time.Time) int {
	n := 0
	for _, is := range issues {
		if is.CreatedAt.Before(t) && (is.ClosedAt == nil || !is.ClosedAt.Before(t)) {
			n++
		}
	}
	return n
}

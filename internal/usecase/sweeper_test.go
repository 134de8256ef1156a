package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	created := mustTime("2024-02-01T00:00:00Z")
	putRecords(t, store,
		&domain.Issue{ID: 101, Repo: repoA.String(), Number: 1, State: domain.StateOpen, CreatedAt: created, UpdatedAt: created},
		&domain.PullRequest{ID: 102, Repo: repoA.String(), Number: 2, State: domain.StateOpen, CreatedAt: created, UpdatedAt: created},
		&domain.Issue{ID: 103, Repo: repoA.String(), Number: 3, State: domain.StateOpen, CreatedAt: created, UpdatedAt: created},
		&domain.Issue{ID: 104, Repo: repoA.String(), Number: 4, State: domain.StateClosed, CreatedAt: created, UpdatedAt: created,
			ClosedAt: mustTimePtr("2024-02-02T00:00:00Z")},
		&domain.CIRun{ID: 900, Repo: repoA.String(), CreatedAt: created, UpdatedAt: created, StartedAt: created},
	)

	m := &mockFetcher{}
	// #1 was deleted upstream
	m.On("FetchItem", mock.Anything, domain.EntityIssues, repoA, int64(1)).
		Return(nil, &domain.FetchError{Entity: domain.EntityIssues, Repo: repoA.String(), ID: "1",
			Err: fmt.Errorf("%w: 410 Gone", domain.ErrNotFound)})
	// #2 was merged
	m.On("FetchItem", mock.Anything, domain.EntityPullRequests, repoA, int64(2)).Return([]domain.Record{
		&domain.PullRequest{ID: 102, Repo: repoA.String(), Number: 2, Author: "mallory", State: domain.StateMerged,
			CreatedAt: created, UpdatedAt: mustTime("2024-02-03T00:00:00Z"),
			ClosedAt: mustTimePtr("2024-02-03T00:00:00Z"), MergedAt: mustTimePtr("2024-02-03T00:00:00Z")},
	}, nil)
	// #3 cannot be checked right now
	m.On("FetchItem", mock.Anything, domain.EntityIssues, repoA, int64(3)).
		Return(nil, fmt.Errorf("%w: 502", domain.ErrTransient))
	// the run finished
	m.On("FetchItem", mock.Anything, domain.EntityCIRuns, repoA, int64(900)).Return([]domain.Record{
		&domain.CIRun{ID: 900, Repo: repoA.String(), Conclusion: domain.ConclusionSuccess, CreatedAt: created,
			UpdatedAt: mustTime("2024-02-01T00:10:00Z"), StartedAt: created,
			CompletedAt: mustTimePtr("2024-02-01T00:10:00Z")},
	}, nil)

	sweeper := NewSweeper(m, store, 2, discardLogger())
	sweeper.now = func() time.Time { return mustTime("2024-03-01T12:00:00Z") }

	results, err := sweeper.Sweep(ctx, []domain.RepoRef{repoA})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SweepResult{Repo: repoA.String(), Checked: 4, Refreshed: 2, Deleted: 1, Failed: 1}, results[0])

	assert.Equal(t, [][]string{
		{"1", "closed", "2024-03-01T12:00:00Z", "2024-03-01T12:00:00Z"},
		{"3", "open", "NULL", "NULL"},
		{"4", "closed", "2024-02-02T00:00:00Z", "NULL"},
	}, queryRows(t, store, "SELECT number, state, closed_at, deleted_at FROM issues ORDER BY number"))
	assert.Equal(t, [][]string{{"merged", "1"}},
		queryRows(t, store, "SELECT state, is_community FROM pull_requests"))
	assert.Equal(t, [][]string{{"success"}}, queryRows(t, store, "SELECT conclusion FROM ci_runs"))
	assert.Equal(t, [][]string{{"0"}}, queryRows(t, store, "SELECT COUNT(*) FROM sync_cursors"))

	// a closed item is never re-checked
	m.AssertNotCalled(t, "FetchItem", mock.Anything, domain.EntityIssues, repoA, int64(4))

	open, err := store.CountOpen(ctx, domain.EntityIssues, repoA.String())
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestSweeper_BatchesLargeRepositories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	created := mustTime("2024-02-01T00:00:00Z")
	var recs []domain.Record
	for n := 1; n <= sweepBatchSize*2+5; n++ {
		recs = append(recs, &domain.Issue{ID: int64(n), Repo: repoA.String(), Number: n, State: domain.StateOpen,
			CreatedAt: created, UpdatedAt: created})
	}
	putRecords(t, store, recs...)

	m := &mockFetcher{}
	m.On("FetchItem", mock.Anything, domain.EntityIssues, repoA, mock.Anything).
		Return(nil, domain.ErrNotFound)

	results, err := NewSweeper(m, store, 1, discardLogger()).Sweep(ctx, []domain.RepoRef{repoA})
	require.NoError(t, err)
	assert.Equal(t, sweepBatchSize*2+5, results[0].Deleted)

	open, err := store.CountOpen(ctx, domain.EntityIssues, repoA.String())
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestSweeper_VanishedPullRequestIsClosedAndDeleted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	created := mustTime("2024-02-01T00:00:00Z")
	putRecords(t, store,
		&domain.PullRequest{ID: 202, Repo: repoA.String(), Number: 7, Author: "alice", State: domain.StateOpen,
			CreatedAt: created, UpdatedAt: created},
	)
	open, err := store.CountOpen(ctx, domain.EntityPullRequests, repoA.String())
	require.NoError(t, err)
	require.Equal(t, 1, open)

	m := &mockFetcher{}
	m.On("FetchItem", mock.Anything, domain.EntityPullRequests, repoA, int64(7)).
		Return(nil, &domain.FetchError{Entity: domain.EntityPullRequests, Repo: repoA.String(), ID: "7",
			Err: fmt.Errorf("%w: 404 Not Found", domain.ErrNotFound)})

	sweeper := NewSweeper(m, store, 1, discardLogger())
	sweeper.now = func() time.Time { return mustTime("2024-03-01T12:00:00Z") }

	results, err := sweeper.Sweep(ctx, []domain.RepoRef{repoA})
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Repo: repoA.String(), Checked: 1, Deleted: 1}, results[0])

	assert.Equal(t, [][]string{{"7", "closed", "2024-03-01T12:00:00Z", "2024-03-01T12:00:00Z", "NULL"}},
		queryRows(t, store, "SELECT number, state, closed_at, deleted_at, merged_at FROM pull_requests"))
	open, err = store.CountOpen(ctx, domain.EntityPullRequests, repoA.String())
	require.NoError(t, err)
	assert.Zero(t, open)

	// a second sweep has nothing left to check
	results, err = sweeper.Sweep(ctx, []domain.RepoRef{repoA})
	require.NoError(t, err)
	assert.Zero(t, results[0].Checked)
	m.AssertNumberOfCalls(t, "FetchItem", 1)
}

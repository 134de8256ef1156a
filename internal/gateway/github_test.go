package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

var testRepo = domain.RepoRef{Owner: "o", Name: "r"}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP server.
// Retries run without delay and quota sleeps return at once.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// Setup REST client to point to the mock server.
	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	// Use NewEnterpriseClient to point the GraphQL client to our mock server's URL.
	graphqlClient := githubv4.NewEnterpriseClient(server.URL, server.Client())

	quota := NewQuota(50, discardLogger())
	quota.sleep = func(context.Context, time.Duration) error { return nil }

	gw := newGitHubGateway(restClient, graphqlClient, quota, discardLogger())
	gw.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return gw, server
}

func TestGitHubGateway_FetchIssues(t *testing.T) {
	var gotQuery url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Link", `<http://`+r.Host+`/repos/o/r/issues?page=3>; rel="next"`)
		fmt.Fprint(w, `[
			{"id": 11, "number": 1, "title": "bug", "state": "open", "user": {"login": "alice"},
			 "labels": [{"name": "bug"}],
			 "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-02T00:00:00Z"},
			{"id": 12, "number": 2, "state": "open", "user": {"login": "bob"},
			 "pull_request": {"url": "x"},
			 "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-03T00:00:00Z"},
			{"id": 13, "number": 3, "state": "closed", "user": {"login": "carol"},
			 "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-04T00:00:00Z",
			 "closed_at": "2024-01-04T00:00:00Z"},
			{"id": 14, "number": 4, "state": "open"}
		]`)
	})
	gw, _ := setupTestGateway(t, mux)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err := gw.FetchPage(context.Background(), domain.EntityIssues, testRepo, domain.PageCursor{Since: since, Token: "2"})
	require.NoError(t, err)

	assert.Equal(t, "updated", gotQuery.Get("sort"))
	assert.Equal(t, "asc", gotQuery.Get("direction"))
	assert.Equal(t, "all", gotQuery.Get("state"))
	assert.Equal(t, "2", gotQuery.Get("page"))
	assert.Equal(t, "2024-01-01T00:00:00Z", gotQuery.Get("since"))
	assert.Equal(t, "3", page.Next)
	assert.Empty(t, page.Resume)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), page.Until)

	require.Len(t, page.Records, 2)
	first := page.Records[0].(*domain.Issue)
	assert.Equal(t, int64(11), first.ID)
	assert.Equal(t, "o/r", first.Repo)
	assert.Equal(t, "alice", first.Author)
	assert.Equal(t, []string{"bug"}, first.Labels)
	closed := page.Records[1].(*domain.Issue)
	assert.Equal(t, domain.StateClosed, closed.State)
	require.NotNil(t, closed.ClosedAt)
}

func TestGitHubGateway_FetchPullRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 1, "number": 7, "state": "closed", "pull_request": {"url": "x"},
			"created_at": "2024-03-01T00:00:00Z", "updated_at": "2024-03-02T00:00:00Z"}]`)
	})
	mux.HandleFunc("/repos/o/r/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 70, "number": 7, "state": "closed", "user": {"login": "alice"},
			"additions": 10, "deletions": 4,
			"created_at": "2024-03-01T00:00:00Z", "updated_at": "2024-03-02T00:00:00Z",
			"closed_at": "2024-03-01T06:00:00Z", "merged_at": "2024-03-01T06:00:00Z"}`)
	})
	mux.HandleFunc("/repos/o/r/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "user": {"login": "alice"}, "state": "COMMENTED", "submitted_at": "2024-03-01T00:30:00Z"},
			{"id": 2, "user": {"login": "bob"}, "state": "CHANGES_REQUESTED", "submitted_at": "2024-03-01T01:00:00Z"},
			{"id": 3, "user": {"login": "bob"}, "state": "APPROVED", "submitted_at": "2024-03-01T05:00:00Z"},
			{"id": 4, "user": {"login": "carol"}, "state": "PENDING"}
		]`)
	})
	gw, _ := setupTestGateway(t, mux)

	page, err := gw.FetchPage(context.Background(), domain.EntityPullRequests, testRepo, domain.PageCursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 4)

	pr := page.Records[0].(*domain.PullRequest)
	assert.Equal(t, domain.StateMerged, pr.State)
	assert.Equal(t, 10, pr.Additions)
	assert.Equal(t, 4, pr.Deletions)
	require.NotNil(t, pr.FirstReviewAt)
	assert.Equal(t, time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC), *pr.FirstReviewAt)
	require.NotNil(t, pr.ApprovedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC), *pr.ApprovedAt)

	review := page.Records[3].(*domain.Review)
	assert.Equal(t, domain.ReviewApproved, review.State)
	assert.Equal(t, int64(70), review.PullRequestID)
}

func TestGitHubGateway_FetchCommentsAndRuns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/issues/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 5, "user": {"login": "dave"}, "issue_url": "https://api.github.com/repos/o/r/issues/42",
			"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T01:00:00Z"}]`)
	})
	var created string
	mux.HandleFunc("/repos/o/r/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		created = r.URL.Query().Get("created")
		fmt.Fprint(w, `{"total_count": 2, "workflow_runs": [
			{"id": 2, "status": "in_progress", "created_at": "2024-01-02T00:00:00Z", "updated_at": "2024-01-02T00:01:00Z"},
			{"id": 1, "status": "completed", "conclusion": "failure", "created_at": "2024-01-01T00:00:00Z",
			 "run_started_at": "2024-01-01T00:00:10Z", "updated_at": "2024-01-01T00:10:00Z"}
		]}`)
	})
	gw, _ := setupTestGateway(t, mux)
	ctx := context.Background()

	page, err := gw.FetchPage(ctx, domain.EntityComments, testRepo, domain.PageCursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, 42, page.Records[0].(*domain.Comment).ParentNumber)
	assert.Empty(t, page.Next)

	since := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	page, err = gw.FetchPage(ctx, domain.EntityCIRuns, testRepo, domain.PageCursor{Since: since})
	require.NoError(t, err)
	assert.Equal(t, ">=2024-01-01", created)
	require.Len(t, page.Records, 2)
	running := page.Records[0].(*domain.CIRun)
	assert.Empty(t, running.Conclusion)
	assert.Nil(t, running.CompletedAt)
	done := page.Records[1].(*domain.CIRun)
	assert.Equal(t, domain.ConclusionFailure, done.Conclusion)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC), done.StartedAt)
}

func TestGitHubGateway_FetchStargazers(t *testing.T) {
	var gotCursor any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, decodeJSON(r.Body, &body))
		gotCursor = body.Variables["cursor"]
		fmt.Fprint(w, `{"data": {"repository": {"stargazers": {
			"pageInfo": {"hasNextPage": false, "endCursor": "Y3Vyc29yOjI="},
			"edges": [
				{"starredAt": "2024-01-02T03:04:05Z", "node": {"login": "octocat"}},
				{"starredAt": "2024-01-03T03:04:05Z", "node": {"login": ""}}
			]}}}}`)
	})
	gw, _ := setupTestGateway(t, handler)

	page, err := gw.FetchPage(context.Background(), domain.EntityStars, testRepo, domain.PageCursor{Token: "Y3Vyc29yOjE="})
	require.NoError(t, err)

	assert.Equal(t, "Y3Vyc29yOjE=", gotCursor)
	assert.Empty(t, page.Next)
	assert.Equal(t, "Y3Vyc29yOjI=", page.Resume)
	require.Len(t, page.Records, 1)
	star := page.Records[0].(*domain.StarEvent)
	assert.Equal(t, "octocat", star.User)
}

func TestGitHubGateway_Retry(t *testing.T) {
	testCases := []struct {
		name        string
		responses   []int
		expectCalls int32
		expectErr   error
	}{
		{
			name:        "transient failure is retried",
			responses:   []int{http.StatusBadGateway, http.StatusOK},
			expectCalls: 2,
		},
		{
			name:        "not found is not retried",
			responses:   []int{http.StatusNotFound},
			expectCalls: 1,
			expectErr:   domain.ErrNotFound,
		},
		{
			name:        "gone maps to not found",
			responses:   []int{http.StatusGone},
			expectCalls: 1,
			expectErr:   domain.ErrNotFound,
		},
		{
			name:        "retries are bounded",
			responses:   []int{http.StatusInternalServerError},
			expectCalls: maxRetries + 1,
			expectErr:   domain.ErrTransient,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tc.responses[min(n, len(tc.responses)-1)]
				w.WriteHeader(status)
				if status == http.StatusOK {
					fmt.Fprint(w, `{"id": 1, "number": 3, "state": "open",
						"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T00:00:00Z"}`)
					return
				}
				fmt.Fprint(w, `{"message": "boom"}`)
			})
			gw, _ := setupTestGateway(t, handler)

			recs, err := gw.FetchItem(context.Background(), domain.EntityIssues, testRepo, 3)
			assert.Equal(t, tc.expectCalls, calls.Load())
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, recs, 1)
		})
	}
}

func TestGitHubGateway_RateLimitErrorWaitsForReset(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Limit", "5000")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
			return
		}
		fmt.Fprint(w, `{"id": 9, "status": "completed", "conclusion": "success",
			"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T00:05:00Z"}`)
	})
	gw, _ := setupTestGateway(t, handler)

	recs, err := gw.FetchItem(context.Background(), domain.EntityCIRuns, testRepo, 9)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, domain.ConclusionSuccess, recs[0].(*domain.CIRun).Conclusion)
}

func TestGitHubGateway_FetchRepository(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"full_name": "o/r", "default_branch": "main", "private": false}`)
	})
	gw, _ := setupTestGateway(t, mux)

	repo, err := gw.FetchRepository(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, &domain.Repository{Name: "o/r", DefaultBranch: "main", Visibility: "public"}, repo)
}

func TestGitHubGateway_FetchItem(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/issues/3", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
		fmt.Fprint(w, `{"message": "This issue was deleted"}`)
	})
	mux.HandleFunc("/repos/o/r/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 70, "number": 7, "state": "closed", "user": {"login": "alice"},
			"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-02T00:00:00Z",
			"closed_at": "2024-01-02T00:00:00Z", "merged_at": "2024-01-02T00:00:00Z",
			"additions": 4, "deletions": 2}`)
	})
	mux.HandleFunc("/repos/o/r/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/repos/o/r/actions/runs/900", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 900, "status": "completed", "conclusion": "success",
			"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T00:05:00Z"}`)
	})
	gw, _ := setupTestGateway(t, mux)
	ctx := context.Background()

	_, err := gw.FetchItem(ctx, domain.EntityIssues, testRepo, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "3", fetchErr.ID)
	assert.Equal(t, int32(1), calls.Load(), "not found must not be retried")

	recs, err := gw.FetchItem(ctx, domain.EntityPullRequests, testRepo, 7)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	pr := recs[0].(*domain.PullRequest)
	assert.Equal(t, domain.StateMerged, pr.State)
	assert.Equal(t, 4, pr.Additions)

	recs, err = gw.FetchItem(ctx, domain.EntityCIRuns, testRepo, 900)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	run := recs[0].(*domain.CIRun)
	assert.Equal(t, domain.ConclusionSuccess, run.Conclusion)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC), *run.CompletedAt)

	_, err = gw.FetchItem(ctx, domain.EntityStars, testRepo, 1)
	require.Error(t, err)
}

// Package gateway provides a gateway to the GitHub API and the package registries,
// abstracting away the underlying REST and GraphQL clients, pagination, quota and retries.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// Page is one page of an entity stream. An empty Next marks the end of the stream.
// Resume is a continuation token worth persisting in the sync cursor; only
// streams that cannot be filtered by timestamp set it.
// Until is the newest updated_at among every row the listing returned,
// including rows filtered out of Records; zero for streams without a since filter.
type Page struct {
	Records []domain.Record
	Next    string
	Resume  string
	Until   time.Time
}

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	FetchRepository(ctx context.Context, repo domain.RepoRef) (*domain.Repository, error)
	// FetchPage returns the page of entity records addressed by cursor.
	FetchPage(ctx context.Context, entity domain.EntityType, repo domain.RepoRef, cursor domain.PageCursor) (*Page, error)
	// FetchItem re-reads one issue, pull request (by number) or CI run (by id).
	// A vanished item yields an error matching domain.ErrNotFound.
	FetchItem(ctx context.Context, kind domain.EntityType, repo domain.RepoRef, key int64) ([]domain.Record, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	quota         *Quota
	logger        *slog.Logger

	// newBackOff builds the retry schedule of one call.
	newBackOff func() backoff.BackOff
}

const (
	perPage = 100
	// maxRetries bounds the retries of one upstream call after the first attempt.
	maxRetries = 5
	// maxRateLimitWait caps a single wait for a primary rate limit reset.
	maxRateLimitWait = time.Hour
)

// NewGitHubGateway creates a gateway authenticated with token. The client sleeps
// until the quota resets once fewer than margin requests remain.
func NewGitHubGateway(token string, margin int, logger *slog.Logger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	quota := NewQuota(margin, logger)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   &quotaTransport{base: rateLimitWaiter, quota: quota},
			Source: ts,
		},
	}
	return newGitHubGateway(github.NewClient(httpClient), githubv4.NewClient(httpClient), quota, logger), nil
}

func newGitHubGateway(rest *github.Client, gql *githubv4.Client, quota *Quota, logger *slog.Logger) *GitHubGateway {
	return &GitHubGateway{
		restClient:    rest,
		graphqlClient: gql,
		quota:         quota,
		logger:        logger,
		newBackOff:    defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// FetchRepository reads the repository metadata row.
func (g *GitHubGateway) FetchRepository(ctx context.Context, repo domain.RepoRef) (*domain.Repository, error) {
	var r *github.Repository
	err := g.withRetry(ctx, "get repository "+repo.String(), func() error {
		var err error
		r, _, err = g.restClient.Repositories.Get(ctx, repo.Owner, repo.Name)
		return err
	})
	if err != nil {
		return nil, &domain.FetchError{Entity: domain.EntityRepositories, Repo: repo.String(), Err: err}
	}
	visibility := r.GetVisibility()
	if visibility == "" {
		visibility = "public"
		if r.GetPrivate() {
			visibility = "private"
		}
	}
	return &domain.Repository{
		Name:          repo.String(),
		DefaultBranch: r.GetDefaultBranch(),
		Visibility:    visibility,
	}, nil
}

// FetchPage dispatches to the per-entity stream.
func (g *GitHubGateway) FetchPage(ctx context.Context, entity domain.EntityType, repo domain.RepoRef, cursor domain.PageCursor) (*Page, error) {
	var (
		page *Page
		err  error
	)
	switch entity {
	case domain.EntityIssues:
		page, err = g.fetchIssues(ctx, repo, cursor, false)
	case domain.EntityPullRequests:
		page, err = g.fetchIssues(ctx, repo, cursor, true)
	case domain.EntityComments:
		page, err = g.fetchComments(ctx, repo, cursor)
	case domain.EntityCommits:
		page, err = g.fetchCommits(ctx, repo, cursor)
	case domain.EntityCIRuns:
		page, err = g.fetchCIRuns(ctx, repo, cursor)
	case domain.EntityStars:
		page, err = g.fetchStargazers(ctx, repo, cursor)
	default:
		return nil, fmt.Errorf("gateway: no stream for entity %q", entity)
	}
	if err != nil {
		return nil, &domain.FetchError{Entity: entity, Repo: repo.String(), Err: err}
	}
	return page, nil
}

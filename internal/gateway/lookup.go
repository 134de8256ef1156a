package gateway

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/go-github/v62/github"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// FetchItem re-reads a single open item for the sweep.
func (g *GitHubGateway) FetchItem(ctx context.Context, kind domain.EntityType, repo domain.RepoRef, key int64) ([]domain.Record, error) {
	recs, err := g.fetchItem(ctx, kind, repo, key)
	if err != nil {
		return nil, &domain.FetchError{Entity: kind, Repo: repo.String(), ID: strconv.FormatInt(key, 10), Err: err}
	}
	return recs, nil
}

func (g *GitHubGateway) fetchItem(ctx context.Context, kind domain.EntityType, repo domain.RepoRef, key int64) ([]domain.Record, error) {
	switch kind {
	case domain.EntityIssues:
		var is *github.Issue
		err := g.withRetry(ctx, "get issue "+repo.String(), func() error {
			var err error
			is, _, err = g.restClient.Issues.Get(ctx, repo.Owner, repo.Name, int(key))
			return err
		})
		if err != nil {
			return nil, err
		}
		rec := convertIssue(repo, is)
		if rec == nil {
			return nil, fmt.Errorf("%w: issue #%d", domain.ErrMalformed, key)
		}
		return []domain.Record{rec}, nil

	case domain.EntityPullRequests:
		recs, err := g.pullRequestRecords(ctx, repo, int(key))
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, fmt.Errorf("%w: pull request #%d", domain.ErrMalformed, key)
		}
		return recs, nil

	case domain.EntityCIRuns:
		var run *github.WorkflowRun
		err := g.withRetry(ctx, "get workflow run "+repo.String(), func() error {
			var err error
			run, _, err = g.restClient.Actions.GetWorkflowRunByID(ctx, repo.Owner, repo.Name, key)
			return err
		})
		if err != nil {
			return nil, err
		}
		rec := convertRun(repo, run)
		if rec == nil {
			return nil, fmt.Errorf("%w: workflow run %d", domain.ErrMalformed, key)
		}
		return []domain.Record{rec}, nil
	}
	return nil, fmt.Errorf("gateway: %s cannot be fetched by key", kind)
}

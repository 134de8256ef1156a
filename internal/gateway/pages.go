package gateway

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// REST streams carry the page number as their continuation token.
func pageNumber(token string) int {
	n, err := strconv.Atoi(token)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func nextToken(resp *github.Response) string {
	if resp == nil || resp.NextPage == 0 {
		return ""
	}
	return strconv.Itoa(resp.NextPage)
}

// fetchIssues lists issues oldest-update first. The issues endpoint also
// returns pull requests; pulls selects which of the two the page keeps.
func (g *GitHubGateway) fetchIssues(ctx context.Context, repo domain.RepoRef, cursor domain.PageCursor, pulls bool) (*Page, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "asc",
		Since:       cursor.Since,
		ListOptions: github.ListOptions{PerPage: perPage, Page: pageNumber(cursor.Token)},
	}
	var (
		issues []*github.Issue
		resp   *github.Response
	)
	err := g.withRetry(ctx, "list issues "+repo.String(), func() error {
		var err error
		issues, resp, err = g.restClient.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Next: nextToken(resp)}
	for _, is := range issues {
		if u := is.GetUpdatedAt().UTC(); is.UpdatedAt != nil && u.After(page.Until) {
			page.Until = u
		}
		if is.IsPullRequest() != pulls {
			continue
		}
		if !pulls {
			if rec := convertIssue(repo, is); rec != nil {
				page.Records = append(page.Records, rec)
			} else {
				g.logger.Warn("Dropping malformed issue", "repo", repo.String(), "number", is.GetNumber())
			}
			continue
		}
		recs, err := g.pullRequestRecords(ctx, repo, is.GetNumber())
		if errors.Is(err, domain.ErrNotFound) {
			g.logger.Warn("Pull request vanished while listing", "repo", repo.String(), "number", is.GetNumber())
			continue
		}
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, recs...)
	}
	return page, nil
}

// pullRequestRecords reads a pull request with its churn and all of its
// reviews. The pull request comes first in the result.
func (g *GitHubGateway) pullRequestRecords(ctx context.Context, repo domain.RepoRef, number int) ([]domain.Record, error) {
	var pr *github.PullRequest
	err := g.withRetry(ctx, "get pull request "+repo.String()+"#"+strconv.Itoa(number), func() error {
		var err error
		pr, _, err = g.restClient.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	rec := convertPullRequest(repo, pr)
	if rec == nil {
		g.logger.Warn("Dropping malformed pull request", "repo", repo.String(), "number", number)
		return nil, nil
	}

	reviews, err := g.listReviews(ctx, repo, rec)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(reviews)+1)
	out = append(out, rec)
	for _, r := range reviews {
		out = append(out, r)
	}
	return out, nil
}

// listReviews reads every submitted review of pr and fills in its first
// review and first approval timestamps. Reviews by the author do not count.
func (g *GitHubGateway) listReviews(ctx context.Context, repo domain.RepoRef, pr *domain.PullRequest) ([]*domain.Review, error) {
	opts := &github.ListOptions{PerPage: perPage}
	var out []*domain.Review
	for {
		var (
			reviews []*github.PullRequestReview
			resp    *github.Response
		)
		err := g.withRetry(ctx, "list reviews "+repo.String()+"#"+strconv.Itoa(pr.Number), func() error {
			var err error
			reviews, resp, err = g.restClient.PullRequests.ListReviews(ctx, repo.Owner, repo.Name, pr.Number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range reviews {
			rec := convertReview(repo, pr, r)
			if rec == nil {
				continue // pending reviews have no submission time
			}
			out = append(out, rec)
			if rec.Reviewer == pr.Author {
				continue
			}
			if pr.FirstReviewAt == nil || rec.SubmittedAt.Before(*pr.FirstReviewAt) {
				at := rec.SubmittedAt
				pr.FirstReviewAt = &at
			}
			if rec.State == domain.ReviewApproved && (pr.ApprovedAt == nil || rec.SubmittedAt.Before(*pr.ApprovedAt)) {
				at := rec.SubmittedAt
				pr.ApprovedAt = &at
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// fetchComments lists the repository-wide issue and pull request conversation.
func (g *GitHubGateway) fetchComments(ctx context.Context, repo domain.RepoRef, cursor domain.PageCursor) (*Page, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.String("updated"),
		Direction:   github.String("asc"),
		ListOptions: github.ListOptions{PerPage: perPage, Page: pageNumber(cursor.Token)},
	}
	if !cursor.Since.IsZero() {
		since := cursor.Since
		opts.Since = &since
	}
	var (
		comments []*github.IssueComment
		resp     *github.Response
	)
	err := g.withRetry(ctx, "list comments "+repo.String(), func() error {
		var err error
		comments, resp, err = g.restClient.Issues.ListComments(ctx, repo.Owner, repo.Name, 0, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Next: nextToken(resp)}
	for _, c := range comments {
		if u := c.GetUpdatedAt().UTC(); c.UpdatedAt != nil && u.After(page.Until) {
			page.Until = u
		}
		if rec := convertComment(repo, c); rec != nil {
			page.Records = append(page.Records, rec)
		} else {
			g.logger.Warn("Dropping malformed comment", "repo", repo.String(), "id", c.GetID())
		}
	}
	return page, nil
}

// fetchCommits lists default-branch commits newest first.
func (g *GitHubGateway) fetchCommits(ctx context.Context, repo domain.RepoRef, cursor domain.PageCursor) (*Page, error) {
	opts := &github.CommitsListOptions{
		Since:       cursor.Since,
		ListOptions: github.ListOptions{PerPage: perPage, Page: pageNumber(cursor.Token)},
	}
	var (
		commits []*github.RepositoryCommit
		resp    *github.Response
	)
	err := g.withRetry(ctx, "list commits "+repo.String(), func() error {
		var err error
		commits, resp, err = g.restClient.Repositories.ListCommits(ctx, repo.Owner, repo.Name, opts)
		return err
	})
	if err != nil {
		// An empty repository has no default branch to list.
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == 409 {
			return &Page{}, nil
		}
		return nil, err
	}

	page := &Page{Next: nextToken(resp)}
	for _, c := range commits {
		if rec := convertCommit(repo, c); rec != nil {
			page.Records = append(page.Records, rec)
		} else {
			g.logger.Warn("Dropping malformed commit", "repo", repo.String(), "sha", c.GetSHA())
		}
	}
	return page, nil
}

// fetchCIRuns lists workflow runs newest first, created on or after the
// cursor's day.
func (g *GitHubGateway) fetchCIRuns(ctx context.Context, repo domain.RepoRef, cursor domain.PageCursor) (*Page, error) {
	opts := &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{PerPage: perPage, Page: pageNumber(cursor.Token)},
	}
	if !cursor.Since.IsZero() {
		opts.Created = ">=" + cursor.Since.UTC().Format(domain.DateLayout)
	}
	var (
		runs *github.WorkflowRuns
		resp *github.Response
	)
	err := g.withRetry(ctx, "list workflow runs "+repo.String(), func() error {
		var err error
		runs, resp, err = g.restClient.Actions.ListRepositoryWorkflowRuns(ctx, repo.Owner, repo.Name, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Next: nextToken(resp)}
	for _, r := range runs.WorkflowRuns {
		if rec := convertRun(repo, r); rec != nil {
			page.Records = append(page.Records, rec)
		} else {
			g.logger.Warn("Dropping malformed workflow run", "repo", repo.String(), "id", r.GetID())
		}
	}
	return page, nil
}

func optTime(t *github.Timestamp) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

package gateway

import (
	"path"
	"strconv"
	"strings"

	"github.com/google/go-github/v62/github"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// The converters return nil for records missing their identity or creation
// time; callers drop those with a warning.

func labelNames(labels []*github.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.GetName())
	}
	return out
}

func convertIssue(repo domain.RepoRef, is *github.Issue) *domain.Issue {
	if is.GetID() == 0 || is.GetNumber() == 0 || is.CreatedAt == nil || is.UpdatedAt == nil {
		return nil
	}
	state := domain.StateOpen
	if is.GetState() == "closed" {
		state = domain.StateClosed
	}
	return &domain.Issue{
		ID:        is.GetID(),
		Repo:      repo.String(),
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		Author:    is.GetUser().GetLogin(),
		State:     state,
		CreatedAt: is.GetCreatedAt().UTC(),
		UpdatedAt: is.GetUpdatedAt().UTC(),
		ClosedAt:  optTime(is.ClosedAt),
		Labels:    labelNames(is.Labels),
	}
}

func convertPullRequest(repo domain.RepoRef, pr *github.PullRequest) *domain.PullRequest {
	if pr.GetID() == 0 || pr.GetNumber() == 0 || pr.CreatedAt == nil || pr.UpdatedAt == nil {
		return nil
	}
	state := domain.StateOpen
	switch {
	case pr.MergedAt != nil:
		state = domain.StateMerged
	case pr.GetState() == "closed":
		state = domain.StateClosed
	}
	return &domain.PullRequest{
		ID:        pr.GetID(),
		Repo:      repo.String(),
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Author:    pr.GetUser().GetLogin(),
		State:     state,
		CreatedAt: pr.GetCreatedAt().UTC(),
		UpdatedAt: pr.GetUpdatedAt().UTC(),
		ClosedAt:  optTime(pr.ClosedAt),
		MergedAt:  optTime(pr.MergedAt),
		Labels:    labelNames(pr.Labels),
		Additions: pr.GetAdditions(),
		Deletions: pr.GetDeletions(),
	}
}

func convertReview(repo domain.RepoRef, pr *domain.PullRequest, r *github.PullRequestReview) *domain.Review {
	if r.GetID() == 0 || r.SubmittedAt == nil || strings.EqualFold(r.GetState(), "PENDING") {
		return nil
	}
	return &domain.Review{
		ID:            r.GetID(),
		Repo:          repo.String(),
		PullRequestID: pr.ID,
		PRNumber:      pr.Number,
		Reviewer:      r.GetUser().GetLogin(),
		State:         strings.ToLower(r.GetState()),
		SubmittedAt:   r.GetSubmittedAt().UTC(),
	}
}

// convertComment derives the parent number from the comment's issue URL,
// which ends in /issues/<number> for both issues and pull requests.
func convertComment(repo domain.RepoRef, c *github.IssueComment) *domain.Comment {
	if c.GetID() == 0 || c.CreatedAt == nil {
		return nil
	}
	parent, err := strconv.Atoi(path.Base(c.GetIssueURL()))
	if err != nil {
		return nil
	}
	updated := c.GetCreatedAt().UTC()
	if c.UpdatedAt != nil {
		updated = c.GetUpdatedAt().UTC()
	}
	return &domain.Comment{
		ID:           c.GetID(),
		Repo:         repo.String(),
		ParentNumber: parent,
		Author:       c.GetUser().GetLogin(),
		CreatedAt:    c.GetCreatedAt().UTC(),
		UpdatedAt:    updated,
	}
}

func convertCommit(repo domain.RepoRef, c *github.RepositoryCommit) *domain.Commit {
	if c.GetSHA() == "" || c.GetCommit() == nil {
		return nil
	}
	date := c.GetCommit().GetCommitter().GetDate()
	if date.IsZero() {
		date = c.GetCommit().GetAuthor().GetDate()
	}
	if date.IsZero() {
		return nil
	}
	author := c.GetAuthor().GetLogin()
	if author == "" {
		author = c.GetCommit().GetAuthor().GetName()
	}
	return &domain.Commit{
		SHA:         c.GetSHA(),
		Repo:        repo.String(),
		Author:      author,
		CommittedAt: date.UTC(),
	}
}

// convertRun keeps the conclusion empty until the run has completed.
func convertRun(repo domain.RepoRef, r *github.WorkflowRun) *domain.CIRun {
	if r.GetID() == 0 || r.CreatedAt == nil {
		return nil
	}
	run := &domain.CIRun{
		ID:        r.GetID(),
		Repo:      repo.String(),
		HeadSHA:   r.GetHeadSHA(),
		CreatedAt: r.GetCreatedAt().UTC(),
		UpdatedAt: r.GetCreatedAt().UTC(),
		StartedAt: r.GetCreatedAt().UTC(),
	}
	if r.UpdatedAt != nil {
		run.UpdatedAt = r.GetUpdatedAt().UTC()
	}
	if r.RunStartedAt != nil {
		run.StartedAt = r.GetRunStartedAt().UTC()
	}
	if r.GetStatus() == "completed" {
		run.Conclusion = r.GetConclusion()
		if run.Conclusion == "" {
			run.Conclusion = "neutral"
		}
		completed := run.UpdatedAt
		run.CompletedAt = &completed
	}
	return run
}

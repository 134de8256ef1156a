package gateway

import (
	"context"

	"github.com/shurcooL/githubv4"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// stargazersQuery walks the stargazer connection oldest star first.
type stargazersQuery struct {
	Repository struct {
		Stargazers struct {
			PageInfo struct {
				HasNextPage bool
				EndCursor   githubv4.String
			}
			Edges []struct {
				StarredAt githubv4.DateTime
				Node      struct {
					Login githubv4.String
				}
			}
		} `graphql:"stargazers(first: 100, after: $cursor, orderBy: {field: STARRED_AT, direction: ASC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// fetchStargazers pages through star events. The stargazer connection cannot
// be filtered by time, so the page's end cursor is handed back as Resume and
// the next sync starts after it.
func (g *GitHubGateway) fetchStargazers(ctx context.Context, repo domain.RepoRef, cursor domain.PageCursor) (*Page, error) {
	variables := map[string]interface{}{
		"owner":  githubv4.String(repo.Owner),
		"name":   githubv4.String(repo.Name),
		"cursor": (*githubv4.String)(nil),
	}
	if cursor.Token != "" {
		variables["cursor"] = githubv4.NewString(githubv4.String(cursor.Token))
	}

	var q stargazersQuery
	err := g.withRetry(ctx, "list stargazers "+repo.String(), func() error {
		return g.graphqlClient.Query(ctx, &q, variables)
	})
	if err != nil {
		return nil, err
	}

	conn := q.Repository.Stargazers
	page := &Page{Resume: string(conn.PageInfo.EndCursor)}
	if conn.PageInfo.HasNextPage {
		page.Next = string(conn.PageInfo.EndCursor)
	}
	for _, edge := range conn.Edges {
		login := string(edge.Node.Login)
		if login == "" || edge.StarredAt.IsZero() {
			g.logger.Warn("Dropping malformed star event", "repo", repo.String())
			continue
		}
		page.Records = append(page.Records, &domain.StarEvent{
			Repo:      repo.String(),
			User:      login,
			StarredAt: edge.StarredAt.UTC(),
		})
	}
	return page, nil
}

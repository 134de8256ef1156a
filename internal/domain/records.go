package domain

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Issue and pull request states. A row only ever moves to a state of higher rank.
const (
	StateOpen   = "open"
	StateMerged = "merged"
	StateClosed = "closed"
)

// StateRank orders states along the allowed forward transitions.
func StateRank(state string) int {
	switch state {
	case StateOpen:
		return 0
	case StateMerged:
		return 1
	default:
		return 2
	}
}

// Row is the column image of a record: target table, natural key and values in
// column order. It is the common contract every record variant upserts through.
type Row struct {
	Table   string
	Keys    []string
	Columns []string
	Values  []any
}

// Record is one upstream row ready for upsert. The set of implementations is closed.
type Record interface {
	Kind() EntityType
	// Identity is unique per record across every table.
	Identity() string
	// Watermark is the timestamp the sync cursor advances to.
	Watermark() time.Time
	Row() Row
	record()
}

// Authored is implemented by records whose author decides the community flag.
type Authored interface {
	Record
	AuthorLogin() string
	SetCommunity(bool)
}

// Repository is the root of all scoping.
type Repository struct {
	Name          string
	DefaultBranch string
	Visibility    string
}

func (r *Repository) Kind() EntityType     { return EntityRepositories }
func (r *Repository) Identity() string     { return "repositories:" + r.Name }
func (r *Repository) Watermark() time.Time { return time.Time{} }
func (r *Repository) record()              {}

func (r *Repository) Row() Row {
	return Row{
		Table:   "repositories",
		Keys:    []string{"name"},
		Columns: []string{"name", "default_branch", "visibility"},
		Values:  []any{r.Name, r.DefaultBranch, r.Visibility},
	}
}

// Issue is an upstream issue (pull requests excluded).
type Issue struct {
	ID          int64
	Repo        string
	Number      int
	Title       string
	Author      string
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
	Labels      []string
	IsCommunity bool
}

func (i *Issue) Kind() EntityType      { return EntityIssues }
func (i *Issue) Identity() string      { return "issues:" + i.Repo + ":" + strconv.FormatInt(i.ID, 10) }
func (i *Issue) Watermark() time.Time  { return i.UpdatedAt }
func (i *Issue) AuthorLogin() string   { return i.Author }
func (i *Issue) SetCommunity(yes bool) { i.IsCommunity = yes }
func (i *Issue) record()               {}

func (i *Issue) Row() Row {
	return Row{
		Table: "issues",
		Keys:  []string{"repo", "id"},
		Columns: []string{"repo", "id", "number", "title", "author", "state",
			"created_at", "updated_at", "closed_at", "labels", "is_community"},
		Values: []any{i.Repo, i.ID, i.Number, i.Title, i.Author, i.State,
			FormatTime(i.CreatedAt), FormatTime(i.UpdatedAt), FormatOptionalTime(i.ClosedAt),
			encodeLabels(i.Labels), i.IsCommunity},
	}
}

// PullRequest is an upstream pull request with churn and review timestamps.
type PullRequest struct {
	ID            int64
	Repo          string
	Number        int
	Title         string
	Author        string
	State         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
	MergedAt      *time.Time
	Labels        []string
	Additions     int
	Deletions     int
	FirstReviewAt *time.Time
	ApprovedAt    *time.Time
	IsCommunity   bool
}

func (p *PullRequest) Kind() EntityType { return EntityPullRequests }
func (p *PullRequest) Identity() string {
	return "pull_requests:" + p.Repo + ":" + strconv.FormatInt(p.ID, 10)
}
func (p *PullRequest) Watermark() time.Time  { return p.UpdatedAt }
func (p *PullRequest) AuthorLogin() string   { return p.Author }
func (p *PullRequest) SetCommunity(yes bool) { p.IsCommunity = yes }
func (p *PullRequest) record()               {}

func (p *PullRequest) Row() Row {
	return Row{
		Table: "pull_requests",
		Keys:  []string{"repo", "id"},
		Columns: []string{"repo", "id", "number", "title", "author", "state",
			"created_at", "updated_at", "closed_at", "merged_at", "labels",
			"additions", "deletions", "first_review_at", "approved_at", "is_community"},
		Values: []any{p.Repo, p.ID, p.Number, p.Title, p.Author, p.State,
			FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt), FormatOptionalTime(p.ClosedAt),
			FormatOptionalTime(p.MergedAt), encodeLabels(p.Labels),
			p.Additions, p.Deletions, FormatOptionalTime(p.FirstReviewAt),
			FormatOptionalTime(p.ApprovedAt), p.IsCommunity},
	}
}

// Review states, normalized to lower case.
const (
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
	ReviewCommented        = "commented"
	ReviewDismissed        = "dismissed"
)

// Review is a submitted pull request review.
type Review struct {
	ID            int64
	Repo          string
	PullRequestID int64
	PRNumber      int
	Reviewer      string
	State         string
	SubmittedAt   time.Time
}

func (r *Review) Kind() EntityType     { return EntityReviews }
func (r *Review) Identity() string     { return "reviews:" + r.Repo + ":" + strconv.FormatInt(r.ID, 10) }
func (r *Review) Watermark() time.Time { return r.SubmittedAt }
func (r *Review) record()              {}

func (r *Review) Row() Row {
	return Row{
		Table:   "reviews",
		Keys:    []string{"repo", "id"},
		Columns: []string{"repo", "id", "pull_request_id", "pr_number", "reviewer", "state", "submitted_at"},
		Values: []any{r.Repo, r.ID, r.PullRequestID, r.PRNumber, r.Reviewer, r.State,
			FormatTime(r.SubmittedAt)},
	}
}

// Comment is a conversation comment on an issue or pull request.
type Comment struct {
	ID           int64
	Repo         string
	ParentNumber int
	Author       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Comment) Kind() EntityType     { return EntityComments }
func (c *Comment) Identity() string     { return "comments:" + c.Repo + ":" + strconv.FormatInt(c.ID, 10) }
func (c *Comment) Watermark() time.Time { return c.UpdatedAt }
func (c *Comment) record()              {}

func (c *Comment) Row() Row {
	return Row{
		Table:   "comments",
		Keys:    []string{"repo", "id"},
		Columns: []string{"repo", "id", "parent_number", "author", "created_at", "updated_at"},
		Values: []any{c.Repo, c.ID, c.ParentNumber, c.Author,
			FormatTime(c.CreatedAt), FormatTime(c.UpdatedAt)},
	}
}

// Commit is a commit on the default branch.
type Commit struct {
	SHA         string
	Repo        string
	Author      string
	CommittedAt time.Time
}

func (c *Commit) Kind() EntityType     { return EntityCommits }
func (c *Commit) Identity() string     { return "commits:" + c.Repo + ":" + c.SHA }
func (c *Commit) Watermark() time.Time { return c.CommittedAt }
func (c *Commit) record()              {}

func (c *Commit) Row() Row {
	return Row{
		Table:   "commits",
		Keys:    []string{"repo", "sha"},
		Columns: []string{"repo", "sha", "author", "committed_at"},
		Values:  []any{c.Repo, c.SHA, c.Author, FormatTime(c.CommittedAt)},
	}
}

// CI run conclusions counted as failures by the aggregation.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionTimedOut  = "timed_out"
)

// CIRun is one workflow run. Conclusion is empty while the run is in progress.
type CIRun struct {
	ID          int64
	Repo        string
	HeadSHA     string
	Conclusion  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt *time.Time
}

func (r *CIRun) Kind() EntityType { return EntityCIRuns }
func (r *CIRun) Identity() string { return "ci_runs:" + r.Repo + ":" + strconv.FormatInt(r.ID, 10) }

// Watermark is the creation time: runs are listed by creation, not by update.
func (r *CIRun) Watermark() time.Time { return r.CreatedAt }
func (r *CIRun) record()              {}

func (r *CIRun) Row() Row {
	return Row{
		Table: "ci_runs",
		Keys:  []string{"repo", "id"},
		Columns: []string{"repo", "id", "head_sha", "conclusion", "created_at", "updated_at",
			"started_at", "completed_at"},
		Values: []any{r.Repo, r.ID, r.HeadSHA, r.Conclusion, FormatTime(r.CreatedAt),
			FormatTime(r.UpdatedAt), FormatTime(r.StartedAt), FormatOptionalTime(r.CompletedAt)},
	}
}

// StarEvent records one user starring a repository. Append-only.
type StarEvent struct {
	Repo      string
	User      string
	StarredAt time.Time
}

func (s *StarEvent) Kind() EntityType     { return EntityStars }
func (s *StarEvent) Identity() string     { return "stars:" + s.Repo + ":" + s.User }
func (s *StarEvent) Watermark() time.Time { return s.StarredAt }
func (s *StarEvent) record()              {}

func (s *StarEvent) Row() Row {
	return Row{
		Table:   "star_events",
		Keys:    []string{"repo", "user"},
		Columns: []string{"repo", "user", "starred_at"},
		Values:  []any{s.Repo, s.User, FormatTime(s.StarredAt)},
	}
}

// encodeLabels stores labels as a sorted JSON array so re-applying the same
// record writes identical bytes.
func encodeLabels(labels []string) string {
	sorted := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			sorted = append(sorted, l)
		}
	}
	sort.Strings(sorted)
	b, _ := json.Marshal(sorted)
	return string(b)
}

// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType names a kind of upstream row. Synced entity types also key a SyncCursor.
type EntityType string

const (
	EntityRepositories EntityType = "repositories"
	EntityIssues       EntityType = "issues"
	EntityPullRequests EntityType = "pull_requests"
	EntityReviews      EntityType = "reviews"
	EntityComments     EntityType = "comments"
	EntityCommits      EntityType = "commits"
	EntityCIRuns       EntityType = "ci_runs"
	EntityStars        EntityType = "stars"
)

// SyncedEntities lists the entity types that own a cursor, in the order they are synced.
// Reviews ride along with pull requests and have no cursor of their own.
var SyncedEntities = []EntityType{
	EntityIssues,
	EntityPullRequests,
	EntityComments,
	EntityCommits,
	EntityCIRuns,
	EntityStars,
}

// Ascending reports whether the upstream stream for e is ordered oldest-first.
// Descending streams can only advance their cursor once the stream is exhausted.
func (e EntityType) Ascending() bool {
	switch e {
	case EntityCommits, EntityCIRuns:
		return false
	default:
		return true
	}
}

// RepoRef identifies a repository as owner/name.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoRef parses "owner/name". A bare name is resolved against defaultOwner.
func ParseRepoRef(s, defaultOwner string) (RepoRef, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "/")
	switch {
	case len(parts) == 1 && parts[0] != "" && defaultOwner != "":
		return RepoRef{Owner: defaultOwner, Name: parts[0]}, nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return RepoRef{Owner: parts[0], Name: parts[1]}, nil
	}
	return RepoRef{}, &ConfigError{Source: "repos", Reason: fmt.Sprintf("invalid repository %q, expected 'owner/name'", s)}
}

// SyncCursor is the persisted watermark for one (entity type, repository) pair.
type SyncCursor struct {
	Entity    EntityType
	Repo      string
	UpdatedAt time.Time
	Token     string
}

// PageCursor is what a page request carries: the watermark filter plus the
// continuation token of the previous page.
type PageCursor struct {
	Since time.Time
	Token string
}

const (
	// TimeLayout is the fixed-width UTC layout every timestamp is stored with,
	// so that lexical order in the database equals time order.
	TimeLayout = "2006-01-02T15:04:05Z"
	DateLayout = "2006-01-02"
)

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatOptionalTime renders t in TimeLayout, or returns nil for a nil pointer.
func FormatOptionalTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime parses a timestamp stored with TimeLayout (or any RFC3339 value).
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, s)
	}
	return t.UTC(), nil
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

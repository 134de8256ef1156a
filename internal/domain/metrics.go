package domain

import (
	"sort"
	"strings"
	"time"
)

// DailyMetric holds every derived value for one repository and one UTC day.
// Rows are recomputed wholesale and never patched. Nil pointers mean "no data"
// (for example no PR merged that day) and are stored as NULL.
type DailyMetric struct {
	Repo                  string
	Date                  time.Time
	PRsOpened             int
	PRsMerged             int
	PRsClosed             int
	IssuesOpened          int
	IssuesClosed          int
	Commits               int
	AvgMergeTimeHours     *float64
	MedianMergeTimeHours  *float64
	AvgFirstResponseHours *float64
	CIRuns                int
	CIFailureRate         *float64
	CodeChurn             int
	CumulativeStars       int
	CommunityPRPct        *float64
	OpenPRs               int
	OpenIssues            int
}

// Direction says which side of a goal threshold is good.
type Direction string

const (
	LowerIsBetter  Direction = "lower_is_better"
	HigherIsBetter Direction = "higher_is_better"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == LowerIsBetter || d == HigherIsBetter
}

// Goal is a threshold line the dashboard draws for one metric.
type Goal struct {
	Metric       string
	Value        float64
	Direction    Direction
	WarningRatio float64
}

// TeamRoster is the immutable set of internal accounts.
type TeamRoster struct {
	members map[string]struct{}
}

// NewTeamRoster builds a roster. Logins are trimmed and compared case-insensitively.
func NewTeamRoster(logins []string) TeamRoster {
	members := make(map[string]struct{}, len(logins))
	for _, l := range logins {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			members[l] = struct{}{}
		}
	}
	return TeamRoster{members: members}
}

// IsMember reports whether login belongs to the team.
func (t TeamRoster) IsMember(login string) bool {
	_, ok := t.members[strings.ToLower(login)]
	return ok
}

// IsCommunity reports whether an author counts as community: not on the roster
// and not an automation account.
func (t TeamRoster) IsCommunity(login string) bool {
	if login == "" || strings.HasSuffix(login, "[bot]") {
		return false
	}
	return !t.IsMember(login)
}

// Members returns the roster sorted.
func (t TeamRoster) Members() []string {
	out := make([]string, 0, len(t.members))
	for m := range t.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Len is the number of members.
func (t TeamRoster) Len() int {
	return len(t.members)
}

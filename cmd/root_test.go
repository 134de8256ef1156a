package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the command tree against a fresh database in a temp dir and
// returns what the command printed to stdout.
func execute(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--db-path", db))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestGoalsRoundTrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metrics.db")
	goals := writeFile(t, "goals.yaml", `
avg_merge_time_hours:
  value: 24
  direction: lower_is_better
community_pr_pct:
  value: 30
  direction: higher_is_better
  warning_ratio: 0.5
`)

	_, err := execute(t, db, "load-goals", goals)
	require.NoError(t, err)

	out, err := execute(t, db, "list-goals")
	require.NoError(t, err)
	assert.Contains(t, out, "avg_merge_time_hours")
	assert.Contains(t, out, "24")
	assert.Contains(t, out, "lower_is_better")
	assert.Contains(t, out, "0.8")
	assert.Contains(t, out, "community_pr_pct")
	assert.Contains(t, out, "0.5")
}

func TestLoadGoals_InvalidFileLeavesStoreUntouched(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metrics.db")
	_, err := execute(t, db, "load-goals", writeFile(t, "goals.yaml", "ci_failure_rate:\n  value: 0.1\n  direction: up\n"))
	require.Error(t, err)

	out, err := execute(t, db, "query", "SELECT COUNT(*) AS n FROM goals")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 rows)")
	assert.Contains(t, out, "0")
}

func TestQuery(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metrics.db")

	out, err := execute(t, db, "query", "SELECT 1 + 1 AS two, 'x' AS letter")
	require.NoError(t, err)
	assert.Contains(t, out, "two")
	assert.Contains(t, out, "letter")
	assert.Contains(t, out, "2")

	_, err = execute(t, db, "query", "DELETE FROM goals")
	require.Error(t, err)

	_, err = execute(t, db, "query")
	require.Error(t, err)
}

func TestLoadTeam_Members(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metrics.db")

	_, err := execute(t, db, "load-team", "--members", " Alice ,bob,,alice")
	require.NoError(t, err)

	out, err := execute(t, db, "query", "SELECT COUNT(*) AS members FROM team_members")
	require.NoError(t, err)
	assert.Contains(t, out, "2")
}

func TestSync_WithoutTokenIsANoop(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	db := filepath.Join(t.TempDir(), "metrics.db")

	_, err := execute(t, db, "sync")
	require.NoError(t, err)

	out, err := execute(t, db, "query", "SELECT COUNT(*) AS cursors FROM sync_cursors")
	require.NoError(t, err)
	assert.Contains(t, out, "0")
}
